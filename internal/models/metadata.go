package models

// Metadata is the key-value summary stored next to a reconstructed volume
type Metadata struct {
	DatasetID  string     `json:"dataset_id"`
	PatientID  string     `json:"patient_id"`
	Modality   string     `json:"modality"`
	StudyUID   string     `json:"study_uid,omitempty"`
	SeriesUID  string     `json:"series_uid,omitempty"`
	SliceCount int        `json:"slice_count"`
	VoxelSize  string     `json:"voxel_size"`
	Spacing    [3]float64 `json:"spacing_tuple"`
	Shape      [3]int     `json:"shape"`

	IntensityMin  float64 `json:"intensity_min"`
	IntensityMax  float64 `json:"intensity_max"`
	IntensityMean float64 `json:"intensity_mean"`
}

// SpacingValue returns the stored spacing triple as a Spacing
func (m *Metadata) SpacingValue() Spacing {
	return Spacing{Z: m.Spacing[0], Y: m.Spacing[1], X: m.Spacing[2]}
}

// WarningKind classifies non-fatal pipeline conditions
type WarningKind string

const (
	// SpacingAnomaly means the derived slice spacing was replaced by the fallback
	SpacingAnomaly WarningKind = "spacing_anomaly"

	// SmoothingDegraded means smoothing failed and the raw mesh was used
	SmoothingDegraded WarningKind = "smoothing_degraded"
)

// Warning is a non-fatal condition surfaced to the caller
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return string(w.Kind) + ": " + w.Message
}
