package ingest

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"neuromesh/internal/models"
)

var sidecarImageExts = map[string]bool{
	".png":  true,
	".tif":  true,
	".tiff": true,
}

// SidecarMeta is the YAML document stored next to an image slice, e.g.
//
//	position: [-120.0, -120.0, 42.5]
//	pixel_spacing: [0.9375, 0.9375]
//	slice_thickness: 3.0
//	patient_id: PAT-001
type SidecarMeta struct {
	Position       []float64 `yaml:"position"`
	PixelSpacing   []float64 `yaml:"pixel_spacing,omitempty"`
	SliceThickness *float64  `yaml:"slice_thickness,omitempty"`
	PatientID      string    `yaml:"patient_id,omitempty"`
	Modality       string    `yaml:"modality,omitempty"`
	StudyUID       string    `yaml:"study_uid,omitempty"`
	SeriesUID      string    `yaml:"series_uid,omitempty"`
}

// Sidecar reads grayscale PNG or TIFF slices whose spatial metadata lives in
// a YAML file with the same base name (slice_003.png + slice_003.yaml)
type Sidecar struct{}

// Name implements Format
func (Sidecar) Name() string { return "sidecar" }

// Probe accepts image files that have a sidecar next to them
func (Sidecar) Probe(path string) bool {
	if !sidecarImageExts[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	_, ok := findSidecar(path)
	return ok
}

// Read decodes the image and its sidecar
func (Sidecar) Read(path string) (*models.Slice, error) {
	metaPath, ok := findSidecar(path)
	if !ok {
		return nil, ErrMissingPosition
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var meta SidecarMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse sidecar %s: %w", metaPath, err)
	}
	if len(meta.Position) != 3 {
		return nil, ErrMissingPosition
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	s := &models.Slice{
		Position:  [3]float64{meta.Position[0], meta.Position[1], meta.Position[2]},
		Thickness: meta.SliceThickness,
		PatientID: meta.PatientID,
		Modality:  meta.Modality,
		StudyUID:  meta.StudyUID,
		SeriesUID: meta.SeriesUID,
	}
	if len(meta.PixelSpacing) == 2 {
		s.PixelSpacing = &[2]float64{meta.PixelSpacing[0], meta.PixelSpacing[1]}
	}
	s.Pixels, s.Rows, s.Cols = imageIntensities(img)
	if len(s.Pixels) == 0 {
		return nil, ErrMissingPixels
	}
	return s, nil
}

func findSidecar(path string) (string, bool) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, candidate := range []string{base + ".yaml", base + ".yml", path + ".yaml"} {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// imageIntensities converts an image to row-major grayscale samples,
// keeping 16-bit precision for 16-bit sources
func imageIntensities(img image.Image) ([]float64, int, int) {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	out := make([]float64, rows*cols)

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				out[y*cols+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				out[y*cols+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				out[y*cols+x] = float64(g.Y)
			}
		}
	}
	return out, rows, cols
}
