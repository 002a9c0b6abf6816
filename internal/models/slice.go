package models

import (
	"fmt"
)

// Slice represents a single cross-sectional image with its spatial metadata
type Slice struct {
	// Pixels holds the intensity samples in row-major order
	Pixels []float64

	// Rows and Cols are the dimensions of the pixel grid
	Rows int
	Cols int

	// Position is the 3D position of the slice origin. Only the third
	// component (the stacking axis) is used for ordering.
	Position [3]float64

	// PixelSpacing is the (row, column) spacing in mm, nil when the source
	// does not carry it
	PixelSpacing *[2]float64

	// Thickness is the physical slice thickness in mm, nil when absent
	Thickness *float64

	// Path is the file the slice was read from
	Path string

	// Identifiers copied into the dataset metadata summary
	PatientID string
	Modality  string
	StudyUID  string
	SeriesUID string
}

// StackPosition returns the slice position along the stacking axis
func (s *Slice) StackPosition() float64 {
	return s.Position[2]
}

// Validate checks that the pixel buffer matches the declared shape
func (s *Slice) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("slice %s: invalid shape %dx%d", s.Path, s.Rows, s.Cols)
	}
	if len(s.Pixels) != s.Rows*s.Cols {
		return fmt.Errorf("slice %s: %d samples for shape %dx%d", s.Path, len(s.Pixels), s.Rows, s.Cols)
	}
	return nil
}

// Spacing is the physical distance in mm between adjacent samples along
// each volume axis
type Spacing struct {
	Z, Y, X float64
}

// DefaultSpacing is the isotropic 1 mm spacing used when nothing better is known
func DefaultSpacing() Spacing {
	return Spacing{Z: 1, Y: 1, X: 1}
}

// Validate enforces that every component is strictly positive
func (s Spacing) Validate() error {
	if !(s.Z > 0 && s.Y > 0 && s.X > 0) {
		return fmt.Errorf("invalid spacing (%g, %g, %g): components must be > 0", s.Z, s.Y, s.X)
	}
	return nil
}

// Tuple returns the spacing as (z, y, x)
func (s Spacing) Tuple() [3]float64 {
	return [3]float64{s.Z, s.Y, s.X}
}

// VoxelSize formats the spacing the way the viewer displays it, X first
func (s Spacing) VoxelSize() string {
	return fmt.Sprintf("%.2f x %.2f x %.2f mm", s.X, s.Y, s.Z)
}

// Volume represents a 3D scalar grid built by stacking slices
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order,
	// indexed z*Height*Width + y*Width + x
	Data []float64

	// Depth is the number of slices
	Depth int

	// Height and Width are the rows and columns shared by every slice
	Height int
	Width  int
}

// NewVolume allocates a zero-filled volume
func NewVolume(depth, height, width int) *Volume {
	return &Volume{
		Data:   make([]float64, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
	}
}

// Index returns the offset of voxel (z, y, x) in Data
func (v *Volume) Index(z, y, x int) int {
	return (z*v.Height+y)*v.Width + x
}

// At returns the voxel value at (z, y, x)
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[v.Index(z, y, x)]
}

// Shape returns (depth, height, width)
func (v *Volume) Shape() [3]int {
	return [3]int{v.Depth, v.Height, v.Width}
}

// Validate checks that Data matches the declared dimensions
func (v *Volume) Validate() error {
	if v.Depth <= 0 || v.Height <= 0 || v.Width <= 0 {
		return fmt.Errorf("invalid volume shape %dx%dx%d", v.Depth, v.Height, v.Width)
	}
	if len(v.Data) != v.Depth*v.Height*v.Width {
		return fmt.Errorf("volume holds %d samples for shape %dx%dx%d", len(v.Data), v.Depth, v.Height, v.Width)
	}
	return nil
}
