// Package testutil builds synthetic slice datasets on disk for tests.
package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// SliceSpec describes one synthetic sidecar slice
type SliceSpec struct {
	Name         string
	Rows, Cols   int
	Position     [3]float64
	PixelSpacing []float64
	Thickness    *float64
	PatientID    string

	// Pixel returns the intensity at (row, col)
	Pixel func(row, col int) uint16
}

// WriteSidecarSlice writes a 16-bit PNG and its YAML sidecar into dir
func WriteSidecarSlice(t testing.TB, dir string, desc SliceSpec) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create slice dir: %v", err)
	}

	img := image.NewGray16(image.Rect(0, 0, desc.Cols, desc.Rows))
	for y := 0; y < desc.Rows; y++ {
		for x := 0; x < desc.Cols; x++ {
			var v uint16
			if desc.Pixel != nil {
				v = desc.Pixel(y, x)
			}
			img.SetGray16(x, y, color.Gray16{Y: v})
		}
	}

	imgPath := filepath.Join(dir, desc.Name+".png")
	f, err := os.Create(imgPath)
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		t.Fatalf("Failed to encode image: %v", err)
	}
	f.Close()

	meta := map[string]interface{}{
		"position": desc.Position[:],
	}
	if desc.PixelSpacing != nil {
		meta["pixel_spacing"] = desc.PixelSpacing
	}
	if desc.Thickness != nil {
		meta["slice_thickness"] = *desc.Thickness
	}
	if desc.PatientID != "" {
		meta["patient_id"] = desc.PatientID
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		t.Fatalf("Failed to marshal sidecar: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, desc.Name+".yaml"), data, 0644); err != nil {
		t.Fatalf("Failed to write sidecar: %v", err)
	}
	return imgPath
}

// SphereSlices writes n slices of rows x cols with a bright sphere of the
// given radius centred in the stack. Slices are written in reverse
// position order so that callers exercise sorting.
func SphereSlices(t testing.TB, dir string, n, rows, cols int, radius, sliceGap float64) {
	t.Helper()

	cz := float64(n-1) / 2
	cy := float64(rows-1) / 2
	cx := float64(cols-1) / 2
	for i := n - 1; i >= 0; i-- {
		z := i
		WriteSidecarSlice(t, dir, SliceSpec{
			Name:         fmt.Sprintf("slice_%03d", n-1-i),
			Rows:         rows,
			Cols:         cols,
			Position:     [3]float64{0, 0, float64(z) * sliceGap},
			PixelSpacing: []float64{1, 1},
			Pixel: func(row, col int) uint16 {
				dz := (float64(z) - cz) * sliceGap
				d := math.Sqrt(dz*dz + (float64(row)-cy)*(float64(row)-cy) + (float64(col)-cx)*(float64(col)-cx))
				if d < radius {
					return 1000
				}
				return 0
			},
		})
	}
}
