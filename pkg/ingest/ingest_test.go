package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"neuromesh/internal/testutil"
)

func mustElement(t *testing.T, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	el, err := dicom.NewElement(tg, data)
	if err != nil {
		t.Fatalf("Failed to build element %v: %v", tg, err)
	}
	return el
}

func nativePixels(rows, cols int) dicom.PixelDataInfo {
	data := make([][]int, rows*cols)
	for i := range data {
		data[i] = []int{i + 1}
	}
	return dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				NativeData: frame.NativeFrame{
					Data:          data,
					Rows:          rows,
					Cols:          cols,
					BitsPerSample: 16,
				},
			},
		},
	}
}

func TestSliceFromDataset(t *testing.T) {
	ds := &dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.ImagePositionPatient, []string{"-10", "5", " 42.5"}),
		mustElement(t, tag.PixelSpacing, []string{"0.5", "0.75"}),
		mustElement(t, tag.SliceThickness, []string{"2.5"}),
		mustElement(t, tag.PatientID, []string{"PAT-1"}),
		mustElement(t, tag.Modality, []string{"MR"}),
		mustElement(t, tag.PixelData, nativePixels(2, 3)),
	}}

	s, err := SliceFromDataset(ds)
	if err != nil {
		t.Fatalf("SliceFromDataset: %v", err)
	}

	if s.Rows != 2 || s.Cols != 3 {
		t.Errorf("Expected 2x3 slice, got %dx%d", s.Rows, s.Cols)
	}
	if s.StackPosition() != 42.5 {
		t.Errorf("Expected stacking position 42.5, got %v", s.StackPosition())
	}
	if s.PixelSpacing == nil || *s.PixelSpacing != [2]float64{0.5, 0.75} {
		t.Errorf("Unexpected pixel spacing %v", s.PixelSpacing)
	}
	if s.Thickness == nil || *s.Thickness != 2.5 {
		t.Errorf("Unexpected thickness %v", s.Thickness)
	}
	if s.PatientID != "PAT-1" || s.Modality != "MR" {
		t.Errorf("Unexpected identifiers %q %q", s.PatientID, s.Modality)
	}
	for i, v := range s.Pixels {
		if v != float64(i+1) {
			t.Errorf("Pixel %d: expected %d, got %v", i, i+1, v)
		}
	}
}

func TestSliceFromDatasetRequiresPosition(t *testing.T) {
	ds := &dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.PixelData, nativePixels(2, 2)),
	}}
	if _, err := SliceFromDataset(ds); !errors.Is(err, ErrMissingPosition) {
		t.Errorf("Expected ErrMissingPosition, got %v", err)
	}
}

func TestSliceFromDatasetRequiresPixels(t *testing.T) {
	ds := &dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.ImagePositionPatient, []string{"0", "0", "1"}),
	}}
	if _, err := SliceFromDataset(ds); !errors.Is(err, ErrMissingPixels) {
		t.Errorf("Expected ErrMissingPixels, got %v", err)
	}
}

func TestDICOMProbe(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "IM0001")
	header := make([]byte, 132)
	copy(header[128:], "DICM")
	if err := os.WriteFile(good, append(header, 0, 0), 0644); err != nil {
		t.Fatal(err)
	}
	short := filepath.Join(dir, "short")
	if err := os.WriteFile(short, []byte("DICM"), 0644); err != nil {
		t.Fatal(err)
	}

	if !(DICOM{}).Probe(good) {
		t.Error("Expected probe to accept file with DICM magic")
	}
	if (DICOM{}).Probe(short) {
		t.Error("Expected probe to reject short file")
	}
	if (DICOM{}).Probe(filepath.Join(dir, "missing")) {
		t.Error("Expected probe to reject missing file")
	}
}

func TestClassifySidecar(t *testing.T) {
	dir := t.TempDir()
	thickness := 2.0
	path := testutil.WriteSidecarSlice(t, dir, testutil.SliceSpec{
		Name:         "slice_000",
		Rows:         4,
		Cols:         5,
		Position:     [3]float64{1, 2, 3},
		PixelSpacing: []float64{0.8, 0.9},
		Thickness:    &thickness,
		PatientID:    "PAT-2",
		Pixel:        func(row, col int) uint16 { return uint16(row*100 + col) },
	})

	v := DefaultRegistry().Classify(path)
	if !v.Accepted {
		t.Fatalf("Expected slice to be accepted, reason: %v", v.Reason)
	}
	if v.Format != "sidecar" {
		t.Errorf("Expected sidecar format, got %q", v.Format)
	}
	s := v.Slice
	if s.Rows != 4 || s.Cols != 5 {
		t.Errorf("Expected 4x5, got %dx%d", s.Rows, s.Cols)
	}
	if s.Pixels[2*5+3] != 203 {
		t.Errorf("Expected 16-bit intensity 203, got %v", s.Pixels[2*5+3])
	}
	if s.Position != [3]float64{1, 2, 3} {
		t.Errorf("Unexpected position %v", s.Position)
	}
	if s.Thickness == nil || *s.Thickness != 2 {
		t.Errorf("Unexpected thickness %v", s.Thickness)
	}
	if s.Path != path {
		t.Errorf("Expected path %q, got %q", path, s.Path)
	}
}

func TestClassifyRejects(t *testing.T) {
	dir := t.TempDir()

	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	// DICM magic but garbage after it: probe accepts, reader rejects
	fake := filepath.Join(dir, "fake.dcm")
	header := make([]byte, 132)
	copy(header[128:], "DICM")
	if err := os.WriteFile(fake, append(header, []byte("garbage")...), 0644); err != nil {
		t.Fatal(err)
	}

	// sidecar without a position
	path := testutil.WriteSidecarSlice(t, dir, testutil.SliceSpec{Name: "nopos", Rows: 2, Cols: 2})
	if err := os.WriteFile(filepath.Join(dir, "nopos.yaml"), []byte("pixel_spacing: [1, 1]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reg := DefaultRegistry()
	for _, p := range []string{notes, fake, path, filepath.Join(dir, "nopos.yaml")} {
		v := reg.Classify(p)
		if v.Accepted {
			t.Errorf("Expected %s to be rejected", filepath.Base(p))
		}
		if v.Reason == nil {
			t.Errorf("Expected a rejection reason for %s", filepath.Base(p))
		}
	}

	if v := reg.Classify(path); !errors.Is(v.Reason, ErrMissingPosition) {
		t.Errorf("Expected ErrMissingPosition for sidecar without position, got %v", v.Reason)
	}
}
