package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"neuromesh/internal/models"
)

// dicomPreambleLen is the size of the Part 10 preamble before the "DICM" magic
const dicomPreambleLen = 128

var dicomMagic = []byte("DICM")

// DICOM reads single-frame DICOM Part 10 files
type DICOM struct{}

// Name implements Format
func (DICOM) Name() string { return "dicom" }

// Probe checks for the DICM magic after the 128 byte preamble
func (DICOM) Probe(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, dicomPreambleLen+len(dicomMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header[dicomPreambleLen:], dicomMagic)
}

// Read parses the file and extracts the first frame plus spatial metadata
func (DICOM) Read(path string) (*models.Slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse dicom: %w", err)
	}
	return SliceFromDataset(&ds)
}

// SliceFromDataset converts a parsed dataset into a slice. The dataset must
// carry PixelData and a three-valued ImagePositionPatient.
func SliceFromDataset(ds *dicom.Dataset) (*models.Slice, error) {
	pos, err := dicomFloats(ds, tag.ImagePositionPatient)
	if err != nil || len(pos) != 3 {
		return nil, ErrMissingPosition
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrMissingPixels
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, ErrMissingPixels
	}

	fr := info.Frames[0]
	s := &models.Slice{
		Position: [3]float64{pos[0], pos[1], pos[2]},
	}

	if fr.Encapsulated {
		img, err := fr.GetImage()
		if err != nil {
			return nil, fmt.Errorf("decode encapsulated frame: %w", err)
		}
		s.Pixels, s.Rows, s.Cols = imageIntensities(img)
	} else {
		nf := fr.NativeData
		if nf.Rows <= 0 || nf.Cols <= 0 || len(nf.Data) != nf.Rows*nf.Cols {
			return nil, ErrMissingPixels
		}
		s.Rows, s.Cols = nf.Rows, nf.Cols
		s.Pixels = make([]float64, len(nf.Data))
		for i, px := range nf.Data {
			if len(px) == 0 {
				return nil, fmt.Errorf("pixel %d has no samples", i)
			}
			s.Pixels[i] = float64(px[0])
		}
	}

	if ps, err := dicomFloats(ds, tag.PixelSpacing); err == nil && len(ps) == 2 {
		s.PixelSpacing = &[2]float64{ps[0], ps[1]}
	}
	if th, err := dicomFloats(ds, tag.SliceThickness); err == nil && len(th) == 1 {
		thickness := th[0]
		s.Thickness = &thickness
	}

	s.PatientID = dicomString(ds, tag.PatientID)
	s.Modality = dicomString(ds, tag.Modality)
	s.StudyUID = dicomString(ds, tag.StudyInstanceUID)
	s.SeriesUID = dicomString(ds, tag.SeriesInstanceUID)

	return s, nil
}

func dicomStrings(ds *dicom.Dataset, t tag.Tag) []string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	values, _ := el.Value.GetValue().([]string)
	return values
}

func dicomString(ds *dicom.Dataset, t tag.Tag) string {
	values := dicomStrings(ds, t)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// dicomFloats parses a decimal string (DS) element
func dicomFloats(ds *dicom.Dataset, t tag.Tag) ([]float64, error) {
	values := dicomStrings(ds, t)
	if len(values) == 0 {
		return nil, fmt.Errorf("element %v not present", t)
	}
	out := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("element %v: %w", t, err)
		}
		out = append(out, f)
	}
	return out, nil
}
