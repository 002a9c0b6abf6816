// Package ingest classifies source files as slices. Every supported format
// exposes a cheap capability probe and a reader; a file becomes a slice only
// when a probe accepts it and the reader finds pixels and a 3D position.
package ingest

import (
	"errors"
	"fmt"

	"neuromesh/internal/models"
)

// ErrMissingPosition is returned by readers when a file parses but carries
// no usable 3D position
var ErrMissingPosition = errors.New("no image position")

// ErrMissingPixels is returned by readers when a file parses but carries no
// intensity grid
var ErrMissingPixels = errors.New("no pixel data")

// Format is one recognized per-slice file format
type Format interface {
	// Name identifies the format in logs
	Name() string

	// Probe reports whether path looks like this format. It must be cheap
	// and must not fully decode the file.
	Probe(path string) bool

	// Read decodes the slice. Errors mean the file is rejected.
	Read(path string) (*models.Slice, error)
}

// Verdict is the outcome of classifying one file
type Verdict struct {
	Path     string
	Accepted bool
	Format   string
	Slice    *models.Slice

	// Reason explains a rejection
	Reason error
}

// Registry tries formats in order
type Registry struct {
	formats []Format
}

// NewRegistry creates a registry over the given formats
func NewRegistry(formats ...Format) *Registry {
	return &Registry{formats: formats}
}

// DefaultRegistry recognizes DICOM files first, then images with a YAML sidecar
func DefaultRegistry() *Registry {
	return NewRegistry(DICOM{}, Sidecar{})
}

// Classify decides whether path is a slice. It never returns an error:
// unrecognized or broken files produce a rejecting verdict.
func (r *Registry) Classify(path string) Verdict {
	for _, f := range r.formats {
		if !f.Probe(path) {
			continue
		}
		s, err := f.Read(path)
		if err != nil {
			return Verdict{Path: path, Format: f.Name(), Reason: err}
		}
		if err := s.Validate(); err != nil {
			return Verdict{Path: path, Format: f.Name(), Reason: err}
		}
		s.Path = path
		return Verdict{Path: path, Accepted: true, Format: f.Name(), Slice: s}
	}
	return Verdict{Path: path, Reason: fmt.Errorf("unrecognized format")}
}
