// Package isosurface computes density thresholds and extracts triangle
// meshes from volumes with marching cubes.
package isosurface

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"neuromesh/internal/models"
)

// InvalidSelectorError is returned for a density percentage outside [0, 100]
// or a selector string that cannot be parsed
type InvalidSelectorError struct {
	Input string
}

func (e *InvalidSelectorError) Error() string {
	return fmt.Sprintf("invalid density selector %q: want \"mean\" or a percentage in [0, 100]", e.Input)
}

// Selector picks the isosurface level of a volume. The zero value selects
// the mean intensity.
type Selector struct {
	percent float64
	set     bool
}

// Mean returns the selector for the volume's mean intensity
func Mean() Selector {
	return Selector{}
}

// Percent returns a selector mapping p linearly between the volume's
// minimum (0) and maximum (100) intensity
func Percent(p float64) (Selector, error) {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return Selector{}, &InvalidSelectorError{Input: strconv.FormatFloat(p, 'g', -1, 64)}
	}
	return Selector{percent: p, set: true}, nil
}

// ParseSelector parses "mean" (or "avg", "average", "") and percentages
// such as "40" or "12.5"
func ParseSelector(s string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mean", "avg", "average":
		return Mean(), nil
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Selector{}, &InvalidSelectorError{Input: s}
	}
	sel, err := Percent(p)
	if err != nil {
		return Selector{}, &InvalidSelectorError{Input: s}
	}
	return sel, nil
}

// IsMean reports whether the selector uses the mean intensity
func (s Selector) IsMean() bool {
	return !s.set
}

// Percentage returns the selected percentage and whether one is set
func (s Selector) Percentage() (float64, bool) {
	return s.percent, s.set
}

// Key returns a stable short form used in cache keys and file names
func (s Selector) Key() string {
	if !s.set {
		return "avg"
	}
	return strconv.FormatFloat(s.percent, 'f', -1, 64)
}

func (s Selector) String() string {
	if !s.set {
		return "mean"
	}
	return s.Key() + "%"
}

// Threshold computes the intensity level for vol
func (s Selector) Threshold(vol *models.Volume) (float64, error) {
	if vol == nil || len(vol.Data) == 0 {
		return 0, fmt.Errorf("threshold of empty volume")
	}
	if !s.set {
		return stat.Mean(vol.Data, nil), nil
	}
	lo, hi := floats.Min(vol.Data), floats.Max(vol.Data)
	return lo + (hi-lo)*s.percent/100, nil
}
