package models

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// AxisOrder selects which mesh axis is written in each of the three
// coordinate columns of an exported file. Each entry is 0 for X, 1 for Y
// and 2 for Z.
type AxisOrder [3]int

// AxesXYZ writes vertices as (x, y, z). This is what three.js based viewers
// expect for meshes built from (slice, row, column) volumes.
var AxesXYZ = AxisOrder{0, 1, 2}

// AxesZYX writes vertices in volume index order (slice, row, column).
var AxesZYX = AxisOrder{2, 1, 0}

// ParseAxisOrder parses a permutation of the letters x, y and z, e.g. "xyz"
// or "zyx". An empty string selects AxesXYZ.
func ParseAxisOrder(s string) (AxisOrder, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return AxesXYZ, nil
	}
	if len(s) != 3 {
		return AxisOrder{}, fmt.Errorf("invalid axis order %q: want a permutation of xyz", s)
	}
	var order AxisOrder
	var seen [3]bool
	for i, c := range s {
		axis := strings.IndexRune("xyz", c)
		if axis < 0 || seen[axis] {
			return AxisOrder{}, fmt.Errorf("invalid axis order %q: want a permutation of xyz", s)
		}
		seen[axis] = true
		order[i] = axis
	}
	return order, nil
}

// String returns the letter form of the order
func (a AxisOrder) String() string {
	var b strings.Builder
	for _, axis := range a {
		b.WriteByte("xyz"[axis])
	}
	return b.String()
}

// Apply maps a mesh vertex to the exported coordinate columns
func (a AxisOrder) Apply(v r3.Vec) [3]float64 {
	c := [3]float64{v.X, v.Y, v.Z}
	return [3]float64{c[a[0]], c[a[1]], c[a[2]]}
}

// Invert maps exported coordinate columns back to a mesh vertex
func (a AxisOrder) Invert(cols [3]float64) r3.Vec {
	var c [3]float64
	for i, axis := range a {
		c[axis] = cols[i]
	}
	return r3.Vec{X: c[0], Y: c[1], Z: c[2]}
}

// FlipsHandedness reports whether the permutation is odd. Odd permutations
// mirror the model, so triangle winding has to be reversed to keep
// normals pointing outwards.
func (a AxisOrder) FlipsHandedness() bool {
	inversions := 0
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			if a[i] > a[j] {
				inversions++
			}
		}
	}
	return inversions%2 == 1
}
