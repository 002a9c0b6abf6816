// Package smoothing reduces voxel staircase artifacts on extracted meshes
// without changing their topology.
package smoothing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"neuromesh/internal/models"
)

var (
	// ErrEmptyMesh is returned for meshes without faces
	ErrEmptyMesh = errors.New("smoothing: empty mesh")

	// ErrNonFinite is returned when smoothing produced NaN or infinite coordinates
	ErrNonFinite = errors.New("smoothing: non-finite vertex")
)

// Params controls Taubin smoothing
type Params struct {
	// Iterations is the number of lambda/mu pass pairs
	Iterations int

	// Lambda is the shrinking factor, 0 < Lambda <= 1
	Lambda float64

	// Mu is the inflating factor, -1 <= Mu < -Lambda
	Mu float64
}

// DefaultParams returns 10 iterations with lambda 0.5 and mu -0.53
func DefaultParams() Params {
	return Params{Iterations: 10, Lambda: 0.5, Mu: -0.53}
}

// Validate checks the parameters
func (p Params) Validate() error {
	if p.Iterations < 0 {
		return fmt.Errorf("smoothing: negative iteration count %d", p.Iterations)
	}
	if !(p.Lambda > 0 && p.Lambda <= 1) {
		return fmt.Errorf("smoothing: lambda %g outside (0, 1]", p.Lambda)
	}
	if !(p.Mu >= -1 && p.Mu < -p.Lambda) {
		return fmt.Errorf("smoothing: mu %g must be in [-1, %g)", p.Mu, -p.Lambda)
	}
	return nil
}

// Taubin smooths mesh with alternating shrink (lambda) and inflate (mu)
// passes of the uniform Laplacian over each vertex's 1-ring. The input is
// left untouched; the result shares no memory with it and has identical
// faces.
func Taubin(mesh *models.Mesh, params Params) (*models.Mesh, error) {
	if mesh.Empty() || len(mesh.Vertices) == 0 {
		return nil, ErrEmptyMesh
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := mesh.Validate(); err != nil {
		return nil, fmt.Errorf("smoothing: %w", err)
	}

	out := mesh.Clone()
	neighbors := oneRing(mesh)
	scratch := make([]r3.Vec, len(out.Vertices))

	for i := 0; i < params.Iterations; i++ {
		laplacianPass(out.Vertices, scratch, neighbors, params.Lambda)
		laplacianPass(out.Vertices, scratch, neighbors, params.Mu)
	}

	for i, v := range out.Vertices {
		if !finite(v) {
			return nil, fmt.Errorf("%w: vertex %d is %v", ErrNonFinite, i, v)
		}
	}
	return out, nil
}

// oneRing returns the sorted, de-duplicated neighbours of every vertex
func oneRing(mesh *models.Mesh) [][]int {
	neighbors := make([][]int, len(mesh.Vertices))
	for _, f := range mesh.Faces {
		for k := 0; k < 3; k++ {
			a, b := f[k], f[(k+1)%3]
			if a == b {
				continue
			}
			neighbors[a] = append(neighbors[a], b)
			neighbors[b] = append(neighbors[b], a)
		}
	}
	for i, ring := range neighbors {
		if len(ring) == 0 {
			continue
		}
		sort.Ints(ring)
		uniq := ring[:1]
		for _, n := range ring[1:] {
			if n != uniq[len(uniq)-1] {
				uniq = append(uniq, n)
			}
		}
		neighbors[i] = uniq
	}
	return neighbors
}

// laplacianPass moves every vertex by factor times the offset to the
// centroid of its neighbours. Positions are read from verts and written
// back after the whole pass.
func laplacianPass(verts, scratch []r3.Vec, neighbors [][]int, factor float64) {
	for i, v := range verts {
		ring := neighbors[i]
		if len(ring) == 0 {
			scratch[i] = v
			continue
		}
		var centroid r3.Vec
		for _, n := range ring {
			centroid = r3.Add(centroid, verts[n])
		}
		centroid = r3.Scale(1/float64(len(ring)), centroid)
		scratch[i] = r3.Add(v, r3.Scale(factor, r3.Sub(centroid, v)))
	}
	copy(verts, scratch)
}

func finite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
