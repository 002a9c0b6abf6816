package isosurface

import (
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"neuromesh/internal/models"
)

// MarchingCubes extracts the isosurface of a volume at a fixed level
type MarchingCubes struct {
	vol     *models.Volume
	iso     float64
	scale   models.Spacing
	workers int
}

// NewMarchingCubes creates a marching cubes instance for vol at level iso.
// Vertices are in voxel units until SetScale is called.
func NewMarchingCubes(vol *models.Volume, iso float64) *MarchingCubes {
	return &MarchingCubes{
		vol:     vol,
		iso:     iso,
		scale:   models.DefaultSpacing(),
		workers: runtime.NumCPU(),
	}
}

// SetScale sets the physical spacing applied to output vertices
func (mc *MarchingCubes) SetScale(spacing models.Spacing) {
	mc.scale = spacing
}

// SetWorkers sets how many goroutines scan the volume. The output does not
// depend on it.
func (mc *MarchingCubes) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	mc.workers = n
}

// GenerateMesh runs the extraction. Vertices on cell edges are shared
// between neighbouring cells, and triangle normals point from higher to
// lower intensity.
func (mc *MarchingCubes) GenerateMesh() *models.Mesh {
	vol := mc.vol
	mesh := &models.Mesh{}
	if vol.Depth < 2 || vol.Height < 2 || vol.Width < 2 {
		return mesh
	}
	if mc.iso < floats.Min(vol.Data) || mc.iso >= floats.Max(vol.Data) {
		return mesh
	}

	cellsZ := vol.Depth - 1
	numWorkers := mc.workers
	if numWorkers > cellsZ {
		numWorkers = cellsZ
	}
	slabsPerWorker := (cellsZ + numWorkers - 1) / numWorkers

	// each worker records the edge keys of its triangles; slabs are
	// contiguous so concatenating in worker order is scan order
	results := make([][]int64, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			startZ := workerID * slabsPerWorker
			endZ := startZ + slabsPerWorker
			if endZ > cellsZ {
				endZ = cellsZ
			}
			for z := startZ; z < endZ; z++ {
				results[workerID] = mc.scanSlab(z, results[workerID])
			}
		}(w)
	}
	wg.Wait()

	index := make(map[int64]int)
	for _, keys := range results {
		for i := 0; i+2 < len(keys); i += 3 {
			var face [3]int
			for k := 0; k < 3; k++ {
				key := keys[i+k]
				idx, ok := index[key]
				if !ok {
					idx = len(mesh.Vertices)
					index[key] = idx
					mesh.Vertices = append(mesh.Vertices, mc.edgeVertex(key))
				}
				face[k] = idx
			}
			mesh.Faces = append(mesh.Faces, face)
		}
	}
	return mesh
}

// scanSlab appends the edge keys of every triangle in the cell layer
// starting at slice z
func (mc *MarchingCubes) scanSlab(z int, keys []int64) []int64 {
	vol := mc.vol
	for y := 0; y < vol.Height-1; y++ {
		for x := 0; x < vol.Width-1; x++ {
			config := mc.cellConfig(x, y, z)
			if edgeTable[config] == 0 {
				continue
			}
			for _, e := range triTable[config] {
				keys = append(keys, mc.edgeKey(x, y, z, e))
			}
		}
	}
	return keys
}

// cellConfig returns the inside-corner bits of the cell at (x, y, z)
func (mc *MarchingCubes) cellConfig(x, y, z int) int {
	config := 0
	for c, off := range cornerOffsets {
		if mc.vol.At(z+off[2], y+off[1], x+off[0]) > mc.iso {
			config |= 1 << c
		}
	}
	return config
}

// edgeKey identifies a cell edge globally by the grid point it starts
// from and its axis
func (mc *MarchingCubes) edgeKey(x, y, z, edge int) int64 {
	off := cornerOffsets[edgeOrigin[edge]]
	vol := mc.vol
	point := int64(vol.Index(z+off[2], y+off[1], x+off[0]))
	return point*3 + int64(edgeAxis[edge])
}

// edgeVertex interpolates the surface crossing on the edge named by key
func (mc *MarchingCubes) edgeVertex(key int64) r3.Vec {
	vol := mc.vol
	axis := int(key % 3)
	point := int(key / 3)

	x := point % vol.Width
	y := (point / vol.Width) % vol.Height
	z := point / (vol.Width * vol.Height)

	pos := [3]float64{float64(x), float64(y), float64(z)}
	step := [3]int{}
	step[axis] = 1

	v1 := vol.At(z, y, x)
	v2 := vol.At(z+step[2], y+step[1], x+step[0])
	t := 0.5
	if v2 != v1 {
		t = (mc.iso - v1) / (v2 - v1)
	}
	pos[axis] += t

	return r3.Vec{
		X: pos[0] * mc.scale.X,
		Y: pos[1] * mc.scale.Y,
		Z: pos[2] * mc.scale.Z,
	}
}

// Extractor turns a volume and a selector into a mesh
type Extractor struct {
	// Workers bounds the goroutines used per extraction. Values < 1 select
	// runtime.NumCPU().
	Workers int
}

// Extract computes the selector's threshold and runs marching cubes with
// vertices scaled by spacing. Degenerate volumes yield an empty mesh.
func (e Extractor) Extract(vol *models.Volume, spacing models.Spacing, sel Selector) (*models.Mesh, error) {
	if vol == nil {
		return nil, fmt.Errorf("extract: nil volume")
	}
	iso, err := sel.Threshold(vol)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return e.ExtractAt(vol, spacing, iso)
}

// ExtractAt runs marching cubes at a threshold the caller already computed
func (e Extractor) ExtractAt(vol *models.Volume, spacing models.Spacing, iso float64) (*models.Mesh, error) {
	if vol == nil {
		return nil, fmt.Errorf("extract: nil volume")
	}
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if err := spacing.Validate(); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	mc := NewMarchingCubes(vol, iso)
	mc.SetScale(spacing)
	if e.Workers > 0 {
		mc.SetWorkers(e.Workers)
	}
	return mc.GenerateMesh(), nil
}
