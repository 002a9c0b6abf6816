// Package stl writes binary STL files as an alternative export format.
package stl

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"neuromesh/internal/fsutil"
	"neuromesh/internal/models"
)

// Triangle is one facet of an STL file
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

const header = "neuromesh binary STL"

// FromMesh converts an indexed mesh to STL facets with coordinates in the
// given axis order. Winding is reversed for mirroring orders so facet
// normals keep pointing outwards.
func FromMesh(mesh *models.Mesh, axes models.AxisOrder) ([]Triangle, error) {
	if err := mesh.Validate(); err != nil {
		return nil, fmt.Errorf("stl: %w", err)
	}
	if axes == (models.AxisOrder{}) {
		axes = models.AxesXYZ
	}
	flip := axes.FlipsHandedness()

	triangles := make([]Triangle, 0, len(mesh.Faces))
	for _, f := range mesh.Faces {
		a, b, c := axes.Apply(mesh.Vertices[f[0]]), axes.Apply(mesh.Vertices[f[1]]), axes.Apply(mesh.Vertices[f[2]])
		if flip {
			b, c = c, b
		}
		triangles = append(triangles, Triangle{
			Normal:  facetNormal(a, b, c),
			Vertex1: toFloat32(a),
			Vertex2: toFloat32(b),
			Vertex3: toFloat32(c),
		})
	}
	return triangles, nil
}

func facetNormal(a, b, c [3]float64) [3]float32 {
	va := r3.Vec{X: a[0], Y: a[1], Z: a[2]}
	vb := r3.Vec{X: b[0], Y: b[1], Z: b[2]}
	vc := r3.Vec{X: c[0], Y: c[1], Z: c[2]}
	n := r3.Cross(r3.Sub(vb, va), r3.Sub(vc, va))
	if r3.Norm(n) == 0 {
		return [3]float32{}
	}
	n = r3.Unit(n)
	return [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}
}

func toFloat32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

// Write encodes triangles as binary STL: an 80 byte header, a little endian
// triangle count and 50 bytes per triangle
func Write(w io.Writer, triangles []Triangle) error {
	if uint64(len(triangles)) > math.MaxUint32 {
		return fmt.Errorf("stl: %d triangles exceed the format limit", len(triangles))
	}

	var head [80]byte
	copy(head[:], header)
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}

	var rec [50]byte
	for _, t := range triangles {
		off := 0
		for _, v := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, c := range v {
				binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(c))
				off += 4
			}
		}
		// attribute byte count stays zero
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
	}
	return nil
}

// SaveToSTL writes triangles to a binary STL file atomically
func SaveToSTL(filename string, triangles []Triangle) error {
	return fsutil.WriteFileAtomic(filename, func(w io.Writer) error {
		return Write(w, triangles)
	})
}

// Read decodes a binary STL stream
func Read(r io.Reader) ([]Triangle, error) {
	var head [80]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("stl: reading header: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("stl: reading triangle count: %w", err)
	}

	capacity := count
	if capacity > 1<<20 {
		capacity = 1 << 20
	}
	triangles := make([]Triangle, 0, capacity)
	var rec [50]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, fmt.Errorf("stl: reading triangle %d: %w", i, err)
		}
		var vs [4][3]float32
		off := 0
		for j := range vs {
			for k := range vs[j] {
				vs[j][k] = math.Float32frombits(binary.LittleEndian.Uint32(rec[off:]))
				off += 4
			}
		}
		triangles = append(triangles, Triangle{Normal: vs[0], Vertex1: vs[1], Vertex2: vs[2], Vertex3: vs[3]})
	}
	return triangles, nil
}
