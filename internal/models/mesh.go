package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is an indexed triangle mesh. Vertices are in physical millimetres,
// X along columns, Y along rows and Z along the slice stack. Faces hold
// 0-based vertex indices.
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]int
}

// Empty reports whether the mesh has no triangles
func (m *Mesh) Empty() bool {
	return m == nil || len(m.Faces) == 0
}

// Clone returns a deep copy of the mesh
func (m *Mesh) Clone() *Mesh {
	out := &Mesh{
		Vertices: make([]r3.Vec, len(m.Vertices)),
		Faces:    make([][3]int, len(m.Faces)),
	}
	copy(out.Vertices, m.Vertices)
	copy(out.Faces, m.Faces)
	return out
}

// Validate checks that every face references an existing vertex
func (m *Mesh) Validate() error {
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("face %d references vertex %d, mesh has %d vertices", i, idx, n)
			}
		}
	}
	return nil
}

// Bounds returns the axis-aligned bounding box of the vertices.
// An empty mesh yields two zero vectors.
func (m *Mesh) Bounds() (min, max r3.Vec) {
	if len(m.Vertices) == 0 {
		return r3.Vec{}, r3.Vec{}
	}
	min, max = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		if v.X < min.X {
			min.X = v.X
		}
		if v.Y < min.Y {
			min.Y = v.Y
		}
		if v.Z < min.Z {
			min.Z = v.Z
		}
		if v.X > max.X {
			max.X = v.X
		}
		if v.Y > max.Y {
			max.Y = v.Y
		}
		if v.Z > max.Z {
			max.Z = v.Z
		}
	}
	return min, max
}
