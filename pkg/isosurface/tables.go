package isosurface

import "fmt"

// Cube corners as (x, y, z) offsets from the cell origin
var cornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// Cube edges as corner pairs. Edges 0-3 run round the bottom face,
// 4-7 round the top face and 8-11 are the vertical edges.
var edgeCorners = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// cubeFaces lists each face's corners cyclically. init reorders them so
// they run counter-clockwise seen from outside the cube.
var cubeFaces = [6][4]int{
	{0, 1, 2, 3},
	{4, 5, 6, 7},
	{0, 1, 5, 4},
	{3, 2, 6, 7},
	{0, 3, 7, 4},
	{1, 2, 6, 5},
}

// edgeTable[config] has bit e set when edge e crosses the surface.
// triTable[config] holds triangles as consecutive edge triples.
// Bit i of config is set when corner i is inside (above the threshold).
var (
	edgeTable [256]uint16
	triTable  [256][]int
)

// edgeFaces[e] holds the two cube faces containing edge e
var edgeFaces [12][2]int

// edgeAxis and edgeOrigin describe each edge in grid terms: the axis it runs
// along (0 x, 1 y, 2 z) and the corner it starts from on that axis
var (
	edgeAxis   [12]int
	edgeOrigin [12]int
)

func init() {
	orientFaces()

	var between [8][8]int
	for e, c := range edgeCorners {
		between[c[0]][c[1]] = e
		between[c[1]][c[0]] = e

		a, b := cornerOffsets[c[0]], cornerOffsets[c[1]]
		for axis := 0; axis < 3; axis++ {
			if a[axis] != b[axis] {
				edgeAxis[e] = axis
				if a[axis] < b[axis] {
					edgeOrigin[e] = c[0]
				} else {
					edgeOrigin[e] = c[1]
				}
			}
		}
	}

	var seen [12]int
	for f, corners := range cubeFaces {
		for i := 0; i < 4; i++ {
			e := between[corners[i]][corners[(i+1)%4]]
			edgeFaces[e][seen[e]] = f
			seen[e]++
		}
	}

	for config := 0; config < 256; config++ {
		edgeTable[config], triTable[config] = buildCase(config, &between)
	}
}

// orientFaces makes every face wind counter-clockwise when viewed from
// outside the cube
func orientFaces() {
	for i, f := range cubeFaces {
		p0, p1, p2 := cornerOffsets[f[0]], cornerOffsets[f[1]], cornerOffsets[f[2]]
		u := [3]int{p1[0] - p0[0], p1[1] - p0[1], p1[2] - p0[2]}
		v := [3]int{p2[0] - p1[0], p2[1] - p1[1], p2[2] - p1[2]}
		n := [3]int{
			u[1]*v[2] - u[2]*v[1],
			u[2]*v[0] - u[0]*v[2],
			u[0]*v[1] - u[1]*v[0],
		}

		// four times the offset of the face centre from the cube centre
		var out [3]int
		for _, c := range f {
			for axis := 0; axis < 3; axis++ {
				out[axis] += cornerOffsets[c][axis]
			}
		}
		dot := 0
		for axis := 0; axis < 3; axis++ {
			dot += n[axis] * (out[axis] - 2)
		}
		if dot < 0 {
			cubeFaces[i] = [4]int{f[3], f[2], f[1], f[0]}
		}
	}
}

// buildCase triangulates one corner configuration.
//
// On every face, each run of consecutive inside corners is cut off by a
// segment joining the edge where the run is entered to the edge where it is
// left. Runs never merge across a face diagonal, so an ambiguous face is
// always split the same way and adjacent cells agree on the shared face.
// Each crossing edge is entered on exactly one face and left on exactly one
// other, so the segments chain into closed loops which are then fanned into
// triangles facing away from the inside corners. A diagonal lying in a cube
// face would be drawn by the neighbouring cell as well, so each fan starts
// at a vertex whose diagonals all cross the cell interior.
func buildCase(config int, between *[8][8]int) (uint16, []int) {
	inside := func(c int) bool { return config&(1<<c) != 0 }

	var next [12]int
	for i := range next {
		next[i] = -1
	}
	var mask uint16

	for _, f := range cubeFaces {
		for i := 0; i < 4; i++ {
			a, b := f[i], f[(i+1)%4]
			if !inside(a) || inside(b) {
				continue
			}
			exit := between[a][b]

			j := i
			for inside(f[(j+3)%4]) {
				j = (j + 3) % 4
			}
			entry := between[f[(j+3)%4]][f[j]]

			next[entry] = exit
			mask |= 1<<entry | 1<<exit
		}
	}

	var tris []int
	var visited [12]bool
	for start := 0; start < 12; start++ {
		if next[start] < 0 || visited[start] {
			continue
		}
		var loop []int
		for e := start; !visited[e]; e = next[e] {
			visited[e] = true
			loop = append(loop, e)
		}

		s := fanStart(loop)
		if s < 0 {
			panic(fmt.Sprintf("isosurface: no interior fan for config %d loop %v", config, loop))
		}
		n := len(loop)
		for k := 1; k+1 < n; k++ {
			tris = append(tris, loop[s], loop[(s+k)%n], loop[(s+k+1)%n])
		}
	}
	return mask, tris
}

// fanStart returns a position in loop whose fan diagonals all cross the
// cell interior, or -1 if there is none
func fanStart(loop []int) int {
	n := len(loop)
	if n <= 3 {
		return 0
	}
	for s := 0; s < n; s++ {
		ok := true
		for j := 2; j < n-1 && ok; j++ {
			ok = !shareFace(loop[s], loop[(s+j)%n])
		}
		if ok {
			return s
		}
	}
	return -1
}

func shareFace(a, b int) bool {
	for _, fa := range edgeFaces[a] {
		for _, fb := range edgeFaces[b] {
			if fa == fb {
				return true
			}
		}
	}
	return false
}
