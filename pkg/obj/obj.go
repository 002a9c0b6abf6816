// Package obj writes and parses Wavefront OBJ meshes.
//
// Only geometry is handled: "v" records with three coordinates and "f"
// records with 1-based vertex indices. The column order of "v" records is
// chosen by a models.AxisOrder so the file matches the viewer loading it.
package obj

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"neuromesh/internal/fsutil"
	"neuromesh/internal/models"
)

// DefaultPrecision is the number of decimals written per coordinate
const DefaultPrecision = 6

// Options controls how a mesh is written
type Options struct {
	// Axes maps mesh axes to file columns. The zero value selects xyz.
	Axes models.AxisOrder

	// Precision is the number of decimals per coordinate. Zero selects
	// DefaultPrecision and negative values the shortest representation that
	// parses back exactly.
	Precision int

	// Comment, if set, is written as a leading "#" line
	Comment string
}

func (o Options) axes() models.AxisOrder {
	if o.Axes == (models.AxisOrder{}) {
		return models.AxesXYZ
	}
	return o.Axes
}

func (o Options) precision() int {
	switch {
	case o.Precision == 0:
		return DefaultPrecision
	case o.Precision < 0:
		return -1
	}
	return o.Precision
}

// Write serializes mesh to w. When the axis order mirrors the model the
// triangle winding is reversed so normals keep their orientation.
func Write(w io.Writer, mesh *models.Mesh, opts Options) error {
	if err := mesh.Validate(); err != nil {
		return fmt.Errorf("obj: %w", err)
	}

	axes := opts.axes()
	prec := opts.precision()
	flip := axes.FlipsHandedness()

	bw := bufio.NewWriter(w)
	if opts.Comment != "" {
		for _, line := range strings.Split(opts.Comment, "\n") {
			fmt.Fprintf(bw, "# %s\n", line)
		}
	}

	buf := make([]byte, 0, 64)
	for _, v := range mesh.Vertices {
		cols := axes.Apply(v)
		buf = append(buf[:0], 'v')
		for _, c := range cols {
			buf = append(buf, ' ')
			buf = strconv.AppendFloat(buf, c, 'f', prec, 64)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}

	for _, f := range mesh.Faces {
		a, b, c := f[0]+1, f[1]+1, f[2]+1
		if flip {
			b, c = c, b
		}
		if _, err := fmt.Fprintf(bw, "f %d %d %d\n", a, b, c); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes mesh to path. The file only appears once it is
// complete; a failed write leaves any previous file in place.
func WriteFile(path string, mesh *models.Mesh, opts Options) error {
	if err := mesh.Validate(); err != nil {
		return fmt.Errorf("obj: %w", err)
	}
	return fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		return Write(w, mesh, opts)
	})
}

// Read parses an OBJ stream written with the given axis order. Comments,
// normals, texture coordinates and other records are skipped. Face tokens
// may use the v/vt/vn form and negative (relative) indices; polygons with
// more than three vertices are fanned into triangles.
func Read(r io.Reader, axes models.AxisOrder) (*models.Mesh, error) {
	if axes == (models.AxisOrder{}) {
		axes = models.AxesXYZ
	}
	flip := axes.FlipsHandedness()

	mesh := &models.Mesh{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj: line %d: vertex needs 3 coordinates", lineNo)
			}
			var cols [3]float64
			for i := range cols {
				c, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("obj: line %d: %w", lineNo, err)
				}
				cols[i] = c
			}
			mesh.Vertices = append(mesh.Vertices, axes.Invert(cols))

		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj: line %d: face needs at least 3 vertices", lineNo)
			}
			idx := make([]int, len(fields)-1)
			for i, tok := range fields[1:] {
				n, err := faceIndex(tok, len(mesh.Vertices))
				if err != nil {
					return nil, fmt.Errorf("obj: line %d: %w", lineNo, err)
				}
				idx[i] = n
			}
			for k := 1; k+1 < len(idx); k++ {
				face := [3]int{idx[0], idx[k], idx[k+1]}
				if flip {
					face[1], face[2] = face[2], face[1]
				}
				mesh.Faces = append(mesh.Faces, face)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("obj: %w", err)
	}
	if err := mesh.Validate(); err != nil {
		return nil, fmt.Errorf("obj: %w", err)
	}
	return mesh, nil
}

// ReadFile parses the OBJ file at path
func ReadFile(path string, axes models.AxisOrder) (*models.Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, axes)
}

// faceIndex converts one face token to a 0-based vertex index. n is the
// number of vertices read so far, which negative indices count back from.
func faceIndex(tok string, n int) (int, error) {
	if slash := strings.IndexByte(tok, '/'); slash >= 0 {
		tok = tok[:slash]
	}
	i, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("invalid face index %q", tok)
	}
	switch {
	case i > 0:
		return i - 1, nil
	case i < 0:
		return n + i, nil
	default:
		return 0, fmt.Errorf("face index 0 is not valid in OBJ")
	}
}
