package obj

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"neuromesh/internal/models"
)

// createTestMesh returns a tetrahedron with outward-facing triangles
func createTestMesh() *models.Mesh {
	return &models.Mesh{
		Vertices: []r3.Vec{
			{X: 0, Y: 0, Z: 0},
			{X: 1.5, Y: 0, Z: 0},
			{X: 0, Y: 2.25, Z: 0},
			{X: 0, Y: 0, Z: 3.125},
		},
		Faces: [][3]int{
			{0, 2, 1},
			{0, 1, 3},
			{0, 3, 2},
			{1, 2, 3},
		},
	}
}

func normal(m *models.Mesh, f [3]int) r3.Vec {
	a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
	return r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
}

func TestWriteFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, createTestMesh(), Options{Precision: 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := strings.Join([]string{
		"v 0.000 0.000 0.000",
		"v 1.500 0.000 0.000",
		"v 0.000 2.250 0.000",
		"v 0.000 0.000 3.125",
		"f 1 3 2",
		"f 1 2 4",
		"f 1 4 3",
		"f 2 3 4",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("Unexpected output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteAxisOrder(t *testing.T) {
	mesh := &models.Mesh{
		Vertices: []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}, {X: 7, Y: 8, Z: 9}},
		Faces:    [][3]int{{0, 1, 2}},
	}

	var buf bytes.Buffer
	if err := Write(&buf, mesh, Options{Axes: models.AxesZYX, Precision: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "v 3.0 2.0 1.0" {
		t.Errorf("Expected zyx vertex record, got %q", lines[0])
	}
	// zyx is a mirror, so the winding is reversed
	if lines[3] != "f 1 3 2" {
		t.Errorf("Expected reversed face record, got %q", lines[3])
	}
}

func TestWriteComment(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, createTestMesh(), Options{Comment: "dataset abc\nthreshold 40%"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "# dataset abc\n# threshold 40%\nv ") {
		t.Errorf("Unexpected header: %q", buf.String()[:40])
	}
}

func TestRoundTrip(t *testing.T) {
	for _, order := range []string{"xyz", "zyx", "yzx", "xzy"} {
		t.Run(order, func(t *testing.T) {
			axes, err := models.ParseAxisOrder(order)
			if err != nil {
				t.Fatal(err)
			}
			mesh := createTestMesh()

			var buf bytes.Buffer
			if err := Write(&buf, mesh, Options{Axes: axes}); err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := Read(&buf, axes)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}

			if len(got.Vertices) != len(mesh.Vertices) || len(got.Faces) != len(mesh.Faces) {
				t.Fatalf("Expected %d/%d vertices/faces, got %d/%d",
					len(mesh.Vertices), len(mesh.Faces), len(got.Vertices), len(got.Faces))
			}
			for i, v := range mesh.Vertices {
				if r3.Norm(r3.Sub(v, got.Vertices[i])) > 1e-6 {
					t.Errorf("Vertex %d: expected %v, got %v", i, v, got.Vertices[i])
				}
			}
			for i, f := range got.Faces {
				n1, n2 := normal(mesh, mesh.Faces[i]), normal(got, f)
				if r3.Dot(n1, n2) <= 0 {
					t.Errorf("Face %d: orientation flipped by round trip", i)
				}
			}
		})
	}
}

func TestReadFlexibleRecords(t *testing.T) {
	input := `# exported elsewhere
o thing
v 0 0 0
v 1 0 0 1.0
vn 0 0 1
vt 0.5 0.5
v 1 1 0
v 0 1 0

f 1/1/1 2/1/1 3/1/1
f -4 -2 -1
f 1 2 3 4
`
	mesh, err := Read(strings.NewReader(input), models.AxesXYZ)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(mesh.Vertices) != 4 {
		t.Errorf("Expected 4 vertices, got %d", len(mesh.Vertices))
	}
	want := [][3]int{{0, 1, 2}, {0, 2, 3}, {0, 1, 2}, {0, 2, 3}}
	if len(mesh.Faces) != len(want) {
		t.Fatalf("Expected %d faces, got %d", len(want), len(mesh.Faces))
	}
	for i, f := range want {
		if mesh.Faces[i] != f {
			t.Errorf("Face %d: expected %v, got %v", i, f, mesh.Faces[i])
		}
	}
}

func TestReadErrors(t *testing.T) {
	tests := map[string]string{
		"short vertex":    "v 1 2\n",
		"bad coordinate":  "v 1 2 x\n",
		"short face":      "v 0 0 0\nf 1 1\n",
		"zero index":      "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n",
		"index too large": "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 4\n",
		"bad index":       "v 0 0 0\nf a b c\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(input), models.AxesXYZ); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "mesh.obj")

	if err := WriteFile(path, createTestMesh(), Options{}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path, models.AxesXYZ)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got.Faces) != 4 {
		t.Errorf("Expected 4 faces, got %d", len(got.Faces))
	}
	for _, f := range got.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(got.Vertices) {
				t.Errorf("Face index %d out of range", idx)
			}
		}
	}
}

func TestWriteFileInvalidMeshLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.obj")
	broken := &models.Mesh{Vertices: []r3.Vec{{}}, Faces: [][3]int{{0, 1, 2}}}

	if err := WriteFile(path, broken, Options{}); err == nil {
		t.Fatal("Expected error for invalid mesh")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected no file after failed write, stat returned %v", err)
	}
}

func TestPrecisionRoundTrip(t *testing.T) {
	mesh := &models.Mesh{
		Vertices: []r3.Vec{{X: math.Pi}, {Y: math.E}, {Z: math.Sqrt2}},
		Faces:    [][3]int{{0, 1, 2}},
	}
	var buf bytes.Buffer
	if err := Write(&buf, mesh, Options{Precision: 12}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(&buf, models.AxesXYZ)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(got.Vertices[0].X-math.Pi) > 1e-12 {
		t.Errorf("Expected %v, got %v", math.Pi, got.Vertices[0].X)
	}
}
