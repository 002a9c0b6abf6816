package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"neuromesh/internal/models"
	"neuromesh/internal/testutil"
	"neuromesh/pkg/cache"
	"neuromesh/pkg/config"
	"neuromesh/pkg/isosurface"
	"neuromesh/pkg/obj"
	"neuromesh/pkg/reconstruction"
	"neuromesh/pkg/stl"
	"neuromesh/pkg/store"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Processing.NumCores = 2
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	p, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// sphereInput writes a closed sphere that fits inside the slice stack
func sphereInput(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "upload")
	testutil.SphereSlices(t, dir, 32, 32, 32, 10, 1.0)
	return dir
}

func mustPercent(t *testing.T, p float64) isosurface.Selector {
	t.Helper()
	sel, err := isosurface.Percent(p)
	if err != nil {
		t.Fatal(err)
	}
	return sel
}

func TestRunToFile(t *testing.T) {
	input := sphereInput(t)
	dest := filepath.Join(t.TempDir(), "out", "sphere.obj")

	p := newTestPipeline(t, testConfig())
	res, err := p.Run(context.Background(), input, mustPercent(t, 50), dest)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Path != dest || res.Cached {
		t.Errorf("Unexpected result path %q cached=%v", res.Path, res.Cached)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", res.Warnings)
	}
	if res.Threshold != 500 {
		t.Errorf("Expected threshold 500, got %v", res.Threshold)
	}
	if res.Dataset.Volume.Depth != 32 || res.Dataset.ID() == "" {
		t.Errorf("Unexpected dataset %+v", res.Dataset.Metadata)
	}

	mesh, err := obj.ReadFile(dest, models.AxesXYZ)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(mesh.Faces) != len(res.Mesh.Faces) || len(mesh.Vertices) != len(res.Mesh.Vertices) {
		t.Errorf("Exported %d/%d vertices/faces, extracted %d/%d",
			len(mesh.Vertices), len(mesh.Faces), len(res.Mesh.Vertices), len(res.Mesh.Faces))
	}
	if len(mesh.Faces) < 500 {
		t.Errorf("Expected a detailed sphere, got %d faces", len(mesh.Faces))
	}
}

func TestMeshUsesCache(t *testing.T) {
	input := sphereInput(t)
	meshCache, err := cache.NewDirCache(filepath.Join(t.TempDir(), "mesh_cache"))
	if err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, testConfig(), WithCache(meshCache))
	ds, _, err := p.Reconstruct(context.Background(), input)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	first, err := p.Mesh(context.Background(), ds, isosurface.Mean(), "")
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if first.Cached {
		t.Error("First extraction must not be a cache hit")
	}
	want := filepath.Join(meshCache.Dir(), "neuromesh_"+ds.ID()+"_avg_"+p.exportVariant()+".obj")
	if first.Path != want {
		t.Errorf("Expected cache path %s, got %s", want, first.Path)
	}

	second, err := p.Mesh(context.Background(), ds, isosurface.Mean(), "")
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if !second.Cached || second.Path != first.Path || second.Mesh != nil {
		t.Errorf("Expected cache hit at %s, got %+v", first.Path, second)
	}

	third, err := p.Mesh(context.Background(), ds, mustPercent(t, 30), "")
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if third.Cached || third.Path == first.Path {
		t.Error("A different density must not reuse the cached mesh")
	}
}

func TestMeshCacheSeparatesExportOptions(t *testing.T) {
	input := sphereInput(t)
	meshCache, err := cache.NewDirCache(filepath.Join(t.TempDir(), "mesh_cache"))
	if err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, testConfig(), WithCache(meshCache))
	ds, _, err := p.Reconstruct(context.Background(), input)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	first, err := p.Mesh(context.Background(), ds, isosurface.Mean(), "")
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}

	mirrored := testConfig()
	mirrored.Export.AxisOrder = "zyx"
	raw := testConfig()
	raw.Smoothing.Enabled = false
	coarse := testConfig()
	coarse.Export.Precision = 2

	for name, cfg := range map[string]*config.Config{"axis order": mirrored, "no smoothing": raw, "precision": coarse} {
		t.Run(name, func(t *testing.T) {
			other := newTestPipeline(t, cfg, WithCache(meshCache))
			res, err := other.Mesh(context.Background(), ds, isosurface.Mean(), "")
			if err != nil {
				t.Fatalf("Mesh: %v", err)
			}
			if res.Cached || res.Path == first.Path {
				t.Errorf("Expected a fresh export, got cached=%v at %s", res.Cached, res.Path)
			}
		})
	}

	// the first pipeline still hits its own entry
	again, err := p.Mesh(context.Background(), ds, isosurface.Mean(), "")
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if !again.Cached || again.Path != first.Path {
		t.Errorf("Expected cache hit at %s, got %+v", first.Path, again)
	}
}

func TestMeshThresholdMatchesSelector(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ds, _, err := p.Reconstruct(context.Background(), sphereInput(t))
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	sel := mustPercent(t, 30)
	want, err := sel.Threshold(ds.Volume)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Mesh(context.Background(), ds, sel, filepath.Join(t.TempDir(), "t.obj"))
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if res.Threshold != want {
		t.Errorf("Expected threshold %v, got %v", want, res.Threshold)
	}
	raw, err := isosurface.Extractor{}.ExtractAt(ds.Volume, ds.Spacing, want)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw.Faces) != len(res.Mesh.Faces) {
		t.Errorf("Expected %d faces at the reported threshold, got %d", len(raw.Faces), len(res.Mesh.Faces))
	}
}

func TestMeshWithoutDestination(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ds := &store.Dataset{Volume: models.NewVolume(2, 2, 2), Spacing: models.DefaultSpacing()}
	if _, err := p.Mesh(context.Background(), ds, isosurface.Mean(), ""); !errors.Is(err, ErrNoDestination) {
		t.Errorf("Expected ErrNoDestination, got %v", err)
	}
}

func TestMeshSmoothingDegraded(t *testing.T) {
	uniform := models.NewVolume(4, 4, 4)
	for i := range uniform.Data {
		uniform.Data[i] = 7
	}
	ds := &store.Dataset{Volume: uniform, Spacing: models.DefaultSpacing()}

	dest := filepath.Join(t.TempDir(), "empty.obj")
	res, err := newTestPipeline(t, testConfig()).Mesh(context.Background(), ds, mustPercent(t, 50), dest)
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if !res.Mesh.Empty() {
		t.Errorf("Expected empty mesh, got %d faces", len(res.Mesh.Faces))
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != models.SmoothingDegraded {
		t.Errorf("Expected a smoothing warning, got %v", res.Warnings)
	}

	mesh, err := obj.ReadFile(dest, models.AxesXYZ)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(mesh.Vertices) != 0 || len(mesh.Faces) != 0 {
		t.Error("Expected an OBJ without records")
	}
}

func TestMeshInvalidSmoothingFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing.Lambda = 0

	p := newTestPipeline(t, cfg)
	ds, _, err := p.Reconstruct(context.Background(), sphereInput(t))
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	res, err := p.Mesh(context.Background(), ds, mustPercent(t, 50), filepath.Join(t.TempDir(), "raw.obj"))
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != models.SmoothingDegraded {
		t.Errorf("Expected a smoothing warning, got %v", res.Warnings)
	}

	raw, err := isosurface.Extractor{}.Extract(ds.Volume, ds.Spacing, mustPercent(t, 50))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw.Vertices) != len(res.Mesh.Vertices) || raw.Vertices[0] != res.Mesh.Vertices[0] {
		t.Error("Expected the raw mesh after a smoothing failure")
	}
}

func TestMeshSTL(t *testing.T) {
	cfg := testConfig()
	cfg.Export.Format = "stl"
	cfg.Export.AxisOrder = "zyx"

	p := newTestPipeline(t, cfg)
	dest := filepath.Join(t.TempDir(), "sphere.stl")
	res, err := p.Run(context.Background(), sphereInput(t), isosurface.Mean(), dest)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	triangles, err := stl.Read(f)
	if err != nil {
		t.Fatalf("stl.Read: %v", err)
	}
	if len(triangles) != len(res.Mesh.Faces) {
		t.Errorf("Expected %d triangles, got %d", len(res.Mesh.Faces), len(triangles))
	}
}

func TestSavedDatasetGivesSameMesh(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ds, _, err := p.Reconstruct(context.Background(), sphereInput(t))
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "dataset")
	if err := p.Save(ds, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID() != ds.ID() {
		t.Errorf("Expected id %s after reload, got %s", ds.ID(), loaded.ID())
	}

	sel := mustPercent(t, 50)
	a, err := p.Mesh(context.Background(), ds, sel, filepath.Join(t.TempDir(), "a.obj"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Mesh(context.Background(), loaded, sel, filepath.Join(t.TempDir(), "b.obj"))
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Mesh.Faces) != len(b.Mesh.Faces) || a.Mesh.Vertices[0] != b.Mesh.Vertices[0] {
		t.Error("Mesh from the reloaded dataset differs")
	}
}

func TestRunCancelled(t *testing.T) {
	input := sphereInput(t)
	dest := filepath.Join(t.TempDir(), "never.obj")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestPipeline(t, testConfig()).Run(ctx, input, isosurface.Mean(), dest); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("No file may be written for a cancelled run")
	}
}

func TestRunNoSlices(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestPipeline(t, testConfig()).Run(context.Background(), dir, isosurface.Mean(), filepath.Join(dir, "x.obj"))
	var noSlices *reconstruction.NoValidSlicesError
	if !errors.As(err, &noSlices) {
		t.Errorf("Expected NoValidSlicesError, got %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Export.Format = "ply"
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for unknown export format")
	}
	if _, err := New(nil); err != nil {
		t.Errorf("Expected defaults for nil config, got %v", err)
	}
}
