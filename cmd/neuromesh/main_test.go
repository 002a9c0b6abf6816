package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"neuromesh/internal/models"
	"neuromesh/internal/testutil"
	"neuromesh/pkg/obj"
	"neuromesh/pkg/store"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("neuromesh %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestCommands(t *testing.T) {
	work := t.TempDir()
	cfgPath := filepath.Join(work, "neuromesh.yaml")
	input := filepath.Join(work, "upload")
	datasetDir := filepath.Join(work, "dataset")
	meshPath := filepath.Join(work, "sphere.obj")

	testutil.SphereSlices(t, input, 16, 16, 16, 5, 1.0)

	execute(t, "config", "init", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("Expected config file: %v", err)
	}

	out := execute(t, "--config", cfgPath, "reconstruct", input, "--out", datasetDir)
	if !strings.Contains(out, "Slices:     16") {
		t.Errorf("Unexpected reconstruct output:\n%s", out)
	}
	if _, err := store.Load(datasetDir); err != nil {
		t.Fatalf("Load: %v", err)
	}

	out = execute(t, "--config", cfgPath, "mesh", datasetDir, "--density", "50", "--out", meshPath)
	if !strings.Contains(out, "threshold 500") {
		t.Errorf("Unexpected mesh output:\n%s", out)
	}
	mesh, err := obj.ReadFile(meshPath, models.AxesXYZ)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if mesh.Empty() {
		t.Error("Expected a non-empty mesh")
	}
}
