package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"neuromesh/internal/models"
	"neuromesh/pkg/cache"
	"neuromesh/pkg/config"
	"neuromesh/pkg/isosurface"
	"neuromesh/pkg/pipeline"
)

var (
	cfgFile  string
	verbose  bool
	numCores int
)

var rootCmd = &cobra.Command{
	Use:   "neuromesh",
	Short: "Reconstruct volumes from medical slices and export isosurface meshes",
	Long: `neuromesh turns a directory of 2D cross-sections (DICOM files, or
16-bit PNG/TIFF images with YAML sidecars) into a 3D volume and extracts
the surface at a chosen density as an OBJ or STL mesh.

The pipeline includes:
  - Slice discovery in nested directories, ordered by slice position
  - Voxel spacing derivation with a sanity clamp for broken metadata
  - Marching cubes isosurface extraction at a mean or percentage threshold
  - Taubin smoothing and atomic mesh export`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "neuromesh.yaml", "config file (missing files fall back to defaults)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)
	rootCmd.PersistentFlags().IntVar(
		&numCores, "cores", 0, "number of CPU cores to use (default: config value)",
	)
}

// loadConfig reads the config file and applies the persistent flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	if numCores > 0 {
		cfg.Processing.NumCores = numCores
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newPipeline builds a pipeline; the mesh cache is attached when useCache is set
func newPipeline(cfg *config.Config, logger *slog.Logger, useCache bool) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if useCache {
		meshCache, err := cache.NewDirCache(cfg.Output.CacheDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithCache(meshCache))
	}
	return pipeline.New(cfg, opts...)
}

// selectorFor parses the --density flag, falling back to the configured default
func selectorFor(cmd *cobra.Command, flag string, cfg *config.Config) (isosurface.Selector, error) {
	density := cfg.Extraction.Density
	if cmd.Flags().Changed(flag) {
		density, _ = cmd.Flags().GetString(flag)
	}
	return isosurface.ParseSelector(density)
}

func printWarnings(w io.Writer, warnings []models.Warning) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}
