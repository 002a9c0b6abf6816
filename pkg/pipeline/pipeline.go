// Package pipeline wires reconstruction, isosurface extraction, smoothing and
// export together. Each stage starts only after the previous one finished;
// the context is checked between stages.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"neuromesh/internal/models"
	"neuromesh/pkg/cache"
	"neuromesh/pkg/config"
	"neuromesh/pkg/ingest"
	"neuromesh/pkg/isosurface"
	"neuromesh/pkg/obj"
	"neuromesh/pkg/reconstruction"
	"neuromesh/pkg/smoothing"
	"neuromesh/pkg/stl"
	"neuromesh/pkg/store"
)

// ErrNoDestination is returned by Mesh when neither a destination path nor
// a cache is available
var ErrNoDestination = errors.New("pipeline: no destination and no mesh cache")

// Pipeline runs the processing stages with one configuration
type Pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	cache    cache.MeshCache
	registry *ingest.Registry
}

// Option customises a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithCache makes Mesh reuse and store exports in c when no destination is
// given
func WithCache(c cache.MeshCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithRegistry replaces the slice formats used during reconstruction
func WithRegistry(r *ingest.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// New creates a pipeline. A nil cfg selects config.DefaultConfig().
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// MeshResult describes one extraction
type MeshResult struct {
	// Path is the exported file
	Path string

	// Cached is set when Path was served from the mesh cache. Mesh is nil
	// in that case.
	Cached bool

	Mesh      *models.Mesh
	Threshold float64
	Warnings  []models.Warning
}

// RunResult is the outcome of Run
type RunResult struct {
	Dataset *store.Dataset
	*MeshResult
}

// Reconstruct builds a dataset from the slice files below dir. The dataset
// id is derived from the voxel data; nothing is written to disk.
func (p *Pipeline) Reconstruct(ctx context.Context, dir string) (*store.Dataset, []models.Warning, error) {
	rec := reconstruction.NewReconstructor(reconstruction.Params{
		NumCores:                 p.cfg.Processing.NumCores,
		MinSliceSpacing:          p.cfg.Reconstruction.MinSliceSpacing,
		FallbackSliceSpacing:     p.cfg.Reconstruction.FallbackSliceSpacing,
		RejectDuplicatePositions: p.cfg.Reconstruction.RejectDuplicatePositions,
		DenoiseSigma:             p.cfg.Reconstruction.DenoiseSigma,
		Registry:                 p.registry,
		Logger:                   p.logger,
	})

	res, err := rec.Reconstruct(ctx, dir)
	if err != nil {
		return nil, nil, err
	}

	meta := res.Metadata
	meta.DatasetID = store.Identify(res.Volume, res.Spacing)
	ds := &store.Dataset{
		Volume:   res.Volume,
		Spacing:  res.Spacing,
		Metadata: meta,
	}
	return ds, res.Warnings, nil
}

// Save persists ds into dir and records dir on the dataset
func (p *Pipeline) Save(ds *store.Dataset, dir string) error {
	meta, err := store.Save(dir, ds.Volume, ds.Spacing, ds.Metadata)
	if err != nil {
		return err
	}
	ds.Metadata = meta
	ds.Dir = dir
	p.logger.Info("saved dataset", "dir", dir, "dataset", meta.DatasetID)
	return nil
}

// Mesh extracts, smooths and exports the isosurface of ds selected by sel.
// An empty dest exports into the mesh cache, returning an existing entry
// without recomputation.
func (p *Pipeline) Mesh(ctx context.Context, ds *store.Dataset, sel isosurface.Selector, dest string) (*MeshResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format := p.cfg.Export.Format
	if dest == "" {
		if p.cache == nil {
			return nil, ErrNoDestination
		}
		key := cache.Key{DatasetID: ds.ID(), Selector: sel.Key(), Format: format, Variant: p.exportVariant()}
		if path, ok := p.cache.Lookup(key); ok {
			p.logger.Info("mesh cache hit", "dataset", key.DatasetID, "density", sel.String(), "path", path)
			return &MeshResult{Path: path, Cached: true}, nil
		}
		path, err := p.cache.Path(key)
		if err != nil {
			return nil, err
		}
		dest = path
	}

	threshold, err := sel.Threshold(ds.Volume)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	extractor := isosurface.Extractor{Workers: p.cfg.Processing.NumCores}
	mesh, err := extractor.ExtractAt(ds.Volume, ds.Spacing, threshold)
	if err != nil {
		return nil, err
	}
	p.logger.Info("extracted isosurface",
		"density", sel.String(),
		"threshold", threshold,
		"vertices", len(mesh.Vertices),
		"faces", len(mesh.Faces),
		"elapsed", time.Since(start),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var warnings []models.Warning
	if p.cfg.Smoothing.Enabled {
		smoothed, warning := p.smooth(mesh)
		mesh = smoothed
		if warning != nil {
			warnings = append(warnings, *warning)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	comment := fmt.Sprintf("neuromesh dataset %s density %s threshold %g", ds.ID(), sel.String(), threshold)
	if err := p.export(dest, mesh, comment); err != nil {
		return nil, err
	}
	p.logger.Info("exported mesh", "path", dest, "format", format)

	return &MeshResult{
		Path:      dest,
		Mesh:      mesh,
		Threshold: threshold,
		Warnings:  warnings,
	}, nil
}

// Run reconstructs the slices below dir and exports one mesh
func (p *Pipeline) Run(ctx context.Context, dir string, sel isosurface.Selector, dest string) (*RunResult, error) {
	ds, warnings, err := p.Reconstruct(ctx, dir)
	if err != nil {
		return nil, err
	}
	res, err := p.Mesh(ctx, ds, sel, dest)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(warnings, res.Warnings...)
	return &RunResult{Dataset: ds, MeshResult: res}, nil
}

// smooth runs Taubin smoothing. Failures are not fatal: the raw mesh is
// returned together with a warning.
func (p *Pipeline) smooth(mesh *models.Mesh) (*models.Mesh, *models.Warning) {
	params := smoothing.Params{
		Iterations: p.cfg.Smoothing.Iterations,
		Lambda:     p.cfg.Smoothing.Lambda,
		Mu:         p.cfg.Smoothing.Mu,
	}
	smoothed, err := smoothing.Taubin(mesh, params)
	if err != nil {
		msg := fmt.Sprintf("smoothing failed, using raw mesh: %v", err)
		p.logger.Warn(msg)
		return mesh, &models.Warning{Kind: models.SmoothingDegraded, Message: msg}
	}
	return smoothed, nil
}

// exportVariant fingerprints the settings that change an exported file for
// the same dataset and density
func (p *Pipeline) exportVariant() string {
	sm := p.cfg.Smoothing
	desc := fmt.Sprintf("axes=%s", p.cfg.Axes())
	if sm.Enabled {
		desc += fmt.Sprintf(" smoothing=%d/%g/%g", sm.Iterations, sm.Lambda, sm.Mu)
	}
	if p.cfg.Export.Format != "stl" {
		desc += fmt.Sprintf(" precision=%d", p.cfg.Export.Precision)
	}
	sum := sha256.Sum256([]byte(desc))
	return hex.EncodeToString(sum[:6])
}

func (p *Pipeline) export(dest string, mesh *models.Mesh, comment string) error {
	axes := p.cfg.Axes()
	switch p.cfg.Export.Format {
	case "stl":
		triangles, err := stl.FromMesh(mesh, axes)
		if err != nil {
			return err
		}
		return stl.SaveToSTL(dest, triangles)
	default:
		return obj.WriteFile(dest, mesh, obj.Options{
			Axes:      axes,
			Precision: p.cfg.Export.Precision,
			Comment:   comment,
		})
	}
}
