package reconstruction

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"neuromesh/internal/models"
	"neuromesh/pkg/denoise"
	"neuromesh/pkg/ingest"
)

const (
	// DefaultMinSliceSpacing is the smallest slice spacing in mm accepted as
	// genuine. Smaller values usually come from unit-confused metadata.
	DefaultMinSliceSpacing = 0.5

	// DefaultFallbackSliceSpacing replaces implausible slice spacings
	DefaultFallbackSliceSpacing = 3.0
)

// Params holds the reconstruction parameters
type Params struct {
	// NumCores bounds how many files are probed concurrently
	NumCores int

	// MinSliceSpacing and FallbackSliceSpacing drive the slice spacing
	// sanity clamp. Zero values select the defaults.
	MinSliceSpacing      float64
	FallbackSliceSpacing float64

	// RejectDuplicatePositions turns equal stacking positions into an error.
	// By default duplicates are kept in scan order.
	RejectDuplicatePositions bool

	// DenoiseSigma enables per-slice Gaussian low-pass filtering when > 0
	DenoiseSigma float64

	// Registry classifies input files. Nil selects ingest.DefaultRegistry.
	Registry *ingest.Registry

	// Logger receives progress and warnings. Nil selects slog.Default.
	Logger *slog.Logger
}

// Result is the output of a reconstruction
type Result struct {
	Volume   *models.Volume
	Spacing  models.Spacing
	Metadata models.Metadata
	Warnings []models.Warning

	// Accepted and Rejected count the classified files
	Accepted int
	Rejected int
}

// Reconstructor turns a directory tree of slice files into a volume.
//
// The reconstruction process consists of several steps:
// 1. Walking the input tree and classifying every file in parallel
// 2. Sorting accepted slices along the stacking axis
// 3. Deriving the voxel spacing, clamping implausible slice spacings
// 4. Optionally denoising each slice
// 5. Stacking the slices into a dense volume
type Reconstructor struct {
	params Params
	logger *slog.Logger
}

// NewReconstructor creates a new reconstructor instance with the provided parameters
func NewReconstructor(params Params) *Reconstructor {
	if params.NumCores < 1 {
		params.NumCores = runtime.NumCPU()
	}
	if params.MinSliceSpacing <= 0 {
		params.MinSliceSpacing = DefaultMinSliceSpacing
	}
	if params.FallbackSliceSpacing <= 0 {
		params.FallbackSliceSpacing = DefaultFallbackSliceSpacing
	}
	if params.Registry == nil {
		params.Registry = ingest.DefaultRegistry()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{params: params, logger: logger}
}

// Reconstruct scans dir and builds the volume
func (r *Reconstructor) Reconstruct(ctx context.Context, dir string) (*Result, error) {
	slices, rejected, err := r.loadSlices(ctx, dir)
	if err != nil {
		return nil, err
	}
	if len(slices) == 0 {
		return nil, &NoValidSlicesError{Dir: dir, Rejected: rejected}
	}

	SortSlices(slices)
	if r.params.RejectDuplicatePositions {
		if err := checkDuplicates(slices); err != nil {
			return nil, err
		}
	}

	spacing, warnings := r.deriveSpacing(slices)

	if r.params.DenoiseSigma > 0 {
		if err := r.denoiseSlices(slices); err != nil {
			return nil, err
		}
	}

	vol, err := Stack(slices)
	if err != nil {
		return nil, err
	}

	r.logger.Info("reconstructed volume",
		"dir", dir,
		"slices", len(slices),
		"rejected", rejected,
		"shape", fmt.Sprintf("%dx%dx%d", vol.Depth, vol.Height, vol.Width),
		"spacing_zyx", spacing.Tuple(),
	)

	return &Result{
		Volume:   vol,
		Spacing:  spacing,
		Metadata: buildMetadata(slices, vol, spacing),
		Warnings: warnings,
		Accepted: len(slices),
		Rejected: rejected,
	}, nil
}

// loadSlices walks dir recursively and classifies every regular file.
// Classification runs concurrently; results keep the walk order.
func (r *Reconstructor) loadSlices(ctx context.Context, dir string) ([]*models.Slice, int, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			r.logger.Warn("skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		switch {
		case d.Type().IsRegular():
			paths = append(paths, path)
		case d.Type()&fs.ModeSymlink != 0:
			// linked files count, linked directories are not descended
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				paths = append(paths, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	verdicts := make([]ingest.Verdict, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.params.NumCores)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verdicts[i] = r.params.Registry.Classify(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var slices []*models.Slice
	rejected := 0
	for _, v := range verdicts {
		if !v.Accepted {
			rejected++
			r.logger.Debug("skipping file", "path", v.Path, "format", v.Format, "reason", v.Reason)
			continue
		}
		slices = append(slices, v.Slice)
	}
	return slices, rejected, nil
}

// SortSlices orders slices ascending along the stacking axis. The sort is
// stable: slices at the same position keep their scan order.
func SortSlices(slices []*models.Slice) {
	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].StackPosition() < slices[j].StackPosition()
	})
}

func checkDuplicates(sorted []*models.Slice) error {
	for i := 1; i < len(sorted); i++ {
		if sorted[i].StackPosition() == sorted[i-1].StackPosition() {
			return &DuplicatePositionError{
				Position: sorted[i].StackPosition(),
				First:    sorted[i-1].Path,
				Second:   sorted[i].Path,
			}
		}
	}
	return nil
}

// DeriveSpacing computes the voxel spacing from sorted slices without the
// sanity clamp
func DeriveSpacing(sorted []*models.Slice) models.Spacing {
	spacing := models.DefaultSpacing()
	if len(sorted) == 0 {
		return spacing
	}

	first := sorted[0]
	if first.PixelSpacing != nil {
		spacing.Y, spacing.X = first.PixelSpacing[0], first.PixelSpacing[1]
	}

	switch {
	case first.Thickness != nil:
		spacing.Z = *first.Thickness
	case len(sorted) > 1:
		d := sorted[1].StackPosition() - first.StackPosition()
		if d < 0 {
			d = -d
		}
		spacing.Z = d
	}
	return spacing
}

// ClampSliceSpacing replaces a dz below min, or one that is not finite,
// with fallback. It reports whether the value was replaced.
func ClampSliceSpacing(dz, min, fallback float64) (float64, bool) {
	if !(dz >= min) || math.IsInf(dz, 0) {
		return fallback, true
	}
	return dz, false
}

func (r *Reconstructor) deriveSpacing(sorted []*models.Slice) (models.Spacing, []models.Warning) {
	spacing := DeriveSpacing(sorted)

	var warnings []models.Warning
	dz, clamped := ClampSliceSpacing(spacing.Z, r.params.MinSliceSpacing, r.params.FallbackSliceSpacing)
	if clamped {
		msg := fmt.Sprintf("slice spacing %.2f mm is suspiciously small, using %.2f mm", spacing.Z, dz)
		r.logger.Warn(msg, "derived", spacing.Z, "fallback", dz)
		warnings = append(warnings, models.Warning{Kind: models.SpacingAnomaly, Message: msg})
		spacing.Z = dz
	}

	// pixel spacing from metadata can still be zero or negative
	if !validPixelSpacing(spacing.Y) || !validPixelSpacing(spacing.X) {
		r.logger.Warn("invalid pixel spacing, using 1.0 mm", "row", spacing.Y, "col", spacing.X)
		spacing.Y, spacing.X = 1, 1
	}
	return spacing, warnings
}

func validPixelSpacing(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func (r *Reconstructor) denoiseSlices(slices []*models.Slice) error {
	filter := denoise.Gaussian{Sigma: r.params.DenoiseSigma}
	for _, s := range slices {
		filtered, err := filter.Apply(s.Pixels, s.Rows, s.Cols)
		if err != nil {
			return fmt.Errorf("failed to denoise %s: %w", s.Path, err)
		}
		s.Pixels = filtered
	}
	return nil
}

// Stack copies sorted slices into a volume. Every slice must share the
// first slice's shape.
func Stack(sorted []*models.Slice) (*models.Volume, error) {
	if len(sorted) == 0 {
		return nil, &NoValidSlicesError{}
	}
	rows, cols := sorted[0].Rows, sorted[0].Cols
	for _, s := range sorted[1:] {
		if s.Rows != rows || s.Cols != cols {
			return nil, &InconsistentSliceShapeError{
				Path: s.Path,
				Want: [2]int{rows, cols},
				Got:  [2]int{s.Rows, s.Cols},
			}
		}
	}

	vol := models.NewVolume(len(sorted), rows, cols)
	size := rows * cols
	for z, s := range sorted {
		copy(vol.Data[z*size:(z+1)*size], s.Pixels)
	}
	return vol, nil
}

func buildMetadata(sorted []*models.Slice, vol *models.Volume, spacing models.Spacing) models.Metadata {
	first := sorted[0]
	meta := models.Metadata{
		PatientID:  first.PatientID,
		Modality:   first.Modality,
		StudyUID:   first.StudyUID,
		SeriesUID:  first.SeriesUID,
		SliceCount: len(sorted),
		VoxelSize:  spacing.VoxelSize(),
		Spacing:    spacing.Tuple(),
		Shape:      vol.Shape(),

		IntensityMin:  floats.Min(vol.Data),
		IntensityMax:  floats.Max(vol.Data),
		IntensityMean: stat.Mean(vol.Data, nil),
	}
	if meta.PatientID == "" {
		meta.PatientID = "ANONYMOUS"
	}
	if meta.Modality == "" {
		meta.Modality = "MR"
	}
	return meta
}
