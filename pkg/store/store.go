// Package store persists reconstructed volumes so meshes can be extracted
// later without re-reading the source slices.
//
// A dataset directory holds two files: volume.npy, the voxel grid as a
// NumPy float64 array of shape (depth, height, width), and metadata.json,
// the key-value summary including the exact spacing triple.
package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"neuromesh/internal/fsutil"
	"neuromesh/internal/models"
)

const (
	// VolumeFile is the array file inside a dataset directory
	VolumeFile = "volume.npy"

	// MetadataFile is the metadata record inside a dataset directory
	MetadataFile = "metadata.json"
)

// ErrNoDataset is returned by Load when dir holds no dataset
var ErrNoDataset = errors.New("no dataset")

// Dataset is a volume loaded back from disk
type Dataset struct {
	Dir      string
	Volume   *models.Volume
	Spacing  models.Spacing
	Metadata models.Metadata
}

// ID returns the dataset identity recorded at save time
func (d *Dataset) ID() string {
	return d.Metadata.DatasetID
}

// Identify derives a stable dataset identity from the voxel data and the
// spacing. Equal volumes always get the same id.
func Identify(vol *models.Volume, spacing models.Spacing) string {
	h := sha256.New()
	var buf [8]byte
	for _, d := range vol.Shape() {
		binary.LittleEndian.PutUint64(buf[:], uint64(d))
		h.Write(buf[:])
	}
	for _, s := range spacing.Tuple() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(s))
		h.Write(buf[:])
	}
	for _, v := range vol.Data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, h.Sum(nil)).String()
}

// Save writes vol and its metadata into dir. Shape and spacing in the
// stored metadata always come from vol and spacing, and an empty
// DatasetID is filled with Identify. The stored metadata is returned.
func Save(dir string, vol *models.Volume, spacing models.Spacing, meta models.Metadata) (models.Metadata, error) {
	if err := vol.Validate(); err != nil {
		return meta, fmt.Errorf("store: %w", err)
	}
	if err := spacing.Validate(); err != nil {
		return meta, fmt.Errorf("store: %w", err)
	}

	meta.Shape = vol.Shape()
	meta.Spacing = spacing.Tuple()
	meta.VoxelSize = spacing.VoxelSize()
	if meta.DatasetID == "" {
		meta.DatasetID = Identify(vol, spacing)
	}

	// a metadata file implies a complete volume that matches it, so any
	// previous record goes before the volume is replaced
	metaPath := filepath.Join(dir, MetadataFile)
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return meta, fmt.Errorf("store: failed to remove old metadata: %w", err)
	}

	shape := vol.Shape()
	err := fsutil.WriteFileAtomic(filepath.Join(dir, VolumeFile), func(w io.Writer) error {
		return writeNPY(w, shape[:], vol.Data)
	})
	if err != nil {
		return meta, fmt.Errorf("store: failed to write volume: %w", err)
	}

	err = fsutil.WriteFileAtomic(metaPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	})
	if err != nil {
		return meta, fmt.Errorf("store: failed to write metadata: %w", err)
	}
	return meta, nil
}

// Load reads a dataset written by Save
func Load(dir string) (*Dataset, error) {
	meta, err := LoadMetadata(dir)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, VolumeFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store: %w: %s has no %s", ErrNoDataset, dir, VolumeFile)
		}
		return nil, fmt.Errorf("store: %w", err)
	}
	defer f.Close()

	shape, data, err := readNPY(f, meta.Shape[:])
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", f.Name(), err)
	}

	vol := &models.Volume{Data: data, Depth: shape[0], Height: shape[1], Width: shape[2]}
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	spacing := meta.SpacingValue()
	if err := spacing.Validate(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Dataset{
		Dir:      dir,
		Volume:   vol,
		Spacing:  spacing,
		Metadata: *meta,
	}, nil
}

// LoadMetadata reads only the metadata record of a dataset
func LoadMetadata(dir string) (*models.Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store: %w in %s", ErrNoDataset, dir)
		}
		return nil, fmt.Errorf("store: %w", err)
	}
	var meta models.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("store: failed to parse %s: %w", MetadataFile, err)
	}
	return &meta, nil
}
