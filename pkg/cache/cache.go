// Package cache maps (dataset, density selector, format) to exported mesh
// files so repeated requests skip extraction.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Key identifies one exported mesh
type Key struct {
	// DatasetID is the identity of the source volume
	DatasetID string

	// Selector is the density selector's stable key, e.g. "avg" or "40"
	Selector string

	// Format is the file extension of the export, e.g. "obj"
	Format string

	// Variant fingerprints the remaining export options (axis order,
	// smoothing, precision). Optional; empty keys share one file per format.
	Variant string
}

func (k Key) validate() error {
	if k.Variant != "" {
		if err := validPart("variant", k.Variant); err != nil {
			return err
		}
	}
	for name, v := range map[string]string{"dataset id": k.DatasetID, "selector": k.Selector, "format": k.Format} {
		if err := validPart(name, v); err != nil {
			return err
		}
	}
	return nil
}

func validPart(name, v string) error {
	if v == "" {
		return fmt.Errorf("cache key: empty %s", name)
	}
	if strings.ContainsAny(v, `/\_*?[`) || v == "." || v == ".." {
		return fmt.Errorf("cache key: invalid %s %q", name, v)
	}
	return nil
}

// MeshCache resolves keys to mesh files. Path returns where an export for
// the key belongs; Lookup reports whether one already exists there.
type MeshCache interface {
	Lookup(key Key) (string, bool)
	Path(key Key) (string, error)
}

// DirCache keeps every mesh in one directory
type DirCache struct {
	dir string
}

// NewDirCache creates dir if needed and returns a cache rooted there
func NewDirCache(dir string) (*DirCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return &DirCache{dir: dir}, nil
}

// Dir returns the cache directory
func (c *DirCache) Dir() string {
	return c.dir
}

// Path returns the file for key: neuromesh_<dataset>_<selector>.<format>,
// with _<variant> before the extension when the key has one
func (c *DirCache) Path(key Key) (string, error) {
	if err := key.validate(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("neuromesh_%s_%s", key.DatasetID, key.Selector)
	if key.Variant != "" {
		name += "_" + key.Variant
	}
	name += "." + key.Format
	return filepath.Join(c.dir, name), nil
}

// Lookup returns the cached file for key if it exists
func (c *DirCache) Lookup(key Key) (string, bool) {
	path, err := c.Path(key)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// Purge removes every cached mesh of a dataset and returns how many files
// were deleted
func (c *DirCache) Purge(datasetID string) (int, error) {
	if err := (Key{DatasetID: datasetID, Selector: "x", Format: "x"}).validate(); err != nil {
		return 0, err
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, "neuromesh_"+datasetID+"_*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", m, err)
		}
		removed++
	}
	return removed, nil
}
