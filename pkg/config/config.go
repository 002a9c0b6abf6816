// Package config provides configuration loading and management for neuromesh.
// It handles loading configuration from YAML files and NEUROMESH_ environment
// variables and provides default values.
package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"neuromesh/internal/fsutil"
	"neuromesh/internal/models"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. NEUROMESH_SMOOTHING_ITERATIONS=20
const EnvPrefix = "NEUROMESH"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for scanning and extraction
		NumCores int `yaml:"numCores" mapstructure:"numCores"`
	} `yaml:"processing" mapstructure:"processing"`

	// Reconstruction parameters
	Reconstruction struct {
		// MinSliceSpacing is the smallest plausible slice spacing in mm.
		// Anything below it is treated as broken metadata.
		MinSliceSpacing float64 `yaml:"minSliceSpacing" mapstructure:"minSliceSpacing"`

		// FallbackSliceSpacing replaces implausible slice spacings
		FallbackSliceSpacing float64 `yaml:"fallbackSliceSpacing" mapstructure:"fallbackSliceSpacing"`

		// RejectDuplicatePositions fails reconstruction when two slices share
		// a stacking position instead of keeping them in scan order
		RejectDuplicatePositions bool `yaml:"rejectDuplicatePositions" mapstructure:"rejectDuplicatePositions"`

		// DenoiseSigma is the Gaussian low-pass width in pixels applied to each
		// slice before stacking. Zero disables denoising.
		DenoiseSigma float64 `yaml:"denoiseSigma" mapstructure:"denoiseSigma"`
	} `yaml:"reconstruction" mapstructure:"reconstruction"`

	// Extraction parameters
	Extraction struct {
		// Density is the default density selector: "mean" or a percentage 0-100
		Density string `yaml:"density" mapstructure:"density"`
	} `yaml:"extraction" mapstructure:"extraction"`

	// Smoothing parameters (Taubin lambda/mu scheme)
	Smoothing struct {
		Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
		Iterations int     `yaml:"iterations" mapstructure:"iterations"`
		Lambda     float64 `yaml:"lambda" mapstructure:"lambda"`
		Mu         float64 `yaml:"mu" mapstructure:"mu"`
	} `yaml:"smoothing" mapstructure:"smoothing"`

	// Export parameters
	Export struct {
		// Format is "obj" or "stl"
		Format string `yaml:"format" mapstructure:"format"`

		// AxisOrder maps mesh X/Y/Z to the file's coordinate columns
		AxisOrder string `yaml:"axisOrder" mapstructure:"axisOrder"`

		// Precision is the number of decimals written for OBJ coordinates,
		// -1 for the shortest exact representation
		Precision int `yaml:"precision" mapstructure:"precision"`
	} `yaml:"export" mapstructure:"export"`

	// Output parameters
	Output struct {
		// CacheDir holds generated meshes keyed by dataset and density
		CacheDir string `yaml:"cacheDir" mapstructure:"cacheDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" mapstructure:"verbose"`
	} `yaml:"output" mapstructure:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Reconstruction.MinSliceSpacing = 0.5
	cfg.Reconstruction.FallbackSliceSpacing = 3.0
	cfg.Reconstruction.RejectDuplicatePositions = false
	cfg.Reconstruction.DenoiseSigma = 0

	cfg.Extraction.Density = "mean"

	cfg.Smoothing.Enabled = true
	cfg.Smoothing.Iterations = 10
	cfg.Smoothing.Lambda = 0.5
	cfg.Smoothing.Mu = -0.53

	cfg.Export.Format = "obj"
	cfg.Export.AxisOrder = "xyz"
	cfg.Export.Precision = 6

	cfg.Output.CacheDir = "mesh_cache"
	cfg.Output.Verbose = false

	return cfg
}

// setDefaults registers every leaf of DefaultConfig with viper so that a
// partial config file only overrides the keys it names
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("processing.numCores", d.Processing.NumCores)
	v.SetDefault("reconstruction.minSliceSpacing", d.Reconstruction.MinSliceSpacing)
	v.SetDefault("reconstruction.fallbackSliceSpacing", d.Reconstruction.FallbackSliceSpacing)
	v.SetDefault("reconstruction.rejectDuplicatePositions", d.Reconstruction.RejectDuplicatePositions)
	v.SetDefault("reconstruction.denoiseSigma", d.Reconstruction.DenoiseSigma)
	v.SetDefault("extraction.density", d.Extraction.Density)
	v.SetDefault("smoothing.enabled", d.Smoothing.Enabled)
	v.SetDefault("smoothing.iterations", d.Smoothing.Iterations)
	v.SetDefault("smoothing.lambda", d.Smoothing.Lambda)
	v.SetDefault("smoothing.mu", d.Smoothing.Mu)
	v.SetDefault("export.format", d.Export.Format)
	v.SetDefault("export.axisOrder", d.Export.AxisOrder)
	v.SetDefault("export.precision", d.Export.Precision)
	v.SetDefault("output.cacheDir", d.Output.CacheDir)
	v.SetDefault("output.verbose", d.Output.Verbose)
}

// LoadConfig loads configuration from a YAML file and the environment.
// If configPath is empty or the file doesn't exist, defaults plus
// environment overrides are returned.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the pipeline
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		c.Processing.NumCores = 1
	}
	if c.Reconstruction.FallbackSliceSpacing <= 0 {
		return fmt.Errorf("reconstruction.fallbackSliceSpacing must be > 0, got %g", c.Reconstruction.FallbackSliceSpacing)
	}
	if c.Reconstruction.DenoiseSigma < 0 {
		return fmt.Errorf("reconstruction.denoiseSigma must be >= 0, got %g", c.Reconstruction.DenoiseSigma)
	}
	if c.Smoothing.Iterations < 0 {
		return fmt.Errorf("smoothing.iterations must be >= 0, got %d", c.Smoothing.Iterations)
	}
	switch c.Export.Format {
	case "obj", "stl":
	default:
		return fmt.Errorf("export.format must be obj or stl, got %q", c.Export.Format)
	}
	if _, err := models.ParseAxisOrder(c.Export.AxisOrder); err != nil {
		return fmt.Errorf("export.axisOrder: %w", err)
	}
	return nil
}

// Axes returns the parsed export axis order
func (c *Config) Axes() models.AxisOrder {
	axes, err := models.ParseAxisOrder(c.Export.AxisOrder)
	if err != nil {
		return models.AxesXYZ
	}
	return axes
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	err = fsutil.WriteFileAtomic(configPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
