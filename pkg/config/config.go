// Package config provides configuration loading and management for fmriglm.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"fmriglm/pkg/contrast"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// ContrastConfig describes one contrast to test
type ContrastConfig struct {
	// Name is also the name of the contrast output directory
	Name string `yaml:"name"`

	// Kind is "t" or "f"
	Kind string `yaml:"kind"`

	// Matrix holds one row per contrast row, one column per design column
	Matrix [][]float64 `yaml:"matrix"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input data
	Input struct {
		// Image is the 4-D functional image (frames first)
		Image string `yaml:"image"`

		// Design is a CSV file with one row per frame and one column per regressor
		Design string `yaml:"design"`

		// Mask is an optional 3-D image; voxels equal to zero are skipped
		Mask string `yaml:"mask"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// Path is the root directory of every output
		Path string `yaml:"path"`

		// Subpath is the directory under Path holding one directory per contrast
		Subpath string `yaml:"subpath"`

		// Ext selects the image format: ".img" (NIfTI pair) or ".nii"
		Ext string `yaml:"ext"`

		// Clobber allows existing images to be overwritten
		Clobber bool `yaml:"clobber"`

		// Effect, SD and T select the products of t contrasts
		Effect bool `yaml:"effect"`
		SD     bool `yaml:"sd"`
		T      bool `yaml:"t"`

		// Resid enables the residual image
		Resid bool `yaml:"resid"`

		// ResidBasename names the residual image
		ResidBasename string `yaml:"residBasename"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	Contrasts []ContrastConfig `yaml:"contrasts"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Output.Path = "."
	cfg.Output.Subpath = "contrasts"
	cfg.Output.Ext = ".img"
	cfg.Output.Clobber = false
	cfg.Output.Effect = true
	cfg.Output.SD = true
	cfg.Output.T = true
	cfg.Output.Resid = false
	cfg.Output.ResidBasename = "resid"
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks that the configuration describes a runnable GLM pass
func (c *Config) Validate() error {
	if c.Input.Image == "" {
		return errors.Wrap(ErrInvalidConfig, "input.image is required")
	}
	if c.Input.Design == "" {
		return errors.Wrap(ErrInvalidConfig, "input.design is required")
	}
	switch c.Output.Ext {
	case ".img", ".nii":
	default:
		return errors.Wrapf(ErrInvalidConfig, "output.ext %q must be .img or .nii", c.Output.Ext)
	}
	if len(c.Contrasts) == 0 && !c.Output.Resid {
		return errors.Wrap(ErrInvalidConfig, "nothing to write: no contrasts and resid disabled")
	}

	seen := make(map[string]bool)
	for i, cc := range c.Contrasts {
		if seen[cc.Name] {
			return errors.Wrapf(ErrInvalidConfig, "duplicate contrast name %q", cc.Name)
		}
		seen[cc.Name] = true
		if _, _, err := cc.Build(); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "contrast %d: %v", i, err)
		}
	}
	return nil
}

// Build turns the entry into a validated contrast and its kind
func (cc ContrastConfig) Build() (*contrast.Contrast, contrast.Kind, error) {
	kind, err := contrast.ParseKind(cc.Kind)
	if err != nil {
		return nil, 0, err
	}
	c, err := contrast.New(cc.Name, cc.Matrix)
	if err != nil {
		return nil, 0, err
	}
	if err := c.Check(kind, 0); err != nil {
		return nil, 0, err
	}
	return c, kind, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	cfg.Input.Image = "func.nii"
	cfg.Input.Design = "design.csv"
	cfg.Contrasts = []ContrastConfig{
		{Name: "task", Kind: "t", Matrix: [][]float64{{1, 0}}},
		{Name: "all", Kind: "f", Matrix: [][]float64{{1, 0}, {0, 1}}},
	}
	return SaveConfig(cfg, configPath)
}
