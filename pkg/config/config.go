// Package config provides configuration loading and management for ctcharacterize.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input parameters
	Input struct {
		// ClipMin and ClipMax bound the raw intensities in HU before shifting
		ClipMin float64 `yaml:"clipMin"`
		ClipMax float64 `yaml:"clipMax"`

		// Delta is subtracted from every intensity so that Y = X - Delta is positive
		Delta float64 `yaml:"delta"`
	} `yaml:"input"`

	// Estimation parameters
	Estimation struct {
		// MuHU holds the component means in HU, one per tissue class
		MuHU []float64 `yaml:"muHU"`

		// Iterations is the number of EM passes
		Iterations int `yaml:"iterations"`

		// Neighborhood is the block shape; empty means the whole slice.
		// Small blocks with many components can fail with a degenerate
		// component, see characterization.Params.
		Neighborhood []int `yaml:"neighborhood"`

		// Init selects the initial responsibilities: uniform or kmeans
		Init string `yaml:"init"`

		// Smoothing is the mass kmeans initialization spreads over all components
		Smoothing float64 `yaml:"smoothing"`
	} `yaml:"estimation"`

	// Stabilization parameters
	Stabilization struct {
		// C scales the stabilized output
		C float64 `yaml:"c"`
	} `yaml:"stabilization"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LabelsPath, when set, receives a colour label map of the slice
		LabelsPath string `yaml:"labelsPath"`

		// ImagePath, when set, receives a grayscale rendering of the stabilized slice
		ImagePath string `yaml:"imagePath"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default input parameters
	cfg.Input.ClipMin = -1000
	cfg.Input.ClipMax = 400
	cfg.Input.Delta = -1025

	// Set default estimation parameters (nine tissue classes from bone to air)
	cfg.Estimation.MuHU = []float64{340, 240, 100, 0, -160, -370, -540, -810, -987}
	cfg.Estimation.Iterations = 10
	cfg.Estimation.Init = "kmeans"
	cfg.Estimation.Smoothing = 0.1

	cfg.Stabilization.C = 10

	cfg.Output.Verbose = true

	return cfg
}

// Mu returns the component means shifted into the range of Y
func (c *Config) Mu() []float64 {
	mu := make([]float64, len(c.Estimation.MuHU))
	for i, m := range c.Estimation.MuHU {
		mu[i] = m - c.Input.Delta
	}
	return mu
}

// Validate checks that the configuration can drive a run
func (c *Config) Validate() error {
	if c.Input.ClipMin >= c.Input.ClipMax {
		return fmt.Errorf("clipMin %v must be below clipMax %v", c.Input.ClipMin, c.Input.ClipMax)
	}
	if c.Input.ClipMin-c.Input.Delta <= 0 {
		return fmt.Errorf("clipMin %v minus delta %v must be positive", c.Input.ClipMin, c.Input.Delta)
	}
	if len(c.Estimation.MuHU) == 0 {
		return fmt.Errorf("at least one component mean is required")
	}
	for i, m := range c.Mu() {
		if m <= 0 {
			return fmt.Errorf("component %d mean %v is not above delta %v", i, c.Estimation.MuHU[i], c.Input.Delta)
		}
	}
	if c.Estimation.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Estimation.Iterations)
	}
	for _, n := range c.Estimation.Neighborhood {
		if n < 1 {
			return fmt.Errorf("invalid neighborhood %v", c.Estimation.Neighborhood)
		}
	}
	switch c.Estimation.Init {
	case "uniform":
	case "kmeans":
		if c.Estimation.Smoothing <= 0 || c.Estimation.Smoothing > 1 {
			return fmt.Errorf("smoothing must be in (0, 1], got %v", c.Estimation.Smoothing)
		}
	default:
		return fmt.Errorf("unknown init method %q", c.Estimation.Init)
	}
	if c.Stabilization.C <= 0 {
		return fmt.Errorf("stabilization c must be positive, got %v", c.Stabilization.C)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
