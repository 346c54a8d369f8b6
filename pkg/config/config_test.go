package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies that the defaults validate and shift correctly
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}

	mu := cfg.Mu()
	expected := []float64{1365, 1265, 1125, 1025, 865, 655, 485, 215, 38}
	if len(mu) != len(expected) {
		t.Fatalf("Expected %d means, got %d", len(expected), len(mu))
	}
	for i := range expected {
		if mu[i] != expected[i] {
			t.Errorf("Mean %d: expected %v, got %v", i, expected[i], mu[i])
		}
	}
}

// TestLoadConfigMissing verifies that a missing file yields the defaults
func TestLoadConfigMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Estimation.Iterations != DefaultConfig().Estimation.Iterations {
		t.Errorf("Expected default iterations, got %d", cfg.Estimation.Iterations)
	}
}

// TestSaveLoadConfig verifies a round trip and partial overrides
func TestSaveLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Estimation.Neighborhood = []int{8, 8}
	cfg.Estimation.Init = "uniform"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(loaded.Estimation.Neighborhood) != 2 || loaded.Estimation.Neighborhood[0] != 8 {
		t.Errorf("Expected neighborhood [8 8], got %v", loaded.Estimation.Neighborhood)
	}
	if loaded.Estimation.Init != "uniform" {
		t.Errorf("Expected init uniform, got %q", loaded.Estimation.Init)
	}

	partial := filepath.Join(dir, "partial.yaml")
	if err := os.WriteFile(partial, []byte("estimation:\n  iterations: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	loaded, err = LoadConfig(partial)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Estimation.Iterations != 3 {
		t.Errorf("Expected 3 iterations, got %d", loaded.Estimation.Iterations)
	}
	if loaded.Input.Delta != -1025 {
		t.Errorf("Expected default delta to survive, got %v", loaded.Input.Delta)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"inverted clip", func(c *Config) { c.Input.ClipMin, c.Input.ClipMax = 400, -1000 }},
		{"non-positive Y", func(c *Config) { c.Input.Delta = -900 }},
		{"no components", func(c *Config) { c.Estimation.MuHU = nil }},
		{"mean below delta", func(c *Config) { c.Estimation.MuHU = []float64{0, -2000} }},
		{"zero iterations", func(c *Config) { c.Estimation.Iterations = 0 }},
		{"bad neighborhood", func(c *Config) { c.Estimation.Neighborhood = []int{4, 0} }},
		{"unknown init", func(c *Config) { c.Estimation.Init = "random" }},
		{"zero smoothing", func(c *Config) { c.Estimation.Smoothing = 0 }},
		{"zero c", func(c *Config) { c.Stabilization.C = 0 }},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.modify(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("estimation: [unclosed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error for malformed YAML")
	}
}
