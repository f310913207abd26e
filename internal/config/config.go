// Package config loads the ambient configuration cmd/fluxvm reads
// before starting the VM: GC tuning, tracing, and the cache directory.
// cmd/fluxvm applies the GC and tracing settings; CacheDir is parsed
// and defaulted but no command uses it (the cache commands take
// explicit paths). A config file is optional; every field has a
// zero-value-safe default matching the VM's own built-in defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fluxlang/flux/heap"
)

// Config is the shape of an optional fluxvm.yaml document.
type Config struct {
	GC struct {
		Enabled   bool `yaml:"enabled"`
		Threshold int  `yaml:"threshold"`
	} `yaml:"gc"`

	Trace bool `yaml:"trace"`

	CacheDir string `yaml:"cache_dir"`
}

// Default returns the configuration the VM uses when no fluxvm.yaml is
// present: GC enabled at the default threshold, tracing off, cache
// files kept alongside the current working directory's .fluxcache.
func Default() *Config {
	cfg := &Config{CacheDir: ".fluxcache"}
	cfg.GC.Enabled = true
	cfg.GC.Threshold = heap.DefaultThreshold
	return cfg
}

// Load reads and parses the YAML document at path, filling in any
// field the document omits with Default's value. A missing file is
// not an error: Load returns Default() unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	// Unmarshal onto the defaulted struct so an omitted field in the
	// document keeps its default rather than zeroing out.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.GC.Threshold <= 0 {
		cfg.GC.Threshold = heap.DefaultThreshold
	}
	return cfg, nil
}
