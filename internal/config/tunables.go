package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read from the working directory unless
// WASM_SERVER_RUNNER_CONFIG points elsewhere.
const DefaultConfigFile = "wasm-server-runner.yaml"

// Tunables contains server parameters that rarely need changing.
// These can be overridden via wasm-server-runner.yaml
type Tunables struct {
	// Timeouts
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`   // Graceful shutdown bound (default: 5s)
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"` // (default: 10s)
	IdleTimeout       time.Duration `yaml:"idleTimeout"`       // Keep-alive idle timeout (default: 120s)
	DebounceDuration  time.Duration `yaml:"debounceDuration"`  // File watcher debounce (default: 300ms)

	// Payload
	CompressionLevel int  `yaml:"compressionLevel"` // gzip level for the precompressed wasm (default: 2)
	MinifyIndex      bool `yaml:"minifyIndex"`      // Minify the rendered index page (default: true)

	// Port selection when the address has no port
	PortStart uint16 `yaml:"portStart"` // First port probed (default: 1334)
	PortTries uint16 `yaml:"portTries"` // Additional consecutive ports probed (default: 10)
}

// DefaultTunables returns the default tunables
func DefaultTunables() *Tunables {
	return &Tunables{
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		DebounceDuration:  300 * time.Millisecond,

		CompressionLevel: 2,
		MinifyIndex:      true,

		PortStart: 1334,
		PortTries: 10,
	}
}

// LoadTunables loads tunables from path.
// Returns defaults if the file doesn't exist; a malformed file is an error.
func LoadTunables(fsys afero.Fs, path string) (*Tunables, error) {
	cfg := DefaultTunables()

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.validate()

	return cfg, nil
}

// validate ensures values are within reasonable bounds
func (t *Tunables) validate() {
	// Timeouts
	if t.ShutdownTimeout < 1*time.Second {
		t.ShutdownTimeout = 1 * time.Second
	}
	if t.ShutdownTimeout > 60*time.Second {
		t.ShutdownTimeout = 60 * time.Second
	}
	if t.ReadHeaderTimeout < 1*time.Second {
		t.ReadHeaderTimeout = 1 * time.Second
	}
	if t.IdleTimeout < 1*time.Second {
		t.IdleTimeout = 1 * time.Second
	}
	if t.DebounceDuration < 10*time.Millisecond {
		t.DebounceDuration = 10 * time.Millisecond
	}
	if t.DebounceDuration > 5*time.Second {
		t.DebounceDuration = 5 * time.Second
	}

	// gzip accepts 1-9; 0 would mean "store only"
	if t.CompressionLevel < 1 {
		t.CompressionLevel = 1
	}
	if t.CompressionLevel > 9 {
		t.CompressionLevel = 9
	}

	if t.PortStart == 0 {
		t.PortStart = 1334
	}
	if t.PortTries > 1000 {
		t.PortTries = 1000
	}
}
