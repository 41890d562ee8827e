package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Manifest is the optional per-suite harness.toml. It declares projects and
// may pin timeouts for the suite regardless of global settings. Decoding is
// strict: unknown keys are a configuration error, not a silent no-op.
type Manifest struct {
	TimeoutMs        int64     `toml:"timeout_ms"`
	WorkerTeardownMs int64     `toml:"worker_teardown_ms"`
	RepeatEach       int       `toml:"repeat_each"`
	Retries          int       `toml:"retries"`
	Projects         []Project `toml:"projects"`
}

// LoadManifest reads and strictly decodes a harness.toml. A missing file is
// not an error; the zero Manifest applies.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("read manifest %s: %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		var details *toml.StrictMissingError
		if errors.As(err, &details) {
			return m, fmt.Errorf("manifest %s: unknown keys:\n%s", path, details.String())
		}
		return m, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Apply folds a manifest's pinned values over the resolved config. Manifest
// values win when set.
func (m Manifest) Apply(cfg Config) Config {
	if m.TimeoutMs > 0 {
		cfg.TimeoutMs = m.TimeoutMs
	}
	if m.WorkerTeardownMs > 0 {
		cfg.WorkerTeardownMs = m.WorkerTeardownMs
	}
	if m.RepeatEach > 0 {
		cfg.RepeatEach = m.RepeatEach
	}
	if m.Retries > 0 {
		cfg.Retries = m.Retries
	}
	if len(m.Projects) > 0 {
		cfg.Projects = m.Projects
	}
	return cfg
}
