package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harness.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, `
timeout_ms = 10000
retries = 2

[[projects]]
id = "chromium"
[projects.options]
browser = "chromium"

[[projects]]
id = "firefox"
[projects.options]
browser = "firefox"
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.TimeoutMs != 10000 || m.Retries != 2 {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.Projects) != 2 || m.Projects[0].ID != "chromium" {
		t.Fatalf("projects = %+v", m.Projects)
	}
	if m.Projects[1].Options["browser"] != "firefox" {
		t.Errorf("options = %+v", m.Projects[1].Options)
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	t.Parallel()

	m, err := LoadManifest(filepath.Join(t.TempDir(), "harness.toml"))
	if err != nil {
		t.Fatalf("missing manifest should not error: %v", err)
	}
	if m.TimeoutMs != 0 || len(m.Projects) != 0 {
		t.Errorf("zero manifest expected, got %+v", m)
	}
}

func TestLoadManifestUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, "timeot_ms = 10000\n")
	_, err := LoadManifest(path)
	if err == nil {
		t.Fatal("expected a strict decode error")
	}
	if !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestManifestApply(t *testing.T) {
	t.Parallel()

	base := Config{
		TimeoutMs:        30000,
		WorkerTeardownMs: 30000,
		Workers:          4,
		RepeatEach:       1,
		Projects:         []Project{{ID: "default"}},
	}
	m := Manifest{
		TimeoutMs: 5000,
		Retries:   1,
		Projects:  []Project{{ID: "chromium"}, {ID: "firefox"}},
	}
	got := m.Apply(base)
	if got.TimeoutMs != 5000 {
		t.Errorf("TimeoutMs = %d, want the manifest value", got.TimeoutMs)
	}
	if got.WorkerTeardownMs != 30000 {
		t.Errorf("WorkerTeardownMs = %d, want the base value", got.WorkerTeardownMs)
	}
	if got.Retries != 1 || len(got.Projects) != 2 {
		t.Errorf("Apply = %+v", got)
	}

	// The zero manifest changes nothing.
	if got := (Manifest{}).Apply(base); got.TimeoutMs != 30000 || len(got.Projects) != 1 {
		t.Errorf("zero Apply = %+v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.TimeoutMs != 30000 {
		t.Errorf("TimeoutMs = %d, want 30000", cfg.TimeoutMs)
	}
	if cfg.Workers < 1 {
		t.Errorf("Workers = %d, want at least 1", cfg.Workers)
	}
	if cfg.RepeatEach != 1 {
		t.Errorf("RepeatEach = %d, want 1", cfg.RepeatEach)
	}
	if len(cfg.Projects) != 1 || cfg.Projects[0].ID != "default" {
		t.Errorf("Projects = %+v, want the implicit default project", cfg.Projects)
	}
}
