// Package config resolves runner configuration. Settings come from
// .harness.yaml, HARNESS_* environment variables, and CLI flags via viper;
// per-project manifests are strict TOML. The engine only ever consumes the
// resolved Config shape.
package config

import (
	"runtime"

	"github.com/spf13/viper"
)

// Project is one named configuration a suite runs under. Options override
// registered option fixtures by name.
type Project struct {
	ID      string         `mapstructure:"id" toml:"id"`
	Options map[string]any `mapstructure:"options" toml:"options"`
}

// Config is the resolved runner configuration.
type Config struct {
	TimeoutMs        int64     `mapstructure:"timeout_ms"`
	WorkerTeardownMs int64     `mapstructure:"worker_teardown_ms"`
	Workers          int       `mapstructure:"workers"`
	Retries          int       `mapstructure:"retries"`
	RepeatEach       int       `mapstructure:"repeat_each"`
	Projects         []Project `mapstructure:"projects"`
	HistoryDB        string    `mapstructure:"history_db"`
	Verbose          bool      `mapstructure:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() Config {
	viper.SetDefault("timeout_ms", 30000)
	viper.SetDefault("worker_teardown_ms", 30000)
	viper.SetDefault("workers", defaultWorkers())
	viper.SetDefault("retries", 0)
	viper.SetDefault("repeat_each", 1)
	viper.SetDefault("history_db", ".harness/history.db")
	viper.SetDefault("verbose", false)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	if cfg.RepeatEach < 1 {
		cfg.RepeatEach = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if len(cfg.Projects) == 0 {
		cfg.Projects = []Project{{ID: "default"}}
	}
	return cfg
}

// defaultWorkers caps parallelism at half the CPUs, minimum one.
func defaultWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}
