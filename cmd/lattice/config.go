package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the lattice configuration file
// (~/.config/lattice/config.yaml). Pointer fields distinguish "not set" from
// zero values.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Execution
	NoBufferReuse *bool `yaml:"no_buffer_reuse"`

	// Server
	ServerAddress string `yaml:"server_address"`

	// Generation defaults
	MaxSteps *int64  `yaml:"max_steps"`
	StopIDs  []int32 `yaml:"stop_ids"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "lattice", "config.yaml")
}

// loadConfig reads the config file. A missing file is not an error; flags
// simply keep their defaults. A file that exists but fails to parse is an
// error: silently ignoring it would run with defaults the user did not ask
// for.
func loadConfig() (Config, error) {
	var cfg Config
	path := configPath()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyCommonConfig applies config-file defaults wherever the corresponding
// CLI flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.NoBufferReuse != nil && !c.IsSet("no-buffer-reuse") {
		noBufferReuse = *cfg.NoBufferReuse
	}
}
