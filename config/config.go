// Package config loads the YAML configuration file and applies defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/redzone/recommend"
	"github.com/hazyhaar/redzone/session"
)

// Config holds the full application configuration.
type Config struct {
	// Listen is the HTTP bind address. Default: ":8080".
	Listen string `yaml:"listen"`
	// DBPath is the SQLite file for mappings and settings.
	// Default: "data/redzone.db".
	DBPath string `yaml:"db_path"`
	// LogLevel is one of debug, info, warn, error. Default: "info".
	LogLevel string `yaml:"log_level"`
	// ScoreboardURL overrides the telemetry endpoint. Empty = the built-in
	// NFL scoreboard.
	ScoreboardURL string `yaml:"scoreboard_url"`

	Providers []session.Provider      `yaml:"providers"`
	Monitor   recommend.MonitorConfig `yaml:"monitor"`
	Session   session.Config          `yaml:"session"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "data/redzone.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads a YAML config file. A missing file yields the defaults, so the
// binary runs with zero configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.defaults()
	return cfg, nil
}
