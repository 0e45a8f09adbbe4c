// Package config reads and writes unibook.yaml.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/unibook-dev/unibook/internal/model"
)

// Config represents the top-level unibook.yaml configuration.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Rebuild      RebuildConfig      `yaml:"rebuild"`
	Verification VerificationConfig `yaml:"verification"`
	Log          LogConfig          `yaml:"log"`
}

// DatabaseConfig locates the MySQL instance. The DSN itself lives in
// the environment, never in the file.
type DatabaseConfig struct {
	DSNEnv  string `yaml:"dsn_env"`
	EnvFile string `yaml:"env_file,omitempty"`
}

// LedgerConfig names the canonical table.
type LedgerConfig struct {
	Table string `yaml:"table"`
}

// RebuildConfig tunes a rebuild run.
type RebuildConfig struct {
	// ExcludedFeeds overrides the default provisional/duplicate feed
	// set when non-empty.
	ExcludedFeeds []string `yaml:"excluded_feeds,omitempty"`
}

// VerificationConfig controls the post-rebuild consistency check.
type VerificationConfig struct {
	// Tolerance is the largest absolute difference between an expected
	// and actual aggregate total that still counts as a match, as a
	// decimal string. "0" demands exact equality.
	Tolerance string `yaml:"tolerance"`
}

// LogConfig controls engine logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ExcludedFeeds returns the configured feed override as typed tags,
// or nil when the defaults should apply.
func (c *Config) ExcludedFeeds() []model.FeedTag {
	if len(c.Rebuild.ExcludedFeeds) == 0 {
		return nil
	}
	feeds := make([]model.FeedTag, len(c.Rebuild.ExcludedFeeds))
	for i, f := range c.Rebuild.ExcludedFeeds {
		feeds[i] = model.FeedTag(f)
	}
	return feeds
}

// Load reads a unibook.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSNEnv:  "UNIBOOK_DSN",
			EnvFile: ".env",
		},
		Ledger: LedgerConfig{
			Table: "unified_transactions",
		},
		Verification: VerificationConfig{
			Tolerance: "0",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
