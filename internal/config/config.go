// Package config loads user configuration from a TOML file, filling in
// defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/turnkit/turnlog/internal/search"
)

// FileName is the TOML config file looked up under the data directory.
const FileName = "config.toml"

// Config is the user-facing configuration.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `toml:"db_path"`

	// ListenAddr is the HTTP listen address for serve mode.
	ListenAddr string `toml:"listen_addr"`

	// WatchDir, when set, is watched for appended .jsonl session files.
	WatchDir string `toml:"watch_dir"`

	Search SearchSettings `toml:"search"`
	Logs   LogSettings    `toml:"logs"`
}

// SearchSettings tune ranking weights and snippet bounds.
type SearchSettings struct {
	ContentWeight   float64 `toml:"content_weight"`
	ThinkingWeight  float64 `toml:"thinking_weight"`
	SnippetMinWords int     `toml:"snippet_min_words"`
	SnippetMaxWords int     `toml:"snippet_max_words"`
}

// LogSettings configure the rotating structured log.
type LogSettings struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// DataDir returns the default data directory (~/.turnlog).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".turnlog"
	}
	return filepath.Join(home, ".turnlog")
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		DBPath:     filepath.Join(dataDir, "turnlog.db"),
		ListenAddr: "127.0.0.1:8480",
		Search: SearchSettings{
			ContentWeight:   2.0,
			ThinkingWeight:  1.0,
			SnippetMinWords: search.DefaultSnippetMin,
			SnippetMaxWords: search.DefaultSnippetMax,
		},
		Logs: LogSettings{
			Dir:      dataDir,
			Level:    "info",
			Format:   "json",
			Compress: true,
		},
	}
}

// Load reads the config file at path, falling back to defaults for unset
// fields. A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.DBPath = expandTilde(c.DBPath)
	c.WatchDir = expandTilde(c.WatchDir)
	c.Logs.Dir = expandTilde(c.Logs.Dir)

	if c.Search.ContentWeight <= 0 {
		c.Search.ContentWeight = 2.0
	}
	if c.Search.ThinkingWeight <= 0 {
		c.Search.ThinkingWeight = 1.0
	}
	if c.Search.SnippetMinWords <= 0 {
		c.Search.SnippetMinWords = search.DefaultSnippetMin
	}
	if c.Search.SnippetMaxWords <= 0 {
		c.Search.SnippetMaxWords = search.DefaultSnippetMax
	}
	if c.Search.SnippetMaxWords < c.Search.SnippetMinWords {
		c.Search.SnippetMaxWords = c.Search.SnippetMinWords
	}
}

// Weights converts the configured field weights.
func (c *Config) Weights() search.Weights {
	return search.Weights{
		Content:  c.Search.ContentWeight,
		Thinking: c.Search.ThinkingWeight,
	}
}

// SnippetBounds converts the configured snippet bounds.
func (c *Config) SnippetBounds() search.SnippetBounds {
	return search.SnippetBounds{
		Min: c.Search.SnippetMinWords,
		Max: c.Search.SnippetMaxWords,
	}
}

func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
