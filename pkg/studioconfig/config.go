package studioconfig

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config represents the complete studio configuration from all sources
type Config struct {
	// Project contains settings for the project directory
	Project ProjectConfig `toml:"project"`

	// Bundle contains asset bundle settings
	Bundle BundleConfig `toml:"bundle"`

	// Cache contains live asset cache settings
	Cache CacheConfig `toml:"cache"`

	// Library contains the local asset library settings
	Library LibraryConfig `toml:"library"`

	// Log contains logging settings
	Log LogConfig `toml:"log"`
}

// ProjectConfig contains settings for the project directory
type ProjectConfig struct {
	Path       string   `toml:"path" env:"STUDIO_PROJECT_PATH"`
	Watch      bool     `toml:"watch" env:"STUDIO_PROJECT_WATCH"`
	DebounceMS int      `toml:"debounce_ms" env:"STUDIO_PROJECT_DEBOUNCE_MS"`
	ShaderExts []string `toml:"shader_extensions" env:"STUDIO_PROJECT_SHADER_EXTENSIONS"`
}

// BundleConfig contains asset bundle settings
type BundleConfig struct {
	Compress  bool   `toml:"compress" env:"STUDIO_BUNDLE_COMPRESS"`
	OutputDir string `toml:"output_dir" env:"STUDIO_BUNDLE_OUTPUT_DIR"`
}

// CacheConfig contains live asset cache settings
type CacheConfig struct {
	RetainRecent int `toml:"retain_recent" env:"STUDIO_CACHE_RETAIN_RECENT"`
	Concurrency  int `toml:"concurrency" env:"STUDIO_CACHE_CONCURRENCY"`
}

// LibraryConfig contains the local asset library settings
type LibraryConfig struct {
	Path string `toml:"path" env:"STUDIO_LIBRARY_PATH"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `toml:"level" env:"STUDIO_LOG_LEVEL"`
	Format string `toml:"format" env:"STUDIO_LOG_FORMAT"`
}

// ConfigSource tracks where a configuration value came from
type ConfigSource string

const (
	SourceDefault ConfigSource = "default"
	SourceFile    ConfigSource = "file"
	SourceEnv     ConfigSource = "environment"
	SourceCLI     ConfigSource = "cli"
)

// SourcedConfig wraps Config with source tracking for debugging
type SourcedConfig struct {
	Config  Config
	Sources map[string]ConfigSource // Track source of each config value
}

func (c *Config) Validate() error {
	if err := c.Project.Validate(); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := c.Bundle.Validate(); err != nil {
		return fmt.Errorf("bundle config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

func (c *ProjectConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path must be set")
	}

	if c.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must not be negative, got %d", c.DebounceMS)
	}

	for _, ext := range c.ShaderExts {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("shader extension %q must start with a dot", ext)
		}
	}

	return nil
}

func (c *ProjectConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

func (c *BundleConfig) Validate() error {
	return nil
}

func (c *CacheConfig) Validate() error {
	if c.RetainRecent < 0 {
		return fmt.Errorf("retain_recent must not be negative, got %d", c.RetainRecent)
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}

	return nil
}

func (c *LogConfig) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format %q: must be 'text' or 'json'", c.Format)
	}

	return nil
}

// SlogLevel parses Level.
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	return lvl, nil
}
