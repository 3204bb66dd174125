package studioconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// CLIFlags represents the command-line flags passed to studio commands
type CLIFlags struct {
	ProjectPath  string
	Watch        bool
	Compress     bool
	OutputDir    string
	RetainRecent int
	Concurrency  int
	LibraryPath  string
	LogLevel     string
	LogFormat    string

	// Flags that were explicitly set (vs using defaults)
	SetFlags map[string]bool
}

// Load loads configuration from all sources with proper precedence:
// CLI flags > Environment variables > Config file > Defaults
func Load(configPath string, flags *CLIFlags, log *slog.Logger) (*SourcedConfig, error) {
	if log == nil {
		log = slog.Default()
	}

	cfg := DefaultConfig()
	sources := make(map[string]ConfigSource)
	setDefaultSources(sources)

	projectPath := cfg.Project.Path
	if val := os.Getenv("STUDIO_PROJECT_PATH"); val != "" {
		projectPath = val
	}
	if flags != nil && flags.SetFlags["project"] && flags.ProjectPath != "" {
		projectPath = flags.ProjectPath
	}

	filePath := findConfigFile(configPath, projectPath)
	if filePath != "" {
		log.Debug("loading config file", "path", filePath)
		if err := loadConfigFile(filePath, cfg, sources); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if configPath != "" {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	} else {
		log.Debug("no config file found, using defaults")
	}

	if err := applyEnvironmentVariables(cfg, sources, log); err != nil {
		return nil, fmt.Errorf("failed to apply environment variables: %w", err)
	}

	if flags != nil {
		applyCLIFlags(cfg, flags, sources)
	}

	cfg.ApplyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logConfigSources(log, cfg, sources)

	return &SourcedConfig{
		Config:  *cfg,
		Sources: sources,
	}, nil
}

// ApplyDerivedDefaults fills in values that depend on other settings.
func (c *Config) ApplyDerivedDefaults() {
	if c.Library.Path == "" {
		c.Library.Path = filepath.Join(c.Project.Path, "ProjectSettings", "library.db")
	}

	if c.Bundle.OutputDir != "" && !filepath.IsAbs(c.Bundle.OutputDir) {
		c.Bundle.OutputDir = filepath.Join(c.Project.Path, c.Bundle.OutputDir)
	}
}

// findConfigFile searches for a config file in the standard locations
func findConfigFile(explicitPath, projectPath string) string {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err == nil {
			return explicitPath
		}
		return ""
	}

	searchPaths := []string{
		filepath.Join(projectPath, "ProjectSettings", "studio.toml"),
	}

	if dir, err := os.UserConfigDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(dir, "studio", "config.toml"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadConfigFile decodes the file over cfg. Only keys present in the file
// change cfg, so the file's keys are also what gets marked as its source.
func loadConfigFile(path string, cfg *Config, sources map[string]ConfigSource) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}

	for section, v := range raw {
		table, ok := v.(map[string]any)
		if !ok {
			continue
		}

		for key := range table {
			path := section + "." + key
			if _, known := sources[path]; known {
				sources[path] = SourceFile
			}
		}
	}

	return nil
}

// setDefaultSources marks all fields as coming from defaults
func setDefaultSources(sources map[string]ConfigSource) {
	defaultFields := []string{
		"project.path",
		"project.watch",
		"project.debounce_ms",
		"project.shader_extensions",
		"bundle.compress",
		"bundle.output_dir",
		"cache.retain_recent",
		"cache.concurrency",
		"library.path",
		"log.level",
		"log.format",
	}

	for _, field := range defaultFields {
		sources[field] = SourceDefault
	}
}

func applyCLIFlags(cfg *Config, flags *CLIFlags, sources map[string]ConfigSource) {
	if flags.SetFlags == nil {
		flags.SetFlags = make(map[string]bool)
	}

	wasSet := func(name string) bool {
		return flags.SetFlags[name]
	}

	if wasSet("project") && flags.ProjectPath != "" {
		cfg.Project.Path = flags.ProjectPath
		sources["project.path"] = SourceCLI
	}
	if wasSet("watch") {
		cfg.Project.Watch = flags.Watch
		sources["project.watch"] = SourceCLI
	}

	if wasSet("compress") {
		cfg.Bundle.Compress = flags.Compress
		sources["bundle.compress"] = SourceCLI
	}
	if wasSet("output-dir") && flags.OutputDir != "" {
		cfg.Bundle.OutputDir = flags.OutputDir
		sources["bundle.output_dir"] = SourceCLI
	}

	if wasSet("retain-recent") {
		cfg.Cache.RetainRecent = flags.RetainRecent
		sources["cache.retain_recent"] = SourceCLI
	}
	if wasSet("concurrency") && flags.Concurrency != 0 {
		cfg.Cache.Concurrency = flags.Concurrency
		sources["cache.concurrency"] = SourceCLI
	}

	if wasSet("library") && flags.LibraryPath != "" {
		cfg.Library.Path = flags.LibraryPath
		sources["library.path"] = SourceCLI
	}

	if wasSet("log-level") && flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
		sources["log.level"] = SourceCLI
	}
	if wasSet("log-format") && flags.LogFormat != "" {
		cfg.Log.Format = flags.LogFormat
		sources["log.format"] = SourceCLI
	}
}

// logConfigSources logs where each configuration value came from
func logConfigSources(log *slog.Logger, cfg *Config, sources map[string]ConfigSource) {
	importantSources := []struct {
		path   string
		value  any
		source ConfigSource
	}{
		{"project.path", cfg.Project.Path, sources["project.path"]},
		{"library.path", cfg.Library.Path, sources["library.path"]},
		{"cache.retain_recent", cfg.Cache.RetainRecent, sources["cache.retain_recent"]},
	}

	for _, item := range importantSources {
		if item.source != SourceDefault {
			log.Debug("config value", "path", item.path, "value", item.value, "source", item.source)
		}
	}

	if log.Enabled(context.TODO(), slog.LevelDebug) {
		paths := make([]string, 0, len(sources))
		for path := range sources {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		for _, path := range paths {
			log.Debug("config source", "path", path, "source", sources[path])
		}
	}
}
