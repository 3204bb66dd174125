package studioconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

func applyEnvironmentVariables(cfg *Config, sources map[string]ConfigSource, log *slog.Logger) error {
	appliedVars := []string{}

	if err := applyProjectEnvVars(&cfg.Project, sources, &appliedVars); err != nil {
		return err
	}

	if err := applyBundleEnvVars(&cfg.Bundle, sources, &appliedVars); err != nil {
		return err
	}

	if err := applyCacheEnvVars(&cfg.Cache, sources, &appliedVars); err != nil {
		return err
	}

	if val := os.Getenv("STUDIO_LIBRARY_PATH"); val != "" {
		cfg.Library.Path = val
		sources["library.path"] = SourceEnv
		appliedVars = append(appliedVars, "STUDIO_LIBRARY_PATH")
	}

	if val := os.Getenv("STUDIO_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
		sources["log.level"] = SourceEnv
		appliedVars = append(appliedVars, "STUDIO_LOG_LEVEL")
	}

	if val := os.Getenv("STUDIO_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
		sources["log.format"] = SourceEnv
		appliedVars = append(appliedVars, "STUDIO_LOG_FORMAT")
	}

	if len(appliedVars) > 0 {
		log.Debug("applied environment variables", "count", len(appliedVars), "vars", appliedVars)
	}

	return nil
}

// applyProjectEnvVars applies project environment variables
func applyProjectEnvVars(cfg *ProjectConfig, sources map[string]ConfigSource, applied *[]string) error {
	if val := os.Getenv("STUDIO_PROJECT_PATH"); val != "" {
		cfg.Path = val
		sources["project.path"] = SourceEnv
		*applied = append(*applied, "STUDIO_PROJECT_PATH")
	}

	if val := os.Getenv("STUDIO_PROJECT_WATCH"); val != "" {
		boolVal, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid boolean value for STUDIO_PROJECT_WATCH: %s", val)
		}
		cfg.Watch = boolVal
		sources["project.watch"] = SourceEnv
		*applied = append(*applied, "STUDIO_PROJECT_WATCH")
	}

	if val := os.Getenv("STUDIO_PROJECT_DEBOUNCE_MS"); val != "" {
		intVal, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid integer value for STUDIO_PROJECT_DEBOUNCE_MS: %s", val)
		}
		cfg.DebounceMS = intVal
		sources["project.debounce_ms"] = SourceEnv
		*applied = append(*applied, "STUDIO_PROJECT_DEBOUNCE_MS")
	}

	if val := os.Getenv("STUDIO_PROJECT_SHADER_EXTENSIONS"); val != "" {
		cfg.ShaderExts = splitCommaSeparated(val)
		sources["project.shader_extensions"] = SourceEnv
		*applied = append(*applied, "STUDIO_PROJECT_SHADER_EXTENSIONS")
	}

	return nil
}

// applyBundleEnvVars applies bundle environment variables
func applyBundleEnvVars(cfg *BundleConfig, sources map[string]ConfigSource, applied *[]string) error {
	if val := os.Getenv("STUDIO_BUNDLE_COMPRESS"); val != "" {
		boolVal, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid boolean value for STUDIO_BUNDLE_COMPRESS: %s", val)
		}
		cfg.Compress = boolVal
		sources["bundle.compress"] = SourceEnv
		*applied = append(*applied, "STUDIO_BUNDLE_COMPRESS")
	}

	if val := os.Getenv("STUDIO_BUNDLE_OUTPUT_DIR"); val != "" {
		cfg.OutputDir = val
		sources["bundle.output_dir"] = SourceEnv
		*applied = append(*applied, "STUDIO_BUNDLE_OUTPUT_DIR")
	}

	return nil
}

// applyCacheEnvVars applies cache environment variables
func applyCacheEnvVars(cfg *CacheConfig, sources map[string]ConfigSource, applied *[]string) error {
	if val := os.Getenv("STUDIO_CACHE_RETAIN_RECENT"); val != "" {
		intVal, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid integer value for STUDIO_CACHE_RETAIN_RECENT: %s", val)
		}
		cfg.RetainRecent = intVal
		sources["cache.retain_recent"] = SourceEnv
		*applied = append(*applied, "STUDIO_CACHE_RETAIN_RECENT")
	}

	if val := os.Getenv("STUDIO_CACHE_CONCURRENCY"); val != "" {
		intVal, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid integer value for STUDIO_CACHE_CONCURRENCY: %s", val)
		}
		cfg.Concurrency = intVal
		sources["cache.concurrency"] = SourceEnv
		*applied = append(*applied, "STUDIO_CACHE_CONCURRENCY")
	}

	return nil
}

func splitCommaSeparated(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
