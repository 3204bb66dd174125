package studioconfig

// DefaultConfig returns a Config with all default values set
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			Path:       ".",
			Watch:      false,
			DebounceMS: 100,
			ShaderExts: []string{".wgsl", ".glsl"},
		},
		Bundle: BundleConfig{
			Compress:  true,
			OutputDir: "build",
		},
		Cache: CacheConfig{
			RetainRecent: 0,
			Concurrency:  8,
		},
		Library: LibraryConfig{
			Path: "", // Derived from the project path if not specified
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
