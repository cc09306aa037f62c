package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the project descriptor looked up in the workspace root.
const DefaultFileName = "ngweave.yaml"

var (
	// ErrNoRoots is returned by Validate when the descriptor lists no root modules.
	ErrNoRoots = errors.New("no root modules configured")
	// ErrNoBasePath is returned by Validate when the base path is empty.
	ErrNoBasePath = errors.New("base path not configured")
)

// Config is the project descriptor.
type Config struct {
	// BasePath is the directory every relative path is resolved against.
	BasePath string `yaml:"base_path"`

	// RootModules seeds the compilation unit.
	RootModules []string `yaml:"root_modules"`

	// Include/Exclude filter which changed files are treated as program sources.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// MainModule is the application entry that receives bootstrap rewriting
	// and, when enabled, the lazy module map export.
	MainModule    string `yaml:"main_module"`
	LazyModuleMap bool   `yaml:"lazy_module_map"`

	CompilerOptions CompilerOptions `yaml:"compiler_options"`
	I18n            I18nConfig      `yaml:"i18n"`
	Bundle          BundleConfig    `yaml:"bundle"`

	// TypeCheck selects where full semantic diagnostics run after the first build.
	TypeCheck string `yaml:"type_check"` // inline, worker

	// ResourceConcurrency caps concurrent template/stylesheet loads.
	ResourceConcurrency int `yaml:"resource_concurrency"`

	Cache   CacheConfig   `yaml:"cache"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

// CompilerOptions is also sent verbatim to the diagnostics worker.
type CompilerOptions struct {
	OutDir string `yaml:"out_dir" json:"out_dir"`
	Target string `yaml:"target" json:"target"`
	// Codegen toggles the factory-generating mode (bootstrap replacement,
	// decorator stripping, route rewriting to generated factories).
	Codegen bool `yaml:"codegen" json:"codegen"`
}

// I18nConfig configures locale data registration.
type I18nConfig struct {
	Locale string `yaml:"locale"`
}

// BundleConfig configures the esbuild invocation driven by the CLI.
type BundleConfig struct {
	EntryPoints []string `yaml:"entry_points"`
	OutDir      string   `yaml:"out_dir"`
	// External lists bare specifiers left out of the bundle.
	External    []string `yaml:"external"`
	Minify      bool     `yaml:"minify"`
	Sourcemap   bool     `yaml:"sourcemap"`
}

// CacheConfig configures the persistent route store. Empty Path disables it.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info
	JSON  bool   `yaml:"json"`
}

// Type check placements.
const (
	TypeCheckInline = "inline"
	TypeCheckWorker = "worker"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BasePath:   ".",
		MainModule: "src/main.ts",
		CompilerOptions: CompilerOptions{
			OutDir: "out-tsc",
			Target: "es2020",
		},
		Bundle: BundleConfig{
			OutDir: "dist",
		},
		TypeCheck:           TypeCheckInline,
		ResourceConcurrency: 8,
		Exclude:             []string{"**/*.spec.ts", "**/node_modules/**"},
		Watch:               DefaultWatchConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults; BasePath defaults to the file's directory.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.BasePath = filepath.Dir(path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if !filepath.IsAbs(cfg.BasePath) {
		cfg.BasePath = filepath.Join(filepath.Dir(path), cfg.BasePath)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NGWEAVE_TYPE_CHECK"); v != "" {
		c.TypeCheck = v
	}
	if v := os.Getenv("NGWEAVE_CODEGEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.CompilerOptions.Codegen = b
		}
	}
	if v := os.Getenv("NGWEAVE_LOCALE"); v != "" {
		c.I18n.Locale = v
	}
	if v := os.Getenv("NGWEAVE_CACHE"); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv("NGWEAVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return ErrNoBasePath
	}
	if len(c.RootModules) == 0 {
		return ErrNoRoots
	}
	switch c.TypeCheck {
	case TypeCheckInline, TypeCheckWorker:
	default:
		return fmt.Errorf("invalid type_check: %s (valid: %s, %s)", c.TypeCheck, TypeCheckInline, TypeCheckWorker)
	}
	if c.ResourceConcurrency < 1 {
		return fmt.Errorf("resource_concurrency must be positive, got %d", c.ResourceConcurrency)
	}
	for _, pattern := range append(append([]string{}, c.Include...), c.Exclude...) {
		if _, err := filepath.Match(strings.ReplaceAll(pattern, "**/", ""), ""); err != nil {
			return fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
	}
	return nil
}

// Abs resolves p against the base path and returns a slash-separated path.
func (c *Config) Abs(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.BasePath, p)
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// RootPaths returns the absolute root module paths.
func (c *Config) RootPaths() []string {
	out := make([]string, 0, len(c.RootModules))
	for _, r := range c.RootModules {
		out = append(out, c.Abs(r))
	}
	return out
}

// OutDir returns the absolute compiler output directory.
func (c *Config) OutDir() string {
	return c.Abs(c.CompilerOptions.OutDir)
}

// UsesWorker reports whether full diagnostics move to the worker after the first build.
func (c *Config) UsesWorker() bool {
	return c.TypeCheck == TypeCheckWorker
}

// IsVerbose reports whether debug logging was requested.
func (c *Config) IsVerbose() bool {
	return c.Logging.Level == "debug"
}

// Matches reports whether a path passes the include/exclude filters.
// Patterns are matched against the path relative to the base path;
// a leading "**/" matches any directory depth.
func (c *Config) Matches(path string) bool {
	rel := path
	if r, err := filepath.Rel(filepath.FromSlash(c.Abs(c.BasePath)), filepath.FromSlash(path)); err == nil {
		rel = filepath.ToSlash(r)
	}
	if len(c.Include) > 0 && !matchAny(c.Include, rel) {
		return false
	}
	return !matchAny(c.Exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if globMatch(p, rel) {
			return true
		}
	}
	return false
}

func globMatch(pattern, rel string) bool {
	if strings.HasPrefix(pattern, "**/") {
		rest := strings.TrimPrefix(pattern, "**/")
		segments := strings.Split(rel, "/")
		for i := range segments {
			if globMatch(rest, strings.Join(segments[i:], "/")) {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/") ||
			strings.Contains("/"+rel+"/", "/"+prefix+"/")
	}
	ok, _ := filepath.Match(pattern, rel)
	return ok
}
