package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

// Config represents the complete amanidx configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	FileTypes FileTypesConfig `yaml:"file_types" json:"file_types"`
	Indexing  IndexingConfig  `yaml:"indexing" json:"indexing"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Server    ServerConfig    `yaml:"server" json:"server"`

	// LightEdit disables indexing membership for every file. Used when
	// a single file is opened outside of a real project.
	LightEdit bool `yaml:"light_edit" json:"light_edit"`
}

// PathsConfig configures the roots of the project file index.
// Relative paths are resolved against the project base path.
type PathsConfig struct {
	// ContentRoots hold the project's own sources.
	ContentRoots []string `yaml:"content_roots" json:"content_roots"`
	// LibraryRoots hold dependency sources that are indexed but not edited.
	LibraryRoots []string `yaml:"library_roots" json:"library_roots"`
	// Additional are extra paths registered as a separate indexable set.
	Additional []string `yaml:"additional" json:"additional"`
	// Exclude patterns are merged with the defaults, never replace them.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// FileTypesConfig is the file-type ignore policy.
type FileTypesConfig struct {
	// Ignored are gitignore-style patterns for files that are never indexed.
	Ignored []string `yaml:"ignored" json:"ignored"`
	// MaxFileSize skips files larger than this many bytes. 0 disables the limit.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
}

// IndexingConfig tunes change estimation and the worker pool.
type IndexingConfig struct {
	// MinFilesToStartRebuild is the changed-file count at which a dedicated
	// rebuild (index unavailable) is started instead of background indexing.
	MinFilesToStartRebuild int `yaml:"min_files_to_start_rebuild" json:"min_files_to_start_rebuild"`
	// MinSizeToStartRebuild is the cumulative changed size in bytes with
	// the same effect.
	MinSizeToStartRebuild int64 `yaml:"min_size_to_start_rebuild" json:"min_size_to_start_rebuild"`
	// EstimateBudget bounds the wall time spent estimating the change set.
	EstimateBudget string `yaml:"estimate_budget" json:"estimate_budget"`
	// Threads is the worker count. 0 means NumCPU clamped to [1, 16].
	Threads int `yaml:"threads" json:"threads"`
	// Providers lists the enabled index providers, in run order.
	Providers []string `yaml:"providers" json:"providers"`
	// HistoryKeep is the number of diagnostic history files kept per project.
	HistoryKeep int `yaml:"history_keep" json:"history_keep"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Debounce string `yaml:"debounce" json:"debounce"`
}

// ServerConfig configures the MCP server and metrics endpoint.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	// MetricsAddr exposes Prometheus metrics when non-empty (e.g. ":9464").
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Known providers.
const (
	ProviderFullText = "fulltext"
	ProviderSymbols  = "symbols"
)

// MaxThreads caps the automatic worker count.
const MaxThreads = 16

// Project config file names, looked up in the project root.
const (
	ProjectConfigName    = ".amanidx.yaml"
	ProjectConfigNameAlt = ".amanidx.yml"
)

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	".git/",
	".amanidx/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	"dist/",
	"build/",
}

// defaultIgnoredFileTypes are never indexed regardless of location.
var defaultIgnoredFileTypes = []string{
	"*.min.js",
	"*.min.css",
	"*.pyc",
	"*.class",
	"*.o",
	"*.so",
	"*.dylib",
	"*.exe",
	"*.png",
	"*.jpg",
	"*.gif",
	"*.zip",
	"*.tar.gz",
	"package-lock.json",
	"yarn.lock",
	"go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			ContentRoots: []string{"."},
			Exclude:      append([]string(nil), defaultExcludePatterns...),
		},
		FileTypes: FileTypesConfig{
			Ignored:     append([]string(nil), defaultIgnoredFileTypes...),
			MaxFileSize: 4 << 20,
		},
		Indexing: IndexingConfig{
			MinFilesToStartRebuild: 20,
			MinSizeToStartRebuild:  1 << 20,
			EstimateBudget:         "100ms",
			Threads:                0,
			Providers:              []string{ProviderFullText, ProviderSymbols},
			HistoryKeep:            20,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: "500ms",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanidx/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanidx/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanidx", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanidx", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanidx", "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := parseYAML(configPath, &parsed); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &parsed, nil
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanidx/config.yaml)
//  3. Project config (.amanidx.yaml in project root)
//  4. Environment variables (AMANIDX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, amanerrors.ConfigError("failed to load user config", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, amanerrors.ConfigError("failed to load project config", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, amanerrors.ConfigError("invalid configuration", err).
			WithSuggestion("Check .amanidx.yaml and AMANIDX_* environment variables")
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .amanidx.yaml or .amanidx.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigName, ProjectConfigNameAlt} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := parseYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func parseYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if len(other.Paths.ContentRoots) > 0 {
		c.Paths.ContentRoots = other.Paths.ContentRoots
	}
	if len(other.Paths.LibraryRoots) > 0 {
		c.Paths.LibraryRoots = other.Paths.LibraryRoots
	}
	if len(other.Paths.Additional) > 0 {
		c.Paths.Additional = other.Paths.Additional
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = appendUnique(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// File types
	if len(other.FileTypes.Ignored) > 0 {
		c.FileTypes.Ignored = appendUnique(c.FileTypes.Ignored, other.FileTypes.Ignored...)
	}
	if other.FileTypes.MaxFileSize != 0 {
		c.FileTypes.MaxFileSize = other.FileTypes.MaxFileSize
	}

	// Indexing
	if other.Indexing.MinFilesToStartRebuild > 0 {
		c.Indexing.MinFilesToStartRebuild = other.Indexing.MinFilesToStartRebuild
	}
	if other.Indexing.MinSizeToStartRebuild > 0 {
		c.Indexing.MinSizeToStartRebuild = other.Indexing.MinSizeToStartRebuild
	}
	if other.Indexing.EstimateBudget != "" {
		c.Indexing.EstimateBudget = other.Indexing.EstimateBudget
	}
	if other.Indexing.Threads > 0 {
		c.Indexing.Threads = other.Indexing.Threads
	}
	if len(other.Indexing.Providers) > 0 {
		c.Indexing.Providers = other.Indexing.Providers
	}
	if other.Indexing.HistoryKeep > 0 {
		c.Indexing.HistoryKeep = other.Indexing.HistoryKeep
	}

	// Watch. Enabled is boolean, so it only merges alongside a debounce value.
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
		c.Watch.Enabled = other.Watch.Enabled
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.MetricsAddr != "" {
		c.Server.MetricsAddr = other.Server.MetricsAddr
	}

	if other.LightEdit {
		c.LightEdit = true
	}
}

// applyEnvOverrides applies AMANIDX_* environment variable overrides.
// Malformed values are ignored and the previous value kept.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANIDX_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.Threads = n
		}
	}
	if v := os.Getenv("AMANIDX_MIN_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.MinFilesToStartRebuild = n
		}
	}
	if v := os.Getenv("AMANIDX_MIN_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Indexing.MinSizeToStartRebuild = n
		}
	}
	if v := os.Getenv("AMANIDX_ESTIMATE_BUDGET"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Indexing.EstimateBudget = v
		}
	}
	if v := os.Getenv("AMANIDX_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("AMANIDX_LIGHT_EDIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LightEdit = b
		}
	}
	if v := os.Getenv("AMANIDX_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Indexing.MinFilesToStartRebuild <= 0 {
		return fmt.Errorf("indexing.min_files_to_start_rebuild must be positive, got %d", c.Indexing.MinFilesToStartRebuild)
	}
	if c.Indexing.MinSizeToStartRebuild <= 0 {
		return fmt.Errorf("indexing.min_size_to_start_rebuild must be positive, got %d", c.Indexing.MinSizeToStartRebuild)
	}
	if c.Indexing.Threads < 0 {
		return fmt.Errorf("indexing.threads must be non-negative, got %d", c.Indexing.Threads)
	}
	if d, err := time.ParseDuration(c.Indexing.EstimateBudget); err != nil || d <= 0 {
		return fmt.Errorf("indexing.estimate_budget must be a positive duration, got %q", c.Indexing.EstimateBudget)
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("watch.debounce must be a duration, got %q", c.Watch.Debounce)
	}

	validProviders := map[string]bool{ProviderFullText: true, ProviderSymbols: true}
	for _, p := range c.Indexing.Providers {
		if !validProviders[strings.ToLower(p)] {
			return fmt.Errorf("indexing.providers entries must be 'fulltext' or 'symbols', got %s", p)
		}
	}

	if !strings.EqualFold(c.Server.Transport, "stdio") {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// EstimateBudgetDuration returns the parsed estimate budget.
// Validate guarantees the string parses.
func (c *Config) EstimateBudgetDuration() time.Duration {
	d, err := time.ParseDuration(c.Indexing.EstimateBudget)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// WatchDebounceDuration returns the parsed watcher debounce window.
func (c *Config) WatchDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// IndexingThreads resolves the configured worker count.
func (c *Config) IndexingThreads() int {
	if c.Indexing.Threads > 0 {
		return c.Indexing.Threads
	}
	n := runtime.NumCPU()
	if n > MaxThreads {
		n = MaxThreads
	}
	if n < 1 {
		n = 1
	}
	return n
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory or .amanidx.yaml/.yml file by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) ||
			fileExists(filepath.Join(currentDir, ProjectConfigName)) ||
			fileExists(filepath.Join(currentDir, ProjectConfigNameAlt)) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			dst = append(dst, v)
			seen[v] = true
		}
	}
	return dst
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
