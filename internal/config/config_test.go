package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, []string{"."}, cfg.Paths.ContentRoots)
	assert.Contains(t, cfg.Paths.Exclude, ".git/")
	assert.Contains(t, cfg.Paths.Exclude, ".amanidx/")
	assert.Contains(t, cfg.FileTypes.Ignored, "*.pyc")

	assert.Equal(t, 20, cfg.Indexing.MinFilesToStartRebuild)
	assert.Equal(t, int64(1048576), cfg.Indexing.MinSizeToStartRebuild)
	assert.Equal(t, 100*time.Millisecond, cfg.EstimateBudgetDuration())
	assert.Equal(t, []string{"fulltext", "symbols"}, cfg.Indexing.Providers)

	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounceDuration())
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.False(t, cfg.LightEdit)
	assert.NoError(t, cfg.Validate())
}

func TestIndexingThreads_DefaultsToClampedNumCPU(t *testing.T) {
	cfg := NewConfig()

	want := runtime.NumCPU()
	if want > MaxThreads {
		want = MaxThreads
	}
	assert.Equal(t, want, cfg.IndexingThreads())

	cfg.Indexing.Threads = 3
	assert.Equal(t, 3, cfg.IndexingThreads())
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	isolate(t)

	// Given: a project config file
	dir := t.TempDir()
	content := `
paths:
  content_roots: [src]
  library_roots: [third_party]
  exclude: [generated/]
indexing:
  min_files_to_start_rebuild: 50
  estimate_budget: 250ms
  threads: 2
watch:
  enabled: false
  debounce: 1s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanidx.yaml"), []byte(content), 0644))

	// When: loading
	cfg, err := Load(dir)

	// Then: project values win, exclude is merged with defaults
	require.NoError(t, err)
	assert.Equal(t, []string{"src"}, cfg.Paths.ContentRoots)
	assert.Equal(t, []string{"third_party"}, cfg.Paths.LibraryRoots)
	assert.Contains(t, cfg.Paths.Exclude, "generated/")
	assert.Contains(t, cfg.Paths.Exclude, ".git/")
	assert.Equal(t, 50, cfg.Indexing.MinFilesToStartRebuild)
	assert.Equal(t, int64(1<<20), cfg.Indexing.MinSizeToStartRebuild)
	assert.Equal(t, 250*time.Millisecond, cfg.EstimateBudgetDuration())
	assert.Equal(t, 2, cfg.IndexingThreads())
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, time.Second, cfg.WatchDebounceDuration())
}

func TestLoad_UserConfigAppliedBeforeProject(t *testing.T) {
	// Given: a user config and a project config that disagree
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "amanidx"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "amanidx", "config.yaml"),
		[]byte("indexing:\n  threads: 4\n  history_keep: 5\n"), 0644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanidx.yml"),
		[]byte("indexing:\n  threads: 8\n"), 0644))

	// When
	cfg, err := Load(dir)

	// Then: project wins on threads, user value survives elsewhere
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Indexing.Threads)
	assert.Equal(t, 5, cfg.Indexing.HistoryKeep)
}

func TestLoad_EnvOverridesEverything(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanidx.yaml"),
		[]byte("indexing:\n  threads: 8\n"), 0644))

	t.Setenv("AMANIDX_THREADS", "3")
	t.Setenv("AMANIDX_MIN_FILES", "7")
	t.Setenv("AMANIDX_MIN_SIZE", "2048")
	t.Setenv("AMANIDX_ESTIMATE_BUDGET", "20ms")
	t.Setenv("AMANIDX_LIGHT_EDIT", "true")
	t.Setenv("AMANIDX_METRICS_ADDR", ":9464")
	t.Setenv("AMANIDX_LOG_LEVEL", "debug")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Indexing.Threads)
	assert.Equal(t, 7, cfg.Indexing.MinFilesToStartRebuild)
	assert.Equal(t, int64(2048), cfg.Indexing.MinSizeToStartRebuild)
	assert.Equal(t, 20*time.Millisecond, cfg.EstimateBudgetDuration())
	assert.True(t, cfg.LightEdit)
	assert.Equal(t, ":9464", cfg.Server.MetricsAddr)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_MalformedEnvIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("AMANIDX_THREADS", "many")
	t.Setenv("AMANIDX_ESTIMATE_BUDGET", "soon")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Indexing.Threads)
	assert.Equal(t, "100ms", cfg.Indexing.EstimateBudget)
}

func TestLoad_InvalidYAMLReturnsConfigError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanidx.yaml"), []byte("indexing: [oops"), 0644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Equal(t, amanerrors.ErrCodeConfigInvalid, amanerrors.GetCode(err))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min files", func(c *Config) { c.Indexing.MinFilesToStartRebuild = 0 }},
		{"zero min size", func(c *Config) { c.Indexing.MinSizeToStartRebuild = 0 }},
		{"negative threads", func(c *Config) { c.Indexing.Threads = -1 }},
		{"bad budget", func(c *Config) { c.Indexing.EstimateBudget = "fast" }},
		{"zero budget", func(c *Config) { c.Indexing.EstimateBudget = "0s" }},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "x" }},
		{"unknown provider", func(c *Config) { c.Indexing.Providers = []string{"vectors"} }},
		{"bad transport", func(c *Config) { c.Server.Transport = "sse" }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFindProjectRoot_WalksUpToMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".amanidx.yaml"), []byte("version: 1\n"), 0644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	got, err := FindProjectRoot(nested)

	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Indexing.Threads = 5

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".amanidx.yaml")))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Indexing.Threads)
	assert.Len(t, loaded.Paths.Exclude, len(defaultExcludePatterns))
}
