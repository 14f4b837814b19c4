package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty directory so a developer's
// ~/.config/kbsearch does not leak into tests.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return t.TempDir()
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.Equal(t, 2*time.Second, cfg.Search.ProbeTimeout)
	assert.Equal(t, 0.35, cfg.Search.Weights.Tag)
	assert.Equal(t, 0.25, cfg.Search.Weights.Category)
	assert.Equal(t, 0.30, cfg.Search.Weights.Text)
	assert.Equal(t, 0.10, cfg.Search.Weights.Template)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "fts5", cfg.Store.TextBackend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

// =============================================================================
// Layering
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaultsWithResolvedPaths(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, ".kbsearch", "knowledge.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(dir, "knowledge.yaml"), cfg.Store.Dataset)
	assert.Equal(t, 10, cfg.Search.MaxResults)
}

func TestLoad_ProjectFileOverridesOnlyGivenKeys(t *testing.T) {
	dir := isolate(t)
	yaml := `
search:
  max_results: 5
  weights:
    tag: 0.5
cache:
  ttl: 5m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, 0.5, cfg.Search.Weights.Tag)
	assert.Equal(t, 0.25, cfg.Search.Weights.Category, "unset keys keep defaults")
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoad_UserConfigBelowProjectConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := t.TempDir()

	userPath := filepath.Join(xdg, "kbsearch", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0o755))
	require.NoError(t, os.WriteFile(userPath, []byte("search:\n  max_results: 7\nlogging:\n  level: debug\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte("search:\n  max_results: 3\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Search.MaxResults)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_UnknownKeyIsRejected(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte("search:\n  max_resluts: 3\n"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte("cache:\n  ttl: 5m\n"), 0o644))
	t.Setenv("KBSEARCH_CACHE_TTL", "30s")
	t.Setenv("KBSEARCH_WEIGHT_TEXT", "0.4")
	t.Setenv("KBSEARCH_CORS_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 0.4, cfg.Search.Weights.Text)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_DotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("KBSEARCH_LOG_LEVEL=error\nKBSEARCH_MAX_RESULTS=4\n"), 0o644))
	t.Setenv("KBSEARCH_LOG_LEVEL", "warn")
	// Registered with t.Setenv so the value godotenv sets is restored afterwards.
	t.Setenv("KBSEARCH_MAX_RESULTS", "")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Search.MaxResults, "empty process value is set, so .env does not apply")
}

func TestLoad_BadEnvValueFails(t *testing.T) {
	dir := isolate(t)
	t.Setenv("KBSEARCH_PROBE_TIMEOUT", "soon")

	_, err := Load(dir)
	assert.Error(t, err)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Search.Weights.Tag = -0.1 }},
		{"zero weights", func(c *Config) {
			c.Search.Weights = WeightsConfig{UnusablePenalty: 0.1}
		}},
		{"zero max results", func(c *Config) { c.Search.MaxResults = 0 }},
		{"zero probe timeout", func(c *Config) { c.Search.ProbeTimeout = 0 }},
		{"unknown probe", func(c *Config) { c.Search.DisabledProbes = []string{"vector"} }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Redis.Addr = "" }},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.TextBackend = "postgres" }},
		{"fts5 on postgres", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "postgres://x" }},
		{"postgres text on sqlite", func(c *Config) { c.Store.TextBackend = "postgres" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	dir := isolate(t)
	cfg := NewConfig()
	cfg.Search.MaxResults = 6
	cfg.Cache.TTL = 90 * time.Second

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectConfigFile)))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 6, loaded.Search.MaxResults)
	assert.Equal(t, 90*time.Second, loaded.Cache.TTL)
}

// =============================================================================
// Backups
// =============================================================================

func TestBackupFile_KeepsNewestBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	base := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupFile(path, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	assert.Contains(t, backups[0], "20250801-090004")
}

func TestBackupFile_MissingFileIsNoop(t *testing.T) {
	got, err := BackupFile(filepath.Join(t.TempDir(), "absent.yaml"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}
