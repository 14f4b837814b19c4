package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectConfigFile is the per-deployment configuration file name.
const ProjectConfigFile = ".kbsearch.yaml"

// Config represents the complete kbsearch configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
}

// SearchConfig configures the retrieval and ranking pipeline.
type SearchConfig struct {
	// MaxResults caps the ranked list returned per query.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// ProbeTimeout bounds each storage probe. The caller's deadline still wins
	// when it is shorter.
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// MaxExpansions caps synonyms added per matched tag (0 = unlimited).
	MaxExpansions int `yaml:"max_expansions" json:"max_expansions"`

	// Year is the year context for dates written without one (0 = current year).
	Year int `yaml:"year" json:"year"`

	// TextLimit caps rows returned by the full-text probe.
	TextLimit int `yaml:"text_limit" json:"text_limit"`

	// DisabledProbes lists probes to skip: tag, category, text.
	DisabledProbes []string `yaml:"disabled_probes" json:"disabled_probes"`

	Weights WeightsConfig `yaml:"weights" json:"weights"`
}

// WeightsConfig holds the composite score weights. They are calibrated
// against the knowledge base rather than learned.
type WeightsConfig struct {
	Tag             float64 `yaml:"tag" json:"tag"`
	Category        float64 `yaml:"category" json:"category"`
	Text            float64 `yaml:"text" json:"text"`
	Template        float64 `yaml:"template" json:"template"`
	UnusablePenalty float64 `yaml:"unusable_penalty" json:"unusable_penalty"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
	// Backend is "memory" or "redis". Redis is layered behind the in-process cache.
	Backend string      `yaml:"backend" json:"backend"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the optional shared cache tier.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// StoreConfig selects the knowledge-base backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path" json:"path"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn" json:"-"`
	// TextBackend is "fts5", "bleve" or "postgres".
	TextBackend string `yaml:"text_backend" json:"text_backend"`
	// BlevePath is the on-disk Bleve index. Empty keeps it in memory.
	BlevePath string `yaml:"bleve_path" json:"bleve_path"`
	// Dataset is the YAML fixture loaded by `kbsearch seed` and the watcher.
	Dataset string `yaml:"dataset" json:"dataset"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	CORSOrigins  []string      `yaml:"cors_origins" json:"cors_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// TelemetryConfig configures query metrics and the usage log.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// UsagePath is the SQLite file for the per-search usage log. Empty disables it.
	UsagePath string `yaml:"usage_path" json:"usage_path"`
	// TopTerms bounds the most-frequent-terms tracker.
	TopTerms int `yaml:"top_terms" json:"top_terms"`
	// ZeroResultBuffer is how many zero-result queries are remembered.
	ZeroResultBuffer int `yaml:"zero_result_buffer" json:"zero_result_buffer"`
}

// WatchConfig configures dataset hot reload.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			MaxResults:    10,
			ProbeTimeout:  2 * time.Second,
			MaxExpansions: 0,
			TextLimit:     50,
			Weights: WeightsConfig{
				Tag:             0.35,
				Category:        0.25,
				Text:            0.30,
				Template:        0.10,
				UnusablePenalty: 0.15,
			},
		},
		Cache: CacheConfig{
			TTL:        time.Hour,
			MaxEntries: 1000,
			Backend:    "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "kbsearch:",
			},
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        filepath.Join(".kbsearch", "knowledge.db"),
			TextBackend: "fts5",
			Dataset:     "knowledge.yaml",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    true,
		},
		Telemetry: TelemetryConfig{
			Enabled:          true,
			UsagePath:        filepath.Join(".kbsearch", "usage.db"),
			TopTerms:         100,
			ZeroResultBuffer: 50,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/kbsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/kbsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kbsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "kbsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "kbsearch", "config.yaml")
}

// Load loads configuration for the deployment rooted at dir.
// Sources apply in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/kbsearch/config.yaml)
//  3. Project config (.kbsearch.yaml in dir)
//  4. .env in dir (never overrides variables already set)
//  5. Environment variables (KBSEARCH_*)
//
// Relative paths are resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAMLIfExists(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if err := cfg.loadYAMLIfExists(filepath.Join(dir, ProjectConfigFile)); err != nil {
		return nil, err
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAMLIfExists decodes path over the current values. Keys absent from
// the file keep their previous value; unknown keys are rejected.
func (c *Config) loadYAMLIfExists(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies KBSEARCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	var errs []error

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	integer("KBSEARCH_MAX_RESULTS", &c.Search.MaxResults)
	duration("KBSEARCH_PROBE_TIMEOUT", &c.Search.ProbeTimeout)
	integer("KBSEARCH_YEAR", &c.Search.Year)
	float("KBSEARCH_WEIGHT_TAG", &c.Search.Weights.Tag)
	float("KBSEARCH_WEIGHT_CATEGORY", &c.Search.Weights.Category)
	float("KBSEARCH_WEIGHT_TEXT", &c.Search.Weights.Text)
	float("KBSEARCH_WEIGHT_TEMPLATE", &c.Search.Weights.Template)
	float("KBSEARCH_WEIGHT_UNUSABLE_PENALTY", &c.Search.Weights.UnusablePenalty)

	duration("KBSEARCH_CACHE_TTL", &c.Cache.TTL)
	str("KBSEARCH_CACHE_BACKEND", &c.Cache.Backend)
	str("KBSEARCH_REDIS_ADDR", &c.Cache.Redis.Addr)
	str("KBSEARCH_REDIS_PASSWORD", &c.Cache.Redis.Password)
	integer("KBSEARCH_REDIS_DB", &c.Cache.Redis.DB)

	str("KBSEARCH_STORE_DRIVER", &c.Store.Driver)
	str("KBSEARCH_STORE_PATH", &c.Store.Path)
	str("KBSEARCH_DATABASE_URL", &c.Store.DSN)
	str("KBSEARCH_TEXT_BACKEND", &c.Store.TextBackend)
	str("KBSEARCH_DATASET", &c.Store.Dataset)

	str("KBSEARCH_ADDR", &c.Server.Addr)
	if v := os.Getenv("KBSEARCH_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	str("KBSEARCH_LOG_LEVEL", &c.Logging.Level)
	str("KBSEARCH_LOG_FILE", &c.Logging.File)
	boolean("KBSEARCH_TELEMETRY", &c.Telemetry.Enabled)
	boolean("KBSEARCH_WATCH", &c.Watch.Enabled)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolvePaths makes relative file paths absolute against dir.
func (c *Config) resolvePaths(dir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	resolve(&c.Store.Path)
	resolve(&c.Store.BlevePath)
	resolve(&c.Store.Dataset)
	resolve(&c.Logging.File)
	resolve(&c.Telemetry.UsagePath)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	w := c.Search.Weights
	for name, v := range map[string]float64{
		"tag":              w.Tag,
		"category":         w.Category,
		"text":             w.Text,
		"template":         w.Template,
		"unusable_penalty": w.UnusablePenalty,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("search.weights.%s must be between 0 and 1, got %.2f", name, v)
		}
	}
	if w.Tag+w.Category+w.Text+w.Template <= 0 {
		return fmt.Errorf("search.weights must have a positive sum")
	}

	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.ProbeTimeout <= 0 {
		return fmt.Errorf("search.probe_timeout must be positive, got %s", c.Search.ProbeTimeout)
	}
	if c.Search.MaxExpansions < 0 {
		return fmt.Errorf("search.max_expansions must be non-negative, got %d", c.Search.MaxExpansions)
	}
	for _, p := range c.Search.DisabledProbes {
		switch p {
		case "tag", "category", "text":
		default:
			return fmt.Errorf("search.disabled_probes: unknown probe %q (use tag, category, text)", p)
		}
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be 'memory' or 'redis', got %s", c.Cache.Backend)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
		if c.Store.TextBackend == "postgres" {
			return fmt.Errorf("store.text_backend 'postgres' requires the postgres driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn (or KBSEARCH_DATABASE_URL) is required for the postgres driver")
		}
		if c.Store.TextBackend == "fts5" {
			return fmt.Errorf("store.text_backend 'fts5' requires the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be 'sqlite' or 'postgres', got %s", c.Store.Driver)
	}
	switch c.Store.TextBackend {
	case "fts5", "bleve", "postgres":
	default:
		return fmt.Errorf("store.text_backend must be 'fts5', 'bleve' or 'postgres', got %s", c.Store.TextBackend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
