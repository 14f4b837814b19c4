package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Aman-CERP/kbsearch/internal/cache"
	"github.com/Aman-CERP/kbsearch/internal/config"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
	"github.com/Aman-CERP/kbsearch/internal/tokenize"
)

// app is the wired search stack shared by serve, search and seed.
type app struct {
	cfg      *config.Config
	backend  *store.Backend
	analyzer *tokenize.Analyzer
	engine   *search.Engine
	usage    *telemetry.UsageLog
	closers  []func() error
	logger   *slog.Logger
}

// segmenterFactory replaces the kagome backend for every command when set.
var segmenterFactory tokenize.SegmenterFactory

// appOptions tweaks openApp for one command.
type appOptions struct {
	// seedIfEmpty loads the configured dataset when the store has no entries.
	seedIfEmpty bool
	// noUsage skips the usage log even when telemetry is enabled.
	noUsage bool
	// segmenter overrides the tokenizer backend in tests.
	segmenter tokenize.SegmenterFactory
}

// openApp wires config, storage, cache, telemetry and the engine.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default()}

	backend, err := store.Open(ctx, store.OpenOptions{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		DSN:         cfg.Store.DSN,
		TextBackend: cfg.Store.TextBackend,
		BlevePath:   cfg.Store.BlevePath,
	})
	if err != nil {
		return nil, err
	}
	a.backend = backend
	a.closers = append(a.closers, backend.Close)

	analyzerOpts := []tokenize.Option{tokenize.WithLogger(a.logger)}
	if opts.segmenter == nil {
		opts.segmenter = segmenterFactory
	}
	if opts.segmenter != nil {
		analyzerOpts = append(analyzerOpts, tokenize.WithSegmenterFactory(opts.segmenter))
	}
	a.analyzer = tokenize.New(analyzerOpts...)
	// Load the dictionary now rather than inside the first search.
	if err := a.analyzer.Init(); err != nil {
		a.logger.Info("tokenizer_fallback", slog.String("error", err.Error()))
	}

	resultCache, err := a.openCache(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	engineCfg, err := search.EngineConfigFrom(cfg.Search)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	engineOpts := []search.EngineOption{
		search.WithAnalyzer(a.analyzer),
		search.WithCache(resultCache),
		search.WithMetrics(telemetry.NewRegistry(telemetry.RegistryConfig{
			TopTermsSize:         cfg.Telemetry.TopTerms,
			ZeroResultBufferSize: cfg.Telemetry.ZeroResultBuffer,
		})),
		search.WithLogger(a.logger),
	}
	if cfg.Telemetry.Enabled && !opts.noUsage {
		usage, err := telemetry.OpenUsageLog(cfg.Telemetry.UsagePath)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.usage = usage
		a.closers = append(a.closers, usage.Close)
		engineOpts = append(engineOpts, search.WithUsageRecorder(usage))
	}

	a.engine, err = search.NewEngine(backend.Store, backend.Text, engineCfg, engineOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if opts.seedIfEmpty {
		if err := a.seedIfEmpty(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

// openCache builds the in-process cache, backed by Redis when configured.
func (a *app) openCache(ctx context.Context) (*cache.ResultCache[search.Response], error) {
	cc := cache.Config{
		TTL:        a.cfg.Cache.TTL,
		MaxEntries: a.cfg.Cache.MaxEntries,
		Logger:     a.logger,
	}
	if a.cfg.Cache.Backend != "redis" {
		return search.NewCache(cc), nil
	}

	rc := a.cfg.Cache.Redis
	client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		Prefix:   rc.Prefix,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	a.logger.Info("redis_cache_enabled", slog.String("addr", rc.Addr))

	l2 := cache.NewRedisLevel[search.Response](client, rc.Prefix, nil)
	return search.NewCache(cc, cache.WithSecondLevel[search.Response](l2)), nil
}

// reseed loads path and replaces the knowledge base under the seed lock.
func (a *app) reseed(ctx context.Context, path string) (*store.Dataset, error) {
	ds, err := store.LoadDataset(path)
	if err != nil {
		return nil, err
	}
	err = store.Seed(ctx, a.backend.Writer, ds, a.analyzer.Tokens, store.SeedOptions{
		LockDir:  a.lockDir(),
		Indexers: a.backend.Indexers,
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// seedIfEmpty seeds the configured dataset into an empty store.
func (a *app) seedIfEmpty(ctx context.Context) error {
	counter, ok := a.backend.Store.(interface {
		Count(ctx context.Context) (int, error)
	})
	if !ok {
		return nil
	}
	n, err := counter.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	a.logger.Info("store_empty_seeding", slog.String("dataset", a.cfg.Store.Dataset))
	if _, err := a.reseed(ctx, a.cfg.Store.Dataset); err != nil {
		return fmt.Errorf("seed empty store: %w", err)
	}
	return nil
}

// lockDir keeps the seed lock next to the SQLite file, or in .kbsearch for
// other drivers.
func (a *app) lockDir() string {
	if a.cfg.Store.Path != "" && a.cfg.Store.Driver != store.DriverPostgres {
		return filepath.Dir(a.cfg.Store.Path)
	}
	return filepath.Join(filepath.Dir(a.cfg.Store.Dataset), ".kbsearch")
}

// Close releases everything openApp opened, last opened first.
func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
