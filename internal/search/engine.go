package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/Aman-CERP/kbsearch/internal/cache"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/normalize"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
	"github.com/Aman-CERP/kbsearch/internal/tokenize"
)

// Searcher is the inbound API shared by the HTTP, MCP and CLI surfaces.
type Searcher interface {
	Search(ctx context.Context, raw string) (*Response, error)
	Metrics() telemetry.Snapshot
	ResetCache(ctx context.Context)
}

// Engine runs the normalize, tokenize, expand, retrieve and rank pipeline
// behind the result cache.
type Engine struct {
	store     store.Store
	text      store.TextSearcher
	config    EngineConfig
	analyzer  *tokenize.Analyzer
	expander  *Expander
	temporal  *TemporalExtractor
	retriever *Retriever
	scorer    *Scorer
	cache     *cache.ResultCache[Response]
	metrics   *telemetry.Registry
	usage     telemetry.UsageRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// Ensure Engine implements Searcher.
var _ Searcher = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithAnalyzer sets the tokenizer. Defaults to a kagome-backed analyzer.
func WithAnalyzer(a *tokenize.Analyzer) EngineOption {
	return func(e *Engine) {
		e.analyzer = a
	}
}

// WithCache sets the result cache. Defaults to an in-process cache with the
// default TTL.
func WithCache(c *cache.ResultCache[Response]) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *telemetry.Registry) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithUsageRecorder persists one usage row per search. Failures are logged.
func WithUsageRecorder(u telemetry.UsageRecorder) EngineOption {
	return func(e *Engine) {
		e.usage = u
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the clock used to resolve relative dates.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewCache creates a result cache that skips responses built while a probe
// was failing.
func NewCache(cfg cache.Config, opts ...cache.Option[Response]) *cache.ResultCache[Response] {
	opts = append(opts, cache.WithCacheable(func(r Response) bool { return !r.transient }))
	return cache.New[Response](cfg, opts...)
}

// NewEngine creates a search engine. text may be nil, which disables the
// full-text probe.
func NewEngine(st store.Store, text store.TextSearcher, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store is required", ErrNilDependency)
	}
	if err := config.Weights.Validate(); err != nil {
		return nil, kberrors.ConfigError("invalid ranking weights", err)
	}
	if config.MaxQueryRunes <= 0 {
		config.MaxQueryRunes = DefaultMaxQueryRunes
	}

	e := &Engine{
		store:  st,
		text:   text,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.analyzer == nil {
		e.analyzer = tokenize.New(tokenize.WithLogger(e.logger))
	}
	if e.cache == nil {
		e.cache = NewCache(cache.Config{Logger: e.logger})
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewRegistry(telemetry.DefaultRegistryConfig())
	}

	e.expander = NewExpander(st,
		WithMaxExpansions(config.MaxExpansions),
		WithExpanderLogger(e.logger))
	e.temporal = NewTemporalExtractor(st, config.Year, e.now, e.logger)
	e.retriever = NewRetriever(st, text,
		WithProbeTimeout(config.ProbeTimeout),
		WithTextLimit(config.TextLimit),
		WithDisabledProbes(config.DisabledProbes),
		WithRetrieverLogger(e.logger))
	e.scorer = NewScorer(config.Weights, config.MaxResults)

	return e, nil
}

// Search answers one free-text question. Identical normalized queries within
// the cache TTL are served from the cache.
func (e *Engine) Search(ctx context.Context, raw string) (*Response, error) {
	start := time.Now()

	query, err := normalize.Query(raw)
	if err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(query); n > e.config.MaxQueryRunes {
		return nil, kberrors.New(kberrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters, limit is %d", n, e.config.MaxQueryRunes), nil).
			WithSuggestion("shorten the question")
	}

	resp, hit, err := e.cache.Do(ctx, query, func(ctx context.Context) (Response, error) {
		return e.run(ctx, query)
	})
	if err != nil {
		e.logger.Warn("search_failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return nil, err
	}

	out := resp
	out.Cached = hit
	latency := time.Since(start)
	e.record(ctx, &out, latency)

	e.logger.Debug("search_completed",
		slog.String("query", query),
		slog.Int("results", len(out.Results)),
		slog.Bool("cached", hit),
		slog.Bool("degraded", out.Degraded),
		slog.Duration("latency", latency))

	return &out, nil
}

// run executes the uncached pipeline.
func (e *Engine) run(ctx context.Context, query string) (Response, error) {
	terms := e.analyzer.Tokens(query)
	exp := e.expander.Expand(ctx, terms)
	tmp := e.temporal.Extract(ctx, query)

	ret, err := e.retriever.Retrieve(ctx, RetrieveInput{
		Terms:  exp.Terms,
		TagIDs: exp.TagIDs,
		Query:  query,
	})
	if err != nil {
		return Response{}, err
	}

	q := Query{
		Normalized:  query,
		KeyTerms:    terms,
		Expanded:    exp.Terms,
		TagIDs:      exp.TagIDs,
		Dates:       tmp.Dates,
		BusyPeriods: tmp.BusyPeriods,
	}
	ranked := e.scorer.Rank(ret.Candidates, q)

	return Response{
		Query:           query,
		Results:         ranked.Results,
		KeyTerms:        orEmpty(terms),
		SynonymExpanded: orEmpty(exp.Terms),
		TagIDs:          exp.TagIDs,
		Dates:           orEmpty(tmp.Dates),
		BusyPeriods:     orEmpty(tmp.BusyPeriods),
		Template:        ranked.Template,
		Notes:           Annotate(tmp.Dates, tmp.BusyPeriods),
		Degraded:        ret.Degraded(),
		transient:       ret.Transient(),
	}, nil
}

func (e *Engine) record(ctx context.Context, resp *Response, latency time.Duration) {
	ev := telemetry.SearchEvent{
		Query:       resp.Query,
		Terms:       resp.KeyTerms,
		ResultCount: len(resp.Results),
		Latency:     latency,
		CacheHit:    resp.Cached,
		Timestamp:   e.now(),
	}
	if len(resp.Results) > 0 {
		ev.TopEntryID = resp.Results[0].Entry.ID
	}

	e.metrics.Record(ev)

	if e.usage == nil {
		return
	}
	if err := e.usage.RecordUsage(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("usage_record_failed", slog.String("error", err.Error()))
	}
}

// Metrics returns the current counters.
func (e *Engine) Metrics() telemetry.Snapshot {
	return e.metrics.Snapshot()
}

// MetricsDetail returns the query-pattern trackers.
func (e *Engine) MetricsDetail() telemetry.DetailSnapshot {
	return e.metrics.Detail()
}

// Registry exposes the metrics registry for Prometheus registration.
func (e *Engine) Registry() *telemetry.Registry {
	return e.metrics
}

// ResetCache clears the result cache and zeroes the metrics together.
func (e *Engine) ResetCache(ctx context.Context) {
	before := e.metrics.Snapshot()
	e.cache.Purge(ctx)
	e.metrics.Reset()
	e.logger.Info("cache_reset",
		slog.Int64("total_searches", before.TotalSearches),
		slog.Int64("cache_hits", before.CacheHits))
}

// NextBusyPeriod returns the first busy period that ends on or after from.
func (e *Engine) NextBusyPeriod(ctx context.Context, from time.Time) (*store.BusyPeriod, error) {
	return e.store.NextBusyPeriod(ctx, from)
}

// TokenizerAvailable reports whether morphological analysis is in use.
func (e *Engine) TokenizerAvailable() bool {
	return e.analyzer.Available()
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
