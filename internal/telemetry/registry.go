// Package telemetry tracks search counters, latency and query patterns.
// Everything is kept in-process; the optional usage log is a local SQLite file.
package telemetry

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// latencySecondsBuckets are the upper bounds exported on the Prometheus histogram.
var latencySecondsBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// =============================================================================
// Search Event
// =============================================================================

// SearchEvent is one completed search, served from cache or computed.
type SearchEvent struct {
	Query       string
	Terms       []string
	ResultCount int
	TopEntryID  int64
	Latency     time.Duration
	CacheHit    bool
	Timestamp   time.Time
}

// IsZeroResult returns true if this search returned no results.
func (e SearchEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// =============================================================================
// Snapshots
// =============================================================================

// Snapshot is the getMetrics view.
type Snapshot struct {
	TotalSearches int64 `json:"totalSearches"`
	CacheHits     int64 `json:"cacheHits"`
	// AverageSearchTime is in milliseconds and includes cache hits.
	AverageSearchTime float64 `json:"averageSearchTime"`
	// CacheHitRate is a percentage in [0,100].
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// DetailSnapshot is the query-pattern view.
type DetailSnapshot struct {
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`
}

// =============================================================================
// Registry
// =============================================================================

// RegistryConfig configures the detail trackers.
type RegistryConfig struct {
	// TopTermsSize bounds the term frequency tracker.
	TopTermsSize int
	// ZeroResultBufferSize is how many zero-result queries are remembered.
	ZeroResultBufferSize int
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		TopTermsSize:         100,
		ZeroResultBufferSize: 100,
	}
}

// Registry holds search counters. Counters are lock-free; the detail trackers
// share one mutex.
type Registry struct {
	totalSearches     atomic.Int64
	cacheHits         atomic.Int64
	totalLatencyNanos atomic.Int64

	mu              sync.Mutex
	cfg             RegistryConfig
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	zeroResultCount int64
	latencies       map[LatencyBucket]int64
	histCounts      []uint64
	histTotal       uint64
	histSum         float64
	since           time.Time

	searchesDesc *prometheus.Desc
	hitsDesc     *prometheus.Desc
	latencyDesc  *prometheus.Desc
	averageDesc  *prometheus.Desc
}

var _ prometheus.Collector = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	def := DefaultRegistryConfig()
	if cfg.TopTermsSize <= 0 {
		cfg.TopTermsSize = def.TopTermsSize
	}
	if cfg.ZeroResultBufferSize <= 0 {
		cfg.ZeroResultBufferSize = def.ZeroResultBufferSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	// Only fails for size <= 0.
	topTerms, _ := lru.New[string, int64](cfg.TopTermsSize)

	return &Registry{
		cfg:         cfg,
		topTerms:    topTerms,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultBufferSize),
		latencies:   make(map[LatencyBucket]int64),
		histCounts:  make([]uint64, len(latencySecondsBuckets)),
		since:       cfg.Now(),
		searchesDesc: prometheus.NewDesc(
			"kbsearch_searches_total",
			"Total number of searches served, including cache hits.",
			nil, nil,
		),
		hitsDesc: prometheus.NewDesc(
			"kbsearch_cache_hits_total",
			"Total number of searches answered from the result cache.",
			nil, nil,
		),
		latencyDesc: prometheus.NewDesc(
			"kbsearch_search_latency_seconds",
			"Search latency in seconds.",
			nil, nil,
		),
		averageDesc: prometheus.NewDesc(
			"kbsearch_average_search_milliseconds",
			"Average search latency in milliseconds since the last reset.",
			nil, nil,
		),
	}
}

// Record counts one completed search.
func (r *Registry) Record(ev SearchEvent) {
	latency := max(ev.Latency, 0)

	// Searches before hits, and Snapshot loads them in reverse, so a
	// concurrent reader never sees more hits than searches.
	r.totalLatencyNanos.Add(int64(latency))
	r.totalSearches.Add(1)
	if ev.CacheHit {
		r.cacheHits.Add(1)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, term := range ev.Terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		count, _ := r.topTerms.Get(term)
		r.topTerms.Add(term, count+1)
	}

	if ev.IsZeroResult() {
		r.zeroResults.Add(ev.Query)
		r.zeroResultCount++
	}

	r.latencies[LatencyToBucket(latency)]++

	secs := latency.Seconds()
	r.histTotal++
	r.histSum += secs
	for i, upper := range latencySecondsBuckets {
		if secs <= upper {
			r.histCounts[i]++
		}
	}
}

// Snapshot returns the current counters.
func (r *Registry) Snapshot() Snapshot {
	hits := r.cacheHits.Load()
	searches := r.totalSearches.Load()
	nanos := r.totalLatencyNanos.Load()

	s := Snapshot{TotalSearches: searches, CacheHits: hits}
	if searches > 0 {
		s.AverageSearchTime = round2(float64(nanos) / float64(searches) / float64(time.Millisecond))
		s.CacheHitRate = round2(float64(hits) / float64(searches) * 100)
	}
	return s
}

// Detail returns the query-pattern trackers.
func (r *Registry) Detail() DetailSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	topTerms := make([]TermCount, 0, r.topTerms.Len())
	for _, key := range r.topTerms.Keys() {
		if count, ok := r.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	slices.SortStableFunc(topTerms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Term, b.Term)
	})

	latencies := make(map[LatencyBucket]int64, len(r.latencies))
	for k, v := range r.latencies {
		latencies[k] = v
	}

	return DetailSnapshot{
		TopTerms:            topTerms,
		ZeroResultQueries:   r.zeroResults.Items(),
		LatencyDistribution: latencies,
		ZeroResultCount:     r.zeroResultCount,
		Since:               r.since,
	}
}

// Reset zeroes every counter and tracker.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cacheHits.Store(0)
	r.totalSearches.Store(0)
	r.totalLatencyNanos.Store(0)

	r.topTerms.Purge()
	r.zeroResults.Clear()
	r.zeroResultCount = 0
	clear(r.latencies)
	clear(r.histCounts)
	r.histTotal = 0
	r.histSum = 0
	r.since = r.cfg.Now()
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.searchesDesc
	ch <- r.hitsDesc
	ch <- r.latencyDesc
	ch <- r.averageDesc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	snap := r.Snapshot()

	r.mu.Lock()
	buckets := make(map[float64]uint64, len(latencySecondsBuckets))
	for i, upper := range latencySecondsBuckets {
		buckets[upper] = r.histCounts[i]
	}
	total, sum := r.histTotal, r.histSum
	r.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(r.searchesDesc, prometheus.CounterValue, float64(snap.TotalSearches))
	ch <- prometheus.MustNewConstMetric(r.hitsDesc, prometheus.CounterValue, float64(snap.CacheHits))
	ch <- prometheus.MustNewConstHistogram(r.latencyDesc, total, sum, buckets)
	ch <- prometheus.MustNewConstMetric(r.averageDesc, prometheus.GaugeValue, snap.AverageSearchTime)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
