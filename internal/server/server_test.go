package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/config"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
	"github.com/Aman-CERP/kbsearch/internal/tokenize"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSearcher returns canned results and counts resets.
type fakeSearcher struct {
	resp    *search.Response
	err     error
	metrics telemetry.Snapshot
	resets  atomic.Int32
	lastRaw string
}

func (f *fakeSearcher) Search(_ context.Context, raw string) (*search.Response, error) {
	f.lastRaw = raw
	return f.resp, f.err
}

func (f *fakeSearcher) Metrics() telemetry.Snapshot { return f.metrics }

func (f *fakeSearcher) ResetCache(context.Context) {
	f.resets.Add(1)
	f.metrics = telemetry.Snapshot{}
}

type fakeUsage struct {
	stats telemetry.UsageStats
	err   error
}

func (f fakeUsage) UsageStats(context.Context) (telemetry.UsageStats, error) {
	return f.stats, f.err
}

func newTestServer(t *testing.T, s search.Searcher, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger()), WithClock(func() time.Time { return fixedNow })}, opts...)
	srv, err := New(s, config.ServerConfig{Addr: "127.0.0.1:0", CORSOrigins: []string{"http://localhost:3000"}}, opts...)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestNew_RequiresSearcher(t *testing.T) {
	_, err := New(nil, config.ServerConfig{})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeSearcher{})
	w := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotContains(t, decode(t, w), "tokenizer", "only engines report a tokenizer")
}

func TestTags(t *testing.T) {
	finder := tagFinderFunc(func(_ context.Context, term string) ([]store.Tag, error) {
		if term == "down" {
			return nil, kberrors.New(kberrors.ErrCodeStorageUnavailable, "store closed", errors.New("closed"))
		}
		if term == "予約" {
			return []store.Tag{{ID: 3, Name: "予約", Synonyms: []string{"リザーブ"}}}, nil
		}
		return nil, nil
	})
	h := newTestServer(t, &fakeSearcher{}, WithTags(finder)).Handler()

	ok := do(t, h, http.MethodGet, "/api/tags?term=予約", "")
	require.Equal(t, http.StatusOK, ok.Code)
	assert.Len(t, decode(t, ok)["tags"], 1)

	none := decode(t, do(t, h, http.MethodGet, "/api/tags?term=駐輪場", ""))
	assert.Equal(t, []any{}, none["tags"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/tags", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/tags?term=down", "").Code)

	// Without a finder the route is not mounted.
	bare := newTestServer(t, &fakeSearcher{}).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, bare, http.MethodGet, "/api/tags?term=予約", "").Code)
}

type tagFinderFunc func(ctx context.Context, term string) ([]store.Tag, error)

func (f tagFinderFunc) FindTags(ctx context.Context, term string) ([]store.Tag, error) {
	return f(ctx, term)
}

func TestSearch_MalformedBodyIsBadRequest(t *testing.T) {
	srv := newTestServer(t, &fakeSearcher{})
	w := do(t, srv.Handler(), http.MethodPost, "/api/search", "{not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, kberrors.ErrCodeInvalidInput, errBody["code"])
	assert.NotEmpty(t, errBody["suggestion"])
	assert.Equal(t, false, body["success"])
}

func TestSearch_ErrorStatusFollowsCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid input", kberrors.InvalidInput("query is empty"), http.StatusBadRequest},
		{"too long", kberrors.New(kberrors.ErrCodeQueryTooLong, "too long", nil), http.StatusBadRequest},
		{"storage unavailable", kberrors.New(kberrors.ErrCodeStorageUnavailable, "all probes failed", nil), http.StatusServiceUnavailable},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeSearcher{err: tt.err})
			w := do(t, srv.Handler(), http.MethodPost, "/api/search", `{"query":"x"}`)
			assert.Equal(t, tt.status, w.Code)
			errBody := decode(t, w)["error"].(map[string]any)
			assert.NotEmpty(t, errBody["code"])
			assert.NotEmpty(t, errBody["message"])
		})
	}
}

func TestSearch_PassesRawQuery(t *testing.T) {
	fs := &fakeSearcher{resp: &search.Response{Query: "駐車場", Results: []search.ScoredResult{}}}
	srv := newTestServer(t, fs)

	w := do(t, srv.Handler(), http.MethodPost, "/api/search", `{"query":"　駐車場 "}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "　駐車場 ", fs.lastRaw)
	assert.Equal(t, "駐車場", decode(t, w)["query"])
}

func TestMetrics_Get(t *testing.T) {
	fs := &fakeSearcher{metrics: telemetry.Snapshot{TotalSearches: 4, CacheHits: 1, AverageSearchTime: 2.5, CacheHitRate: 25}}
	srv := newTestServer(t, fs)

	w := do(t, srv.Handler(), http.MethodGet, "/api/search/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "25.00%", body["cache_hit_rate"])
	assert.Equal(t, "2.50ms", body["average_time_formatted"])
	metrics := body["metrics"].(map[string]any)
	assert.Equal(t, float64(4), metrics["totalSearches"])
	assert.Equal(t, float64(1), metrics["cacheHits"])
	assert.Zero(t, fs.resets.Load())
}

func TestMetrics_ResetVariants(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		resets int32
	}{
		{"get with reset", http.MethodGet, "/api/search/metrics?reset=true", "", 1},
		{"get with other value", http.MethodGet, "/api/search/metrics?reset=yes", "", 0},
		{"post reset", http.MethodPost, "/api/search/metrics", `{"reset_cache":true}`, 1},
		{"post no-op", http.MethodPost, "/api/search/metrics", `{"reset_cache":false}`, 0},
		{"delete cache", http.MethodDelete, "/api/search/cache", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeSearcher{metrics: telemetry.Snapshot{TotalSearches: 3, CacheHits: 2}}
			srv := newTestServer(t, fs)

			w := do(t, srv.Handler(), tt.method, tt.path, tt.body)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.resets, fs.resets.Load())
			metrics := decode(t, w)["metrics"].(map[string]any)
			if tt.resets > 0 {
				assert.Equal(t, float64(0), metrics["totalSearches"])
				assert.Equal(t, float64(0), metrics["cacheHits"])
			} else {
				assert.Equal(t, float64(3), metrics["totalSearches"])
			}
		})
	}
}

func TestUsage(t *testing.T) {
	t.Run("not mounted without a reader", func(t *testing.T) {
		srv := newTestServer(t, &fakeSearcher{})
		w := do(t, srv.Handler(), http.MethodGet, "/api/search/usage", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("reports stats", func(t *testing.T) {
		srv := newTestServer(t, &fakeSearcher{}, WithUsage(fakeUsage{stats: telemetry.UsageStats{
			TotalQueries: 10, ZeroResultRate: 0.1, P95Latency: 12 * time.Millisecond,
		}}))
		w := do(t, srv.Handler(), http.MethodGet, "/api/search/usage", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(10), body["total_queries"])
		assert.Equal(t, 12.0, body["p95_latency_ms"])
	})

	t.Run("storage error", func(t *testing.T) {
		srv := newTestServer(t, &fakeSearcher{}, WithUsage(fakeUsage{err: kberrors.StorageError("closed", nil)}))
		w := do(t, srv.Handler(), http.MethodGet, "/api/search/usage", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	srv := newTestServer(t, &fakeSearcher{})
	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

// End-to-end against a seeded in-memory store.
func TestServer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	ds, err := store.LoadDataset("../store/testdata/knowledge.yaml")
	require.NoError(t, err)
	st, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, store.Seed(ctx, st, ds, tokenize.Fallback, store.SeedOptions{}))

	analyzer := tokenize.New(
		tokenize.WithLogger(discardLogger()),
		tokenize.WithSegmenterFactory(func() (tokenize.Segmenter, error) {
			return nil, errors.New("no dictionary in tests")
		}),
	)
	engine, err := search.NewEngine(st, st, search.DefaultEngineConfig(),
		search.WithAnalyzer(analyzer),
		search.WithLogger(discardLogger()),
		search.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	srv := newTestServer(t, engine, WithCollectors(engine.Registry()), WithTags(st))
	h := srv.Handler()

	health := decode(t, do(t, h, http.MethodGet, "/healthz", ""))
	assert.Equal(t, "fallback", health["tokenizer"])

	tags := do(t, h, http.MethodGet, "/api/tags?term=クレーム", "")
	require.Equal(t, http.StatusOK, tags.Code, tags.Body.String())
	found := decode(t, tags)["tags"].([]any)
	require.Len(t, found, 1)
	assert.Equal(t, float64(6), found[0].(map[string]any)["id"])

	// Given a fresh engine
	// When the same question is asked twice
	first := do(t, h, http.MethodPost, "/api/search", `{"query":"キャンセル料はいくらですか"}`)
	second := do(t, h, http.MethodPost, "/api/search", `{"query":"キャンセル料はいくらですか"}`)

	// Then the second answer comes from the cache
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, false, decode(t, first)["cached"])
	assert.Equal(t, true, decode(t, second)["cached"])

	results := decode(t, first)["results"].([]any)
	require.NotEmpty(t, results)
	top := results[0].(map[string]any)["entry"].(map[string]any)
	assert.Equal(t, float64(1), top["id"])

	metrics := decode(t, do(t, h, http.MethodGet, "/api/search/metrics", ""))
	assert.Equal(t, "50.00%", metrics["cache_hit_rate"])

	prom := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, prom.Code)
	assert.Contains(t, prom.Body.String(), "kbsearch_searches_total 2")
	assert.Contains(t, prom.Body.String(), "kbsearch_cache_hits_total 1")

	reset := decode(t, do(t, h, http.MethodDelete, "/api/search/cache", ""))
	assert.Equal(t, float64(0), reset["metrics"].(map[string]any)["totalSearches"])

	empty := do(t, h, http.MethodPost, "/api/search", `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv := newTestServer(t, &fakeSearcher{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
