package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

// mockEngine implements Engine for testing.
type mockEngine struct {
	mu       sync.Mutex
	searchFn func(ctx context.Context, raw string) (*search.Response, error)
	snap     telemetry.Snapshot
	detail   telemetry.DetailSnapshot
	period   *store.BusyPeriod
	lastFrom time.Time
	resets   int
}

func (m *mockEngine) Search(ctx context.Context, raw string) (*search.Response, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, raw)
	}
	return &search.Response{Query: raw}, nil
}

func (m *mockEngine) Metrics() telemetry.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *mockEngine) MetricsDetail() telemetry.DetailSnapshot { return m.detail }

func (m *mockEngine) ResetCache(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.snap = telemetry.Snapshot{}
}

func (m *mockEngine) NextBusyPeriod(_ context.Context, from time.Time) (*store.BusyPeriod, error) {
	m.lastFrom = from
	return m.period, nil
}

var testNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, eng *mockEngine) *Server {
	t.Helper()
	srv, err := NewServer(eng,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil)
	require.Error(t, err)
}

func TestServer_Info(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})
	name, ver := srv.Info()
	assert.Equal(t, "kbsearch", name)
	assert.NotEmpty(t, ver)
	assert.NotNil(t, srv.MCPServer())
}

func TestServer_ListTools(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})

	names := make([]string, 0)
	for _, ti := range srv.ListTools() {
		names = append(names, ti.Name)
		assert.NotEmpty(t, ti.Description)
	}
	assert.Equal(t, []string{"search_knowledge", "get_search_metrics", "reset_search_cache", "next_busy_period"}, names)
}

func TestServer_CallTool_Search(t *testing.T) {
	eng := &mockEngine{searchFn: func(_ context.Context, raw string) (*search.Response, error) {
		return sampleResponse(), nil
	}}
	srv := newTestServer(t, eng)

	result, err := srv.CallTool(context.Background(), "search_knowledge", map[string]any{"query": "キャンセル料"})

	require.NoError(t, err)
	md, ok := result.(string)
	require.True(t, ok)
	assert.Contains(t, md, "キャンセル料はかかりますか")
}

func TestServer_CallTool_SearchValidation(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})

	for _, args := range []map[string]any{nil, {}, {"query": "   "}, {"query": 42}} {
		_, err := srv.CallTool(context.Background(), "search_knowledge", args)
		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	}
}

func TestServer_CallTool_SearchMapsEngineErrors(t *testing.T) {
	eng := &mockEngine{searchFn: func(context.Context, string) (*search.Response, error) {
		return nil, kberrors.New(kberrors.ErrCodeStorageUnavailable, "all probes failed", nil)
	}}
	srv := newTestServer(t, eng)

	_, err := srv.CallTool(context.Background(), "search_knowledge", map[string]any{"query": "料金"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeStorageUnavailable, mcpErr.Code)
}

func TestServer_CallTool_MetricsAndReset(t *testing.T) {
	eng := &mockEngine{snap: telemetry.Snapshot{TotalSearches: 5, CacheHits: 2, AverageSearchTime: 1.2, CacheHitRate: 40}}
	srv := newTestServer(t, eng)

	got, err := srv.CallTool(context.Background(), "get_search_metrics", nil)
	require.NoError(t, err)
	assert.Equal(t, MetricsOutput{TotalSearches: 5, CacheHits: 2, AverageSearchTime: 1.2, CacheHitRate: 40}, got)

	got, err = srv.CallTool(context.Background(), "reset_search_cache", nil)
	require.NoError(t, err)
	assert.Equal(t, MetricsOutput{}, got)
	assert.Equal(t, 1, eng.resets)
}

func TestServer_CallTool_NextBusyPeriod(t *testing.T) {
	jst := search.JST
	eng := &mockEngine{period: &store.BusyPeriod{
		Year:        2025,
		StartDate:   time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC),
		Description: "お盆期間",
	}}
	srv := newTestServer(t, eng)

	t.Run("explicit date", func(t *testing.T) {
		got, err := srv.CallTool(context.Background(), "next_busy_period", map[string]any{"date": "2025-08-01"})
		require.NoError(t, err)
		out := got.(BusyPeriodOutput)
		assert.True(t, out.Found)
		assert.Equal(t, "2025-08-09", out.Start)
		assert.Equal(t, "2025-08-18", out.End)
		assert.Equal(t, "2025年8月9日～18日", out.Range)
		assert.Equal(t, store.DateOnly(time.Date(2025, 8, 1, 0, 0, 0, 0, jst)), eng.lastFrom)
	})

	t.Run("defaults to today", func(t *testing.T) {
		_, err := srv.CallTool(context.Background(), "next_busy_period", nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), eng.lastFrom)
	})

	t.Run("bad date", func(t *testing.T) {
		_, err := srv.CallTool(context.Background(), "next_busy_period", map[string]any{"date": "8月1日"})
		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	})

	t.Run("none found", func(t *testing.T) {
		eng.period = nil
		got, err := srv.CallTool(context.Background(), "next_busy_period", nil)
		require.NoError(t, err)
		assert.False(t, got.(BusyPeriodOutput).Found)
	})
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})
	_, err := srv.CallTool(context.Background(), "search", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_QueryMetrics(t *testing.T) {
	since := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	eng := &mockEngine{
		snap: telemetry.Snapshot{TotalSearches: 4, CacheHits: 1},
		detail: telemetry.DetailSnapshot{
			TopTerms:            []telemetry.TermCount{{Term: "料金", Count: 3}},
			ZeroResultQueries:   []string{"ロケット"},
			ZeroResultCount:     1,
			LatencyDistribution: map[telemetry.LatencyBucket]int64{telemetry.BucketP10: 4},
			Since:               since,
		},
	}
	srv := newTestServer(t, eng)

	out := srv.QueryMetrics()

	assert.Equal(t, int64(4), out.Summary.TotalSearches)
	assert.Equal(t, 25.0, out.Summary.ZeroResultPct)
	assert.Equal(t, "2025-07-01T00:00:00Z", out.Summary.Since)
	assert.Equal(t, []QueryTermCount{{Term: "料金", Count: 3}}, out.TopTerms)
	assert.Equal(t, int64(4), out.LatencyDistribution["p10"])

	raw, err := srv.queryMetricsJSON()
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
}

// Round trip through the SDK using in-memory transports.
func TestServer_InMemorySession(t *testing.T) {
	eng := &mockEngine{searchFn: func(context.Context, string) (*search.Response, error) {
		return sampleResponse(), nil
	}}
	srv := newTestServer(t, eng)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 4)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search_knowledge",
		Arguments: map[string]any{"query": "キャンセル料"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"template_id":1`)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search_knowledge",
		Arguments: map[string]any{"query": ""},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
