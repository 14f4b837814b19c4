package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

func setupUsageLog(t *testing.T) *UsageLog {
	t.Helper()

	u, err := OpenUsageLog(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = u.Close() })
	return u
}

func TestUsageLog_EmptyStats(t *testing.T) {
	u := setupUsageLog(t)

	stats, err := u.UsageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UsageStats{}, stats)
}

func TestUsageLog_RecordAndStats(t *testing.T) {
	u := setupUsageLog(t)
	ctx := context.Background()

	// Given: 20 searches with latencies 1..20ms, four of them empty
	for i := 1; i <= 20; i++ {
		ev := SearchEvent{
			Query:       "キャンセル料",
			ResultCount: 3,
			TopEntryID:  1,
			Latency:     time.Duration(i) * time.Millisecond,
			CacheHit:    i%2 == 0,
		}
		if i%5 == 0 {
			ev.ResultCount = 0
			ev.TopEntryID = 0
		}
		require.NoError(t, u.RecordUsage(ctx, ev))
	}

	// When: reading the stats
	stats, err := u.UsageStats(ctx)
	require.NoError(t, err)

	// Then: p95 is the 19th fastest (nearest rank)
	assert.Equal(t, int64(20), stats.TotalQueries)
	assert.InDelta(t, 0.2, stats.ZeroResultRate, 0.0001)
	assert.Equal(t, 19*time.Millisecond, stats.P95Latency)
}

func TestUsageLog_StoresHashNotQuery(t *testing.T) {
	u := setupUsageLog(t)
	ctx := context.Background()

	require.NoError(t, u.RecordUsage(ctx, SearchEvent{Query: "秘密の質問", ResultCount: 1, TopEntryID: 7}))

	var hash string
	var top int64
	err := u.db.QueryRow(`SELECT query_hash, top_entry_id FROM search_usage`).Scan(&hash, &top)
	require.NoError(t, err)
	assert.Equal(t, HashQuery("秘密の質問"), hash)
	assert.Len(t, hash, 64)
	assert.Equal(t, int64(7), top)
}

func TestUsageLog_InMemory(t *testing.T) {
	u, err := OpenUsageLog("")
	require.NoError(t, err)
	defer u.Close()

	require.NoError(t, u.RecordUsage(context.Background(), SearchEvent{Query: "q"}))
	stats, err := u.UsageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalQueries)
	assert.Equal(t, 1.0, stats.ZeroResultRate)
}

func TestUsageLog_Closed(t *testing.T) {
	u := setupUsageLog(t)
	require.NoError(t, u.Close())
	require.NoError(t, u.Close())

	err := u.RecordUsage(context.Background(), SearchEvent{Query: "q"})
	require.Error(t, err)
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeStorageQuery))
}
