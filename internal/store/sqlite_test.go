package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

func TestSQLiteStore_Tags_IncludesSynonymsInOrder(t *testing.T) {
	s := newSeededSQLite(t)

	tags, err := s.Tags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 8)

	assert.Equal(t, int64(1), tags[0].ID)
	assert.Equal(t, "キャンセル", tags[0].Name)
	assert.Equal(t, []string{"取消", "取り消し", "キャンセル料"}, tags[0].Synonyms)
}

func TestSQLiteStore_FindTags(t *testing.T) {
	s := newSeededSQLite(t)
	ctx := context.Background()

	tests := []struct {
		name string
		term string
		want []int64
	}{
		{"by name", "営業時間", []int64{2}},
		{"by synonym", "クレーム", []int64{6}},
		{"by substring of synonym", "送迎バ", []int64{8}},
		{"matches several", "料", []int64{1, 4}},
		{"no match", "駐輪場", nil},
		{"empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags, err := s.FindTags(ctx, tt.term)
			require.NoError(t, err)
			var ids []int64
			for _, tag := range tags {
				ids = append(ids, tag.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSQLiteStore_EntriesByTags(t *testing.T) {
	s := newSeededSQLite(t)

	// Given: tags キャンセル(1) and 予約(3)
	got, err := s.EntriesByTags(context.Background(), []int64{1, 3})
	require.NoError(t, err)

	// Then: every entry with either tag, with the requested tags it carries
	byID := map[int64][]int64{}
	for _, te := range got {
		byID[te.ID] = te.TagIDs
	}
	assert.Equal(t, map[int64][]int64{
		1: {1},
		2: {1, 3},
		7: {3},
	}, byID)
}

func TestSQLiteStore_EntriesByTags_Empty(t *testing.T) {
	s := newSeededSQLite(t)
	got, err := s.EntriesByTags(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_EntriesByCategory_ReportsDeepestLevel(t *testing.T) {
	s := newSeededSQLite(t)

	got, err := s.EntriesByCategory(context.Background(), []string{"キャンセル"})
	require.NoError(t, err)

	levels := map[int64]CategoryLevel{}
	for _, m := range got {
		levels[m.ID] = m.Level
	}
	assert.Equal(t, map[int64]CategoryLevel{
		1: CategoryDetail,
		2: CategoryDetail,
	}, levels)

	got, err = s.EntriesByCategory(context.Background(), []string{"予約関連"})
	require.NoError(t, err)
	for _, m := range got {
		assert.Equal(t, CategoryMain, m.Level)
	}
	assert.Len(t, got, 3)
}

func TestSQLiteStore_EntriesByCategory_CaseInsensitive(t *testing.T) {
	s := newSeededSQLite(t)
	ctx := context.Background()

	ds := loadFixture(t)
	ds.Entries[0].MainCategory = "WEB予約"
	require.NoError(t, s.ReplaceAll(ctx, ds))

	got, err := s.EntriesByCategory(ctx, []string{"web"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, CategoryMain, got[0].Level)
}

func TestSQLiteStore_EntriesByIDs(t *testing.T) {
	s := newSeededSQLite(t)

	got, err := s.EntriesByIDs(context.Background(), []int64{9, 4, 999})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, entryIDs(got))

	assert.Equal(t, UsageUnusable, got[0].Usage)
	assert.True(t, got[0].IsTemplate)
	assert.Equal(t, "深夜", got[0].DetailCategory)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestSQLiteStore_SearchText(t *testing.T) {
	s := newSeededSQLite(t)

	hits, err := s.SearchText(context.Background(), []string{"送迎"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(8), hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score, "hits are best first")
	}
}

func TestSQLiteStore_SearchText_OperatorsAreLiteral(t *testing.T) {
	s := newSeededSQLite(t)

	// FTS5 syntax in a term must not produce a query error.
	hits, err := s.SearchText(context.Background(), []string{`"AND OR NOT*`, "料金"}, 10)
	require.NoError(t, err)
	assert.Contains(t, hitIDs(hits), int64(1))
}

func TestSQLiteStore_SearchText_NoTerms(t *testing.T) {
	s := newSeededSQLite(t)
	hits, err := s.SearchText(context.Background(), []string{"", " "}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteStore_BusyPeriodsCovering(t *testing.T) {
	s := newSeededSQLite(t)
	ctx := context.Background()

	dates := []time.Time{
		time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC), // inclusive end
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	got, err := s.BusyPeriodsCovering(ctx, dates)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "お盆", got[0].Description)
	assert.True(t, got[0].Contains(dates[0]))

	got, err = s.BusyPeriodsCovering(ctx, []time.Time{time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Empty(t, got, "a different year must not match")
}

func TestSQLiteStore_NextBusyPeriod(t *testing.T) {
	s := newSeededSQLite(t)
	ctx := context.Background()

	next, err := s.NextBusyPeriod(ctx, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "お盆", next.Description)

	next, err = s.NextBusyPeriod(ctx, time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "お盆", next.Description, "a period in progress is still next")

	next, err = s.NextBusyPeriod(ctx, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestSQLiteStore_ReplaceAllIsIdempotent(t *testing.T) {
	s := newSeededSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceAll(ctx, loadFixture(t)))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestSQLiteStore_PersistsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb", "knowledge.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.ReplaceAll(ctx, loadFixture(t)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestSQLiteStore_ClosedStoreErrors(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "double close is a no-op")

	_, err = s.Tags(context.Background())
	require.Error(t, err)
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeStorageQuery))
}
