package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/tokenize"
)

func TestBuildSearchIndex(t *testing.T) {
	e := Entry{
		Question:       "送迎 バス",
		Answer:         "15分間隔で運行",
		MainCategory:   "送迎",
		SubCategory:    "送迎バス",
		DetailCategory: "",
	}
	got := BuildSearchIndex(e, tokenize.Fallback)
	assert.Equal(t, "送迎 バス 15分間隔 運行 送迎バス", got)
}

func TestSeed_RebuildsIndexers(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	idx, err := NewBleveTextIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	err = Seed(ctx, s, loadFixture(t), tokenize.Fallback, SeedOptions{
		LockDir:  t.TempDir(),
		Indexers: []TextIndexer{idx},
	})
	require.NoError(t, err)

	hits, err := idx.SearchText(ctx, []string{"苦情"}, 10)
	require.NoError(t, err)
	assert.Contains(t, hitIDs(hits), int64(9))

	entries, err := s.EntriesByIDs(ctx, []int64{9})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.Contains(entries[0].SearchIndex, "苦情"))
}

func TestSeed_FoldsHandBuiltDataset(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ds := &Dataset{
		Tags: []Tag{{ID: 1, Name: "ＥＴＣ", Synonyms: []string{"ＥＴＣカード"}}},
		Entries: []Entry{{
			ID: 1, MainCategory: "ＥＴＣ", Question: "ＥＴＣは使えますか", Answer: "使えます",
			Usage: UsageFullyUsable,
		}},
		EntryTags: map[int64][]int64{1: {1}},
	}
	ctx := context.Background()
	require.NoError(t, Seed(ctx, s, ds, tokenize.Fallback, SeedOptions{}))

	tags, err := s.Tags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "ETC", tags[0].Name)
	assert.Equal(t, []string{"ETCカード"}, tags[0].Synonyms)

	matches, err := s.EntriesByCategory(ctx, []string{"etc"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, CategoryMain, matches[0].Level)
}

func TestSeed_LockHeldByAnotherSeeder(t *testing.T) {
	dir := t.TempDir()

	// Given: another process holds the seed lock
	held := NewFileLock(dir)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = held.Unlock() }()

	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// When: seeding with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = Seed(ctx, s, loadFixture(t), tokenize.Fallback, SeedOptions{LockDir: dir})

	// Then: the seed gives up with a retryable lock error
	require.Error(t, err)
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeLockHeld))
	assert.True(t, kberrors.IsRetryable(err))
}

func TestFileLock_UnlockIsIdempotent(t *testing.T) {
	l := NewFileLock(t.TempDir())
	require.NoError(t, l.Lock(context.Background()))
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Unlock())
	assert.Contains(t, l.Path(), ".seed.lock")
}
