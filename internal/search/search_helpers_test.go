package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/tokenize"
)

const fixturePath = "../store/testdata/knowledge.yaml"

var errStoreDown = errors.New("store down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fallbackAnalyzer splits without a dictionary so results do not depend on
// the IPA dictionary.
func fallbackAnalyzer() *tokenize.Analyzer {
	return tokenize.New(
		tokenize.WithLogger(discardLogger()),
		tokenize.WithSegmenterFactory(func() (tokenize.Segmenter, error) {
			return nil, errors.New("dictionary not bundled in tests")
		}),
	)
}

func loadFixture(t *testing.T) *store.Dataset {
	t.Helper()
	ds, err := store.LoadDataset(fixturePath)
	require.NoError(t, err)
	return ds
}

// newSeededStore returns an in-memory SQLite store seeded with ds.
func newSeededStore(t *testing.T, ds *store.Dataset) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, store.Seed(context.Background(), s, ds, tokenize.Fallback, store.SeedOptions{}))
	return s
}

// faultyStore wraps a store and fails or stalls selected probes.
type faultyStore struct {
	store.Store
	failTags     bool
	failCategory bool
	failIDs      bool
	stall        time.Duration
	tagCalls     atomic.Int32
}

func (f *faultyStore) EntriesByTags(ctx context.Context, ids []int64) ([]store.TaggedEntry, error) {
	f.tagCalls.Add(1)
	if f.failTags {
		return nil, errStoreDown
	}
	return f.Store.EntriesByTags(ctx, ids)
}

func (f *faultyStore) EntriesByCategory(ctx context.Context, terms []string) ([]store.CategoryMatch, error) {
	if f.stall > 0 {
		// Ignores ctx on purpose.
		time.Sleep(f.stall)
	}
	if f.failCategory {
		return nil, errStoreDown
	}
	return f.Store.EntriesByCategory(ctx, terms)
}

func (f *faultyStore) EntriesByIDs(ctx context.Context, ids []int64) ([]store.Entry, error) {
	if f.failIDs {
		return nil, errStoreDown
	}
	return f.Store.EntriesByIDs(ctx, ids)
}

// gatedStore holds the category probe until release is closed. It reports
// the first entry on entered.
type gatedStore struct {
	store.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) EntriesByCategory(ctx context.Context, terms []string) ([]store.CategoryMatch, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Store.EntriesByCategory(ctx, terms)
}

// failingText is a TextSearcher that always fails.
type failingText struct{}

func (failingText) SearchText(context.Context, []string, int) ([]store.TextHit, error) {
	return nil, errStoreDown
}

func (failingText) Close() error { return nil }

// staticTags is a TagSource over a fixed list.
type staticTags struct {
	tags []store.Tag
	err  error
}

func (s staticTags) Tags(context.Context) ([]store.Tag, error) { return s.tags, s.err }

func resultIDs(results []ScoredResult) []int64 {
	ids := make([]int64, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Entry.ID)
	}
	return ids
}

func candidateIDs(cands []Candidate) []int64 {
	ids := make([]int64, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.Entry.ID)
	}
	return ids
}
