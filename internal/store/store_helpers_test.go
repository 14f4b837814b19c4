package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/tokenize"
)

const fixturePath = "testdata/knowledge.yaml"

func loadFixture(t *testing.T) *Dataset {
	t.Helper()
	ds, err := LoadDataset(fixturePath)
	require.NoError(t, err)
	return ds
}

// newSeededSQLite returns an in-memory store seeded with the fixture.
func newSeededSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, Seed(context.Background(), s, loadFixture(t), tokenize.Fallback, SeedOptions{}))
	return s
}

func entryIDs(entries []Entry) []int64 {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func hitIDs(hits []TextHit) []int64 {
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}
