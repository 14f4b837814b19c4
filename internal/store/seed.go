package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// TokenFunc splits text into index terms. tokenize.Analyzer.Tokens fits.
type TokenFunc func(text string) []string

// SeedOptions controls Seed.
type SeedOptions struct {
	// LockDir holds the cross-process seed lock. Empty disables locking.
	LockDir string

	// Indexers are rebuilt after the primary store is written.
	Indexers []TextIndexer
}

// BuildSearchIndex computes the denormalized search field of e.
func BuildSearchIndex(e Entry, tokens TokenFunc) string {
	text := strings.Join([]string{
		e.Question, e.Answer, e.MainCategory, e.SubCategory, e.DetailCategory,
	}, " ")
	return strings.Join(tokens(text), " ")
}

// Seed replaces the knowledge base with ds. Search indexes are computed with
// tokens so that query terms and indexed terms come from the same analyzer.
func Seed(ctx context.Context, w Writer, ds *Dataset, tokens TokenFunc, opts SeedOptions) error {
	start := time.Now()

	if opts.LockDir != "" {
		lock := NewFileLock(opts.LockDir)
		if err := lock.Lock(ctx); err != nil {
			return err
		}
		defer func() { _ = lock.Unlock() }()
	}

	ds.Canonicalize()
	for i := range ds.Entries {
		ds.Entries[i].SearchIndex = BuildSearchIndex(ds.Entries[i], tokens)
	}

	if err := w.ReplaceAll(ctx, ds); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	for _, idx := range opts.Indexers {
		if err := idx.Rebuild(ctx, ds.Entries); err != nil {
			return fmt.Errorf("failed to rebuild text index: %w", err)
		}
	}

	slog.Info("dataset_seeded",
		slog.Int("entries", len(ds.Entries)),
		slog.Int("tags", len(ds.Tags)),
		slog.Int("busy_periods", len(ds.BusyPeriods)),
		slog.Duration("duration", time.Since(start)))
	return nil
}
