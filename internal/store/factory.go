package store

import (
	"context"
	"fmt"
	"log/slog"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// Backend names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	TextFTS5     = "fts5"
	TextBleve    = "bleve"
	TextPostgres = "postgres"
)

// OpenOptions selects and locates the storage backends.
type OpenOptions struct {
	Driver      string
	Path        string
	DSN         string
	TextBackend string
	BlevePath   string
}

// Backend bundles the opened store with its full-text searcher.
type Backend struct {
	Store    Store
	Text     TextSearcher
	Writer   Writer
	Indexers []TextIndexer
}

// Close closes the searcher (when separate) and the store.
func (b *Backend) Close() error {
	var firstErr error
	for _, idx := range b.Indexers {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// entryLister lets a separate text index be warmed from the primary store.
type entryLister interface {
	AllEntries(ctx context.Context) ([]Entry, error)
}

// Open opens the configured backends.
func Open(ctx context.Context, opts OpenOptions) (*Backend, error) {
	var (
		primary interface {
			Store
			TextSearcher
			Writer
			entryLister
		}
		err error
	)

	switch opts.Driver {
	case DriverSQLite, "":
		primary, err = NewSQLiteStore(opts.Path)
	case DriverPostgres:
		primary, err = NewPostgresStore(ctx, opts.DSN)
	default:
		return nil, kberrors.New(kberrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown store driver %q", opts.Driver), nil)
	}
	if err != nil {
		return nil, err
	}

	b := &Backend{Store: primary, Text: primary, Writer: primary}

	switch opts.TextBackend {
	case TextFTS5, TextPostgres, "":
	case TextBleve:
		idx, err := NewBleveTextIndex(opts.BlevePath)
		if err != nil {
			_ = primary.Close()
			return nil, kberrors.New(kberrors.ErrCodeStorageOpen, "failed to open bleve index", err)
		}
		b.Text = idx
		b.Indexers = []TextIndexer{idx}

		if err := warmIndex(ctx, idx, primary); err != nil {
			_ = b.Close()
			return nil, err
		}
	default:
		_ = primary.Close()
		return nil, kberrors.New(kberrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown text backend %q", opts.TextBackend), nil)
	}

	slog.Info("store_opened",
		slog.String("driver", opts.Driver),
		slog.String("text_backend", opts.TextBackend))
	return b, nil
}

// warmIndex fills an empty Bleve index from the primary store.
func warmIndex(ctx context.Context, idx *BleveTextIndex, src entryLister) error {
	count, err := idx.index.DocCount()
	if err != nil {
		return fmt.Errorf("failed to count bleve documents: %w", err)
	}
	if count > 0 {
		return nil
	}
	entries, err := src.AllEntries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	slog.Info("bleve_index_warming", slog.String("index", idx.String()), slog.Int("entries", len(entries)))
	return idx.Rebuild(ctx, entries)
}
