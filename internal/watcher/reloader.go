package watcher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// EventSource supplies debounced batches.
type EventSource interface {
	Events() <-chan []FileEvent
}

// CacheResetter clears cached search results.
type CacheResetter interface {
	ResetCache(ctx context.Context)
}

// ReloadFunc re-seeds the store from the dataset file.
type ReloadFunc func(ctx context.Context) error

// Reloader re-seeds the store on each batch and then resets the cache.
// A failed reload leaves the previous data and cache in place.
type Reloader struct {
	source   EventSource
	reload   ReloadFunc
	resetter CacheResetter
	logger   *slog.Logger

	reloads  atomic.Int64
	failures atomic.Int64
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithReloaderLogger sets the logger.
func WithReloaderLogger(l *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReloader creates a Reloader.
func NewReloader(source EventSource, reload ReloadFunc, resetter CacheResetter, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		source:   source,
		reload:   reload,
		resetter: resetter,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes batches until ctx is cancelled or the source closes.
func (r *Reloader) Run(ctx context.Context) {
	events := r.source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, batch)
		}
	}
}

func (r *Reloader) handle(ctx context.Context, batch []FileEvent) {
	if len(batch) == 0 {
		return
	}
	last := batch[len(batch)-1]
	if last.Gone() {
		// Keep serving the last good data until the file comes back.
		r.logger.Warn("dataset_removed",
			slog.String("path", last.Path),
			slog.String("op", last.Operation.String()))
		return
	}

	start := time.Now()
	if err := r.reload(ctx); err != nil {
		r.failures.Add(1)
		r.logger.Error("dataset_reload_failed",
			slog.String("path", last.Path),
			slog.String("error", err.Error()))
		return
	}

	r.resetter.ResetCache(ctx)
	n := r.reloads.Add(1)
	r.logger.Info("dataset_reloaded",
		slog.String("path", last.Path),
		slog.Int64("reloads", n),
		slog.Duration("duration", time.Since(start)))
}

// Reloads returns the number of successful reloads.
func (r *Reloader) Reloads() int64 {
	return r.reloads.Load()
}

// Failures returns the number of failed reloads.
func (r *Reloader) Failures() int64 {
	return r.failures.Load()
}
