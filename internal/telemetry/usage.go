package telemetry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// UsageRecorder persists one row per search.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev SearchEvent) error
}

// UsageStats summarizes the usage log.
type UsageStats struct {
	TotalQueries   int64         `json:"total_queries"`
	ZeroResultRate float64       `json:"zero_result_rate"`
	P95Latency     time.Duration `json:"p95_latency"`
}

// UsageLog is the SQLite-backed usage log.
type UsageLog struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

var _ UsageRecorder = (*UsageLog)(nil)

const usageSchema = `
CREATE TABLE IF NOT EXISTS search_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_hash TEXT NOT NULL,
	top_entry_id INTEGER,
	result_count INTEGER NOT NULL,
	latency_us INTEGER NOT NULL,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_usage_created ON search_usage(created_at);
CREATE INDEX IF NOT EXISTS idx_search_usage_hash ON search_usage(query_hash);
`

// OpenUsageLog opens (or creates) the usage log. An empty path keeps it in memory.
func OpenUsageLog(path string) (*UsageLog, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeStorageOpen, "failed to open usage log", err).
			WithDetail("path", path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(usageSchema); err != nil {
		_ = db.Close()
		return nil, kberrors.New(kberrors.ErrCodeStorageOpen, "failed to create usage schema", err).
			WithDetail("path", path)
	}
	return &UsageLog{db: db}, nil
}

// HashQuery returns the hex sha256 of a normalized query.
func HashQuery(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// RecordUsage appends one row.
func (u *UsageLog) RecordUsage(ctx context.Context, ev SearchEvent) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return kberrors.StorageError("usage log is closed", nil)
	}

	var topEntry sql.NullInt64
	if ev.ResultCount > 0 && ev.TopEntryID > 0 {
		topEntry = sql.NullInt64{Int64: ev.TopEntryID, Valid: true}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := u.db.ExecContext(ctx, `
		INSERT INTO search_usage (query_hash, top_entry_id, result_count, latency_us, cache_hit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, HashQuery(ev.Query), topEntry, ev.ResultCount, ev.Latency.Microseconds(), ev.CacheHit, ts.UTC())
	if err != nil {
		return kberrors.StorageError("failed to record usage", err)
	}
	return nil
}

// UsageStats returns totals and the p95 latency across the whole log.
func (u *UsageLog) UsageStats(ctx context.Context) (UsageStats, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return UsageStats{}, kberrors.StorageError("usage log is closed", nil)
	}

	var stats UsageStats
	var zero int64
	err := u.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN result_count = 0 THEN 1 ELSE 0 END), 0)
		FROM search_usage
	`).Scan(&stats.TotalQueries, &zero)
	if err != nil {
		return UsageStats{}, kberrors.StorageError("failed to read usage totals", err)
	}
	if stats.TotalQueries == 0 {
		return stats, nil
	}
	stats.ZeroResultRate = float64(zero) / float64(stats.TotalQueries)

	// Nearest-rank p95.
	rank := int64(math.Ceil(0.95 * float64(stats.TotalQueries)))
	var p95us int64
	err = u.db.QueryRowContext(ctx, `
		SELECT latency_us FROM search_usage
		ORDER BY latency_us ASC
		LIMIT 1 OFFSET ?
	`, rank-1).Scan(&p95us)
	if err != nil {
		return UsageStats{}, kberrors.StorageError("failed to read usage latency", err)
	}
	stats.P95Latency = time.Duration(p95us) * time.Microsecond
	return stats, nil
}

// Close releases the database.
func (u *UsageLog) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	if err := u.db.Close(); err != nil {
		return fmt.Errorf("close usage log: %w", err)
	}
	return nil
}
