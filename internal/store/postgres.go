package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/normalize"
)

// PostgresStore keeps the knowledge base in Postgres. Categories use strpos on
// lower-cased columns; full text uses to_tsvector('simple') over the
// pre-tokenized search index.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var (
	_ Store        = (*PostgresStore)(nil)
	_ TextSearcher = (*PostgresStore)(nil)
	_ Writer       = (*PostgresStore)(nil)
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS kb_entries (
	id              BIGINT PRIMARY KEY,
	main_category   TEXT NOT NULL DEFAULT '',
	sub_category    TEXT NOT NULL DEFAULT '',
	detail_category TEXT NOT NULL DEFAULT '',
	question        TEXT NOT NULL DEFAULT '',
	answer          TEXT NOT NULL DEFAULT '',
	is_template     BOOLEAN NOT NULL DEFAULT FALSE,
	usage           TEXT NOT NULL DEFAULT '',
	note            TEXT NOT NULL DEFAULT '',
	issue           TEXT NOT NULL DEFAULT '',
	search_index    TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kb_entries_fts ON kb_entries USING GIN (to_tsvector('simple', search_index));

CREATE TABLE IF NOT EXISTS kb_tags (
	id   BIGINT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS kb_tag_synonyms (
	tag_id  BIGINT NOT NULL REFERENCES kb_tags(id) ON DELETE CASCADE,
	pos     INT NOT NULL,
	synonym TEXT NOT NULL,
	PRIMARY KEY (tag_id, synonym)
);

CREATE TABLE IF NOT EXISTS kb_entry_tags (
	entry_id BIGINT NOT NULL REFERENCES kb_entries(id) ON DELETE CASCADE,
	tag_id   BIGINT NOT NULL REFERENCES kb_tags(id) ON DELETE CASCADE,
	PRIMARY KEY (entry_id, tag_id)
);

CREATE TABLE IF NOT EXISTS kb_busy_periods (
	id          BIGINT PRIMARY KEY,
	year        INT NOT NULL,
	start_date  DATE NOT NULL,
	end_date    DATE NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);
`

const pgEntryColumns = "e.id, e.main_category, e.sub_category, e.detail_category, e.question, e.answer, " +
	"e.is_template, e.usage, e.note, e.issue, e.search_index, e.created_at, e.updated_at"

// NewPostgresStore connects to dsn, retrying transient failures, and ensures
// the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeStorageOpen, "failed to parse database URL", err)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := kberrors.RetryWithResult(ctx, kberrors.DefaultRetryConfig(), func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, kberrors.New(kberrors.ErrCodeNetworkUnavailable, "failed to create connection pool", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, kberrors.New(kberrors.ErrCodeNetworkUnavailable, "failed to ping database", err)
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, kberrors.New(kberrors.ErrCodeStorageOpen, "failed to initialize schema", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Tags implements Store.
func (p *PostgresStore) Tags(ctx context.Context) ([]Tag, error) {
	return p.queryTags(ctx, "", nil)
}

// FindTags implements Store.
func (p *PostgresStore) FindTags(ctx context.Context, term string) ([]Tag, error) {
	term = normalize.Fold(term)
	if term == "" {
		return nil, nil
	}
	return p.queryTags(ctx, `
		WHERE strpos(lower(t.name), $1) > 0
		   OR EXISTS (SELECT 1 FROM kb_tag_synonyms s2 WHERE s2.tag_id = t.id AND strpos(lower(s2.synonym), $1) > 0)`,
		[]any{term})
}

func (p *PostgresStore) queryTags(ctx context.Context, where string, args []any) ([]Tag, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT t.id, t.name,
		       COALESCE(array_agg(s.synonym ORDER BY s.pos) FILTER (WHERE s.synonym IS NOT NULL), '{}')
		FROM kb_tags t LEFT JOIN kb_tag_synonyms s ON s.tag_id = t.id
		`+where+`
		GROUP BY t.id, t.name
		ORDER BY t.id`, args...)
	if err != nil {
		return nil, kberrors.StorageError("failed to query tags", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Synonyms); err != nil {
			return nil, kberrors.StorageError("failed to scan tag", err)
		}
		if len(t.Synonyms) == 0 {
			t.Synonyms = nil
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read tags", err)
	}
	return tags, nil
}

// EntriesByTags implements Store.
func (p *PostgresStore) EntriesByTags(ctx context.Context, tagIDs []int64) ([]TaggedEntry, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+pgEntryColumns+`, array_agg(et.tag_id ORDER BY et.tag_id)
		FROM kb_entries e JOIN kb_entry_tags et ON et.entry_id = e.id
		WHERE et.tag_id = ANY($1)
		GROUP BY e.id
		ORDER BY e.id`, tagIDs)
	if err != nil {
		return nil, kberrors.StorageError("failed to query entries by tag", err)
	}
	defer rows.Close()

	var out []TaggedEntry
	for rows.Next() {
		var te TaggedEntry
		if err := rows.Scan(append(pgEntryDest(&te.Entry), &te.TagIDs)...); err != nil {
			return nil, kberrors.StorageError("failed to scan entry", err)
		}
		out = append(out, te)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read entries", err)
	}
	return out, nil
}

// EntriesByCategory implements Store.
func (p *PostgresStore) EntriesByCategory(ctx context.Context, terms []string) ([]CategoryMatch, error) {
	terms = foldTerms(terms)
	if len(terms) == 0 {
		return nil, nil
	}
	entries, err := p.queryEntries(ctx, `
		SELECT `+pgEntryColumns+` FROM kb_entries e
		WHERE EXISTS (
			SELECT 1 FROM unnest($1::text[]) AS t(term)
			WHERE strpos(lower(e.main_category), t.term) > 0
			   OR strpos(lower(e.sub_category), t.term) > 0
			   OR strpos(lower(e.detail_category), t.term) > 0
		)
		ORDER BY e.id`, terms)
	if err != nil {
		return nil, err
	}

	out := make([]CategoryMatch, 0, len(entries))
	for _, e := range entries {
		if level := MatchCategory(e, terms); level != CategoryNone {
			out = append(out, CategoryMatch{Entry: e, Level: level})
		}
	}
	return out, nil
}

// EntriesByIDs implements Store.
func (p *PostgresStore) EntriesByIDs(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return p.queryEntries(ctx,
		`SELECT `+pgEntryColumns+` FROM kb_entries e WHERE e.id = ANY($1) ORDER BY e.id`, ids)
}

// AllEntries returns every entry ordered by id.
func (p *PostgresStore) AllEntries(ctx context.Context) ([]Entry, error) {
	return p.queryEntries(ctx, `SELECT `+pgEntryColumns+` FROM kb_entries e ORDER BY e.id`)
}

// Count returns the number of stored entries.
func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM kb_entries`).Scan(&n); err != nil {
		return 0, kberrors.StorageError("failed to count entries", err)
	}
	return n, nil
}

// SearchText implements TextSearcher.
func (p *PostgresStore) SearchText(ctx context.Context, terms []string, limit int) ([]TextHit, error) {
	tsq := tsQuery(terms)
	if tsq == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, ts_rank(to_tsvector('simple', search_index), q) AS rank
		FROM kb_entries, to_tsquery('simple', $1) AS q
		WHERE to_tsvector('simple', search_index) @@ q
		ORDER BY rank DESC, id
		LIMIT $2`, tsq, limit)
	if err != nil {
		return nil, kberrors.StorageError("full-text query failed", err)
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var (
			h    TextHit
			rank float32
		)
		if err := rows.Scan(&h.ID, &rank); err != nil {
			return nil, kberrors.StorageError("failed to scan full-text hit", err)
		}
		h.Score = float64(rank)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read full-text hits", err)
	}
	return hits, nil
}

// tsQuery ORs quoted lexemes so tsquery operators inside terms are literal.
func tsQuery(terms []string) string {
	var parts []string
	for _, t := range foldTerms(terms) {
		t = strings.ReplaceAll(t, `\`, `\\`)
		parts = append(parts, "'"+strings.ReplaceAll(t, "'", "''")+"'")
	}
	return strings.Join(parts, " | ")
}

// BusyPeriodsCovering implements Store.
func (p *PostgresStore) BusyPeriodsCovering(ctx context.Context, dates []time.Time) ([]BusyPeriod, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	days := make([]time.Time, len(dates))
	for i, d := range dates {
		days[i] = DateOnly(d)
	}
	return p.queryPeriods(ctx, `
		SELECT DISTINCT b.id, b.year, b.start_date, b.end_date, b.description
		FROM kb_busy_periods b, unnest($1::date[]) AS d(day)
		WHERE b.year = EXTRACT(YEAR FROM d.day)::int AND b.start_date <= d.day AND b.end_date >= d.day
		ORDER BY b.start_date, b.id`, days)
}

// NextBusyPeriod implements Store.
func (p *PostgresStore) NextBusyPeriod(ctx context.Context, from time.Time) (*BusyPeriod, error) {
	periods, err := p.queryPeriods(ctx, `
		SELECT id, year, start_date, end_date, description FROM kb_busy_periods
		WHERE end_date >= $1 ORDER BY start_date, id LIMIT 1`, DateOnly(from))
	if err != nil || len(periods) == 0 {
		return nil, err
	}
	return &periods[0], nil
}

func (p *PostgresStore) queryPeriods(ctx context.Context, query string, args ...any) ([]BusyPeriod, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, kberrors.StorageError("failed to query busy periods", err)
	}
	defer rows.Close()

	var out []BusyPeriod
	for rows.Next() {
		var b BusyPeriod
		if err := rows.Scan(&b.ID, &b.Year, &b.StartDate, &b.EndDate, &b.Description); err != nil {
			return nil, kberrors.StorageError("failed to scan busy period", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read busy periods", err)
	}
	return out, nil
}

// ReplaceAll implements Writer.
func (p *PostgresStore) ReplaceAll(ctx context.Context, ds *Dataset) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"TRUNCATE kb_entry_tags, kb_tag_synonyms, kb_tags, kb_entries, kb_busy_periods"); err != nil {
			return kberrors.StorageError("failed to clear tables", err)
		}

		batch := &pgx.Batch{}
		for _, t := range ds.Tags {
			batch.Queue("INSERT INTO kb_tags (id, name) VALUES ($1, $2)", t.ID, t.Name)
			for pos, syn := range t.Synonyms {
				batch.Queue(`INSERT INTO kb_tag_synonyms (tag_id, pos, synonym) VALUES ($1, $2, $3)
					ON CONFLICT DO NOTHING`, t.ID, pos, syn)
			}
		}
		for _, e := range ds.Entries {
			batch.Queue(`INSERT INTO kb_entries (id, main_category, sub_category, detail_category,
				question, answer, is_template, usage, note, issue, search_index, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				e.ID, e.MainCategory, e.SubCategory, e.DetailCategory, e.Question, e.Answer,
				e.IsTemplate, string(e.Usage), e.Note, e.Issue, e.SearchIndex, e.CreatedAt, e.UpdatedAt)
			for _, tagID := range ds.EntryTags[e.ID] {
				batch.Queue(`INSERT INTO kb_entry_tags (entry_id, tag_id) VALUES ($1, $2)
					ON CONFLICT DO NOTHING`, e.ID, tagID)
			}
		}
		for _, b := range ds.BusyPeriods {
			batch.Queue(`INSERT INTO kb_busy_periods (id, year, start_date, end_date, description)
				VALUES ($1, $2, $3, $4, $5)`, b.ID, b.Year, b.StartDate, b.EndDate, b.Description)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return kberrors.StorageError("failed to write dataset", err)
		}
		return nil
	})
}

// Close closes the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, kberrors.StorageError("failed to query entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(pgEntryDest(&e)...); err != nil {
			return nil, kberrors.StorageError("failed to scan entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read entries", err)
	}
	return out, nil
}

// pgEntryDest scans directly; pgx converts BOOLEAN and TIMESTAMPTZ, and the
// text usage column into the Usage string type.
func pgEntryDest(e *Entry) []any {
	return []any{
		&e.ID, &e.MainCategory, &e.SubCategory, &e.DetailCategory, &e.Question, &e.Answer,
		&e.IsTemplate, &e.Usage, &e.Note, &e.Issue, &e.SearchIndex, &e.CreatedAt, &e.UpdatedAt,
	}
}

// String describes the store for logs.
func (p *PostgresStore) String() string {
	cfg := p.pool.Config().ConnConfig
	return fmt.Sprintf("postgres(%s:%d/%s)", cfg.Host, cfg.Port, cfg.Database)
}
