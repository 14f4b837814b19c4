package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/normalize"
)

// SQLiteStore is the default Store. Full-text search uses an FTS5 table over
// the pre-tokenized search index, so Japanese word boundaries come from the
// morphological analyzer rather than from SQLite.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var (
	_ Store        = (*SQLiteStore)(nil)
	_ TextSearcher = (*SQLiteStore)(nil)
	_ Writer       = (*SQLiteStore)(nil)
)

const entryColumns = "id, main_category, sub_category, detail_category, question, answer, " +
	"is_template, usage, note, issue, search_index, created_at, updated_at"

// NewSQLiteStore opens or creates the database at path. An empty path opens
// an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, kberrors.New(kberrors.ErrCodeStorageOpen,
				fmt.Sprintf("failed to create directory %s", dir), err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeStorageOpen, "failed to open database", err)
	}

	// Single connection: in-memory databases are per-connection, and a single
	// writer avoids lock contention on disk.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, kberrors.New(kberrors.ErrCodeStorageOpen, "failed to set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, kberrors.New(kberrors.ErrCodeStorageOpen, "failed to initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS entries (
		id              INTEGER PRIMARY KEY,
		main_category   TEXT NOT NULL DEFAULT '',
		sub_category    TEXT NOT NULL DEFAULT '',
		detail_category TEXT NOT NULL DEFAULT '',
		question        TEXT NOT NULL DEFAULT '',
		answer          TEXT NOT NULL DEFAULT '',
		is_template     INTEGER NOT NULL DEFAULT 0,
		usage           TEXT NOT NULL DEFAULT '',
		note            TEXT NOT NULL DEFAULT '',
		issue           TEXT NOT NULL DEFAULT '',
		search_index    TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tags (
		id   INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS tag_synonyms (
		tag_id  INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		pos     INTEGER NOT NULL,
		synonym TEXT NOT NULL,
		PRIMARY KEY (tag_id, synonym)
	);

	CREATE TABLE IF NOT EXISTS entry_tags (
		entry_id INTEGER NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		tag_id   INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (entry_id, tag_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entry_tags_tag ON entry_tags(tag_id);

	CREATE TABLE IF NOT EXISTS busy_periods (
		id          INTEGER PRIMARY KEY,
		year        INTEGER NOT NULL,
		start_date  TEXT NOT NULL,
		end_date    TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	-- search_index is pre-tokenized (space separated), unicode61 only splits it.
	CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
		entry_id UNINDEXED,
		search_index,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return kberrors.StorageError("store is closed", nil)
	}
	return nil
}

// Tags implements Store.
func (s *SQLiteStore) Tags(ctx context.Context) ([]Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, s.synonym
		FROM tags t LEFT JOIN tag_synonyms s ON s.tag_id = t.id
		ORDER BY t.id, s.pos`)
	if err != nil {
		return nil, kberrors.StorageError("failed to query tags", err)
	}
	defer rows.Close()
	return collectTags(rows)
}

// FindTags implements Store.
func (s *SQLiteStore) FindTags(ctx context.Context, term string) ([]Tag, error) {
	term = normalize.Fold(term)
	if term == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, s.synonym
		FROM tags t LEFT JOIN tag_synonyms s ON s.tag_id = t.id
		WHERE t.id IN (
			SELECT t2.id FROM tags t2 LEFT JOIN tag_synonyms s2 ON s2.tag_id = t2.id
			WHERE instr(lower(t2.name), ?1) > 0 OR instr(lower(s2.synonym), ?1) > 0
		)
		ORDER BY t.id, s.pos`, term)
	if err != nil {
		return nil, kberrors.StorageError("failed to query tags", err)
	}
	defer rows.Close()
	return collectTags(rows)
}

func collectTags(rows *sql.Rows) ([]Tag, error) {
	var tags []Tag
	for rows.Next() {
		var (
			id      int64
			name    string
			synonym sql.NullString
		)
		if err := rows.Scan(&id, &name, &synonym); err != nil {
			return nil, kberrors.StorageError("failed to scan tag", err)
		}
		if n := len(tags); n == 0 || tags[n-1].ID != id {
			tags = append(tags, Tag{ID: id, Name: name})
		}
		if synonym.Valid {
			last := &tags[len(tags)-1]
			last.Synonyms = append(last.Synonyms, synonym.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read tags", err)
	}
	return tags, nil
}

// EntriesByTags implements Store.
func (s *SQLiteStore) EntriesByTags(ctx context.Context, tagIDs []int64) ([]TaggedEntry, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	args := make([]any, len(tagIDs))
	for i, id := range tagIDs {
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT %s, group_concat(et.tag_id)
		FROM entries e JOIN entry_tags et ON et.entry_id = e.id
		WHERE et.tag_id IN (%s)
		GROUP BY e.id
		ORDER BY e.id`, prefixed("e.", entryColumns), placeholders(len(tagIDs)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kberrors.StorageError("failed to query entries by tag", err)
	}
	defer rows.Close()

	var out []TaggedEntry
	for rows.Next() {
		var (
			r      entryRow
			tagCSV string
		)
		if err := rows.Scan(append(r.dest(), &tagCSV)...); err != nil {
			return nil, kberrors.StorageError("failed to scan entry", err)
		}
		te := TaggedEntry{Entry: r.entry()}
		for _, part := range strings.Split(tagCSV, ",") {
			if id, err := strconv.ParseInt(part, 10, 64); err == nil {
				te.TagIDs = append(te.TagIDs, id)
			}
		}
		slices.Sort(te.TagIDs)
		out = append(out, te)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read entries", err)
	}
	return out, nil
}

// EntriesByCategory implements Store.
func (s *SQLiteStore) EntriesByCategory(ctx context.Context, terms []string) ([]CategoryMatch, error) {
	terms = foldTerms(terms)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	for i, t := range terms {
		n := i + 1
		conds = append(conds, fmt.Sprintf(
			"instr(lower(main_category), ?%[1]d) > 0 OR instr(lower(sub_category), ?%[1]d) > 0 OR instr(lower(detail_category), ?%[1]d) > 0", n))
		args = append(args, t)
	}
	query := fmt.Sprintf("SELECT %s FROM entries WHERE %s ORDER BY id",
		entryColumns, strings.Join(conds, " OR "))

	entries, err := s.queryEntries(ctx, query, args...)
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

// EntriesByIDs implements Store. Unknown ids are skipped.
func (s *SQLiteStore) EntriesByIDs(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM entries WHERE id IN (%s) ORDER BY id",
		entryColumns, placeholders(len(ids)))
	return s.queryEntries(ctx, query, args...)
}

// SearchText implements TextSearcher using FTS5 with BM25 ranking.
func (s *SQLiteStore) SearchText(ctx context.Context, terms []string, limit int) ([]TextHit, error) {
	match := ftsQuery(terms)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, bm25(entries_fts)
		FROM entries_fts
		WHERE entries_fts MATCH ?
		ORDER BY bm25(entries_fts)
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, kberrors.StorageError("full-text query failed", err)
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var (
			id   int64
			rank float64
		)
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, kberrors.StorageError("failed to scan full-text hit", err)
		}
		// FTS5 bm25() is negative; more negative is better.
		hits = append(hits, TextHit{ID: id, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read full-text hits", err)
	}
	return hits, nil
}

// ftsQuery ORs quoted terms so FTS5 operators inside terms are literal.
func ftsQuery(terms []string) string {
	var parts []string
	for _, t := range foldTerms(terms) {
		parts = append(parts, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(parts, " OR ")
}

// BusyPeriodsCovering implements Store.
func (s *SQLiteStore) BusyPeriodsCovering(ctx context.Context, dates []time.Time) ([]BusyPeriod, error) {
	if len(dates) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var out []BusyPeriod
	for _, d := range dates {
		day := d.Format(dateLayout)
		periods, err := s.queryPeriods(ctx, `
			SELECT id, year, start_date, end_date, description FROM busy_periods
			WHERE year = ? AND start_date <= ? AND end_date >= ?
			ORDER BY start_date, id`, d.Year(), day, day)
		if err != nil {
			return nil, err
		}
		for _, p := range periods {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out, nil
}

// NextBusyPeriod implements Store.
func (s *SQLiteStore) NextBusyPeriod(ctx context.Context, from time.Time) (*BusyPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	periods, err := s.queryPeriods(ctx, `
		SELECT id, year, start_date, end_date, description FROM busy_periods
		WHERE end_date >= ?
		ORDER BY start_date, id
		LIMIT 1`, from.Format(dateLayout))
	if err != nil || len(periods) == 0 {
		return nil, err
	}
	return &periods[0], nil
}

func (s *SQLiteStore) queryPeriods(ctx context.Context, query string, args ...any) ([]BusyPeriod, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kberrors.StorageError("failed to query busy periods", err)
	}
	defer rows.Close()

	var out []BusyPeriod
	for rows.Next() {
		var (
			p          BusyPeriod
			start, end string
		)
		if err := rows.Scan(&p.ID, &p.Year, &start, &end, &p.Description); err != nil {
			return nil, kberrors.StorageError("failed to scan busy period", err)
		}
		if p.StartDate, err = time.Parse(dateLayout, start); err != nil {
			return nil, kberrors.StorageError("bad start_date", err)
		}
		if p.EndDate, err = time.Parse(dateLayout, end); err != nil {
			return nil, kberrors.StorageError("bad end_date", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read busy periods", err)
	}
	return out, nil
}

// ReplaceAll implements Writer.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, ds *Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.StorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM entry_tags", "DELETE FROM tag_synonyms", "DELETE FROM tags",
		"DELETE FROM entries_fts", "DELETE FROM entries", "DELETE FROM busy_periods",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return kberrors.StorageError("failed to clear tables", err)
		}
	}

	for _, t := range ds.Tags {
		if _, err := tx.ExecContext(ctx, "INSERT INTO tags (id, name) VALUES (?, ?)", t.ID, t.Name); err != nil {
			return kberrors.StorageError(fmt.Sprintf("failed to insert tag %q", t.Name), err)
		}
		for pos, syn := range t.Synonyms {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO tag_synonyms (tag_id, pos, synonym) VALUES (?, ?, ?)",
				t.ID, pos, syn); err != nil {
				return kberrors.StorageError("failed to insert synonym", err)
			}
		}
	}

	for _, e := range ds.Entries {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO entries (%s) VALUES (%s)", entryColumns, placeholders(13)),
			e.ID, e.MainCategory, e.SubCategory, e.DetailCategory, e.Question, e.Answer,
			boolToInt(e.IsTemplate), string(e.Usage), e.Note, e.Issue, e.SearchIndex,
			e.CreatedAt.UTC().Format(time.RFC3339), e.UpdatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return kberrors.StorageError(fmt.Sprintf("failed to insert entry %d", e.ID), err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entries_fts (entry_id, search_index) VALUES (?, ?)", e.ID, e.SearchIndex); err != nil {
			return kberrors.StorageError("failed to index entry", err)
		}
		for _, tagID := range ds.EntryTags[e.ID] {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO entry_tags (entry_id, tag_id) VALUES (?, ?)", e.ID, tagID); err != nil {
				return kberrors.StorageError("failed to link entry tag", err)
			}
		}
	}

	for _, p := range ds.BusyPeriods {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO busy_periods (id, year, start_date, end_date, description) VALUES (?, ?, ?, ?, ?)",
			p.ID, p.Year, p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout), p.Description); err != nil {
			return kberrors.StorageError("failed to insert busy period", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return kberrors.StorageError("failed to commit dataset", err)
	}
	return nil
}

// AllEntries returns every entry ordered by id.
func (s *SQLiteStore) AllEntries(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.queryEntries(ctx, fmt.Sprintf("SELECT %s FROM entries ORDER BY id", entryColumns))
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, kberrors.StorageError("failed to count entries", err)
	}
	return n, nil
}

// Close closes the database. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		slog.Warn("sqlite_close_failed", slog.String("path", s.path), slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kberrors.StorageError("failed to query entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var r entryRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, kberrors.StorageError("failed to scan entry", err)
		}
		out = append(out, r.entry())
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.StorageError("failed to read entries", err)
	}
	return out, nil
}

// entryRow scans one row of entryColumns.
type entryRow struct {
	e                Entry
	isTemplate       int
	usage            string
	created, updated string
}

func (r *entryRow) dest() []any {
	return []any{
		&r.e.ID, &r.e.MainCategory, &r.e.SubCategory, &r.e.DetailCategory, &r.e.Question, &r.e.Answer,
		&r.isTemplate, &r.usage, &r.e.Note, &r.e.Issue, &r.e.SearchIndex, &r.created, &r.updated,
	}
}

func (r *entryRow) entry() Entry {
	e := r.e
	e.IsTemplate = r.isTemplate != 0
	e.Usage = Usage(r.usage)
	e.CreatedAt, _ = time.Parse(time.RFC3339, r.created)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, r.updated)
	return e
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// foldTerms drops empty terms and folds the rest to the stored form.
func foldTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = normalize.Fold(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
