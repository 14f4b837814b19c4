// Package store provides the knowledge base persistence layer: entries, tags
// with synonyms, and busy periods, plus the full-text indexes the retriever
// probes. SQLite (FTS5) is the default backend; Bleve and Postgres are
// alternatives.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/Aman-CERP/kbsearch/internal/normalize"
)

// Usage is the free-text eligibility marker carried by an entry.
type Usage string

const (
	UsageFullyUsable Usage = "fully-usable"
	UsageConditional Usage = "conditional"
	UsageUnusable    Usage = "unusable"
)

// Valid reports whether u is a known marker. Empty is allowed and means unknown.
func (u Usage) Valid() bool {
	switch u {
	case "", UsageFullyUsable, UsageConditional, UsageUnusable:
		return true
	}
	return false
}

// Entry is one curated question/answer record.
type Entry struct {
	ID             int64     `json:"id"`
	MainCategory   string    `json:"main_category"`
	SubCategory    string    `json:"sub_category"`
	DetailCategory string    `json:"detail_category,omitempty"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	IsTemplate     bool      `json:"is_template"`
	Usage          Usage     `json:"usage,omitempty"`
	Note           string    `json:"note,omitempty"`
	Issue          string    `json:"issue,omitempty"`
	SearchIndex    string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Tag groups entries and carries synonym expansions.
type Tag struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// BusyPeriod is an inclusive date range of high demand.
type BusyPeriod struct {
	ID          int64     `json:"id"`
	Year        int       `json:"year"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Description string    `json:"description,omitempty"`
}

// Contains reports whether d falls inside the period. Only the calendar date
// of d is compared.
func (p BusyPeriod) Contains(d time.Time) bool {
	if d.Year() != p.Year {
		return false
	}
	day := DateOnly(d)
	return !day.Before(DateOnly(p.StartDate)) && !day.After(DateOnly(p.EndDate))
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CategoryLevel is the deepest category level a term matched.
type CategoryLevel int

const (
	CategoryNone CategoryLevel = iota
	CategoryMain
	CategorySub
	CategoryDetail
)

func (l CategoryLevel) String() string {
	switch l {
	case CategoryMain:
		return "main"
	case CategorySub:
		return "sub"
	case CategoryDetail:
		return "detail"
	default:
		return "none"
	}
}

// MatchCategory returns the deepest level of e whose category contains any of
// terms, ignoring case and width.
func MatchCategory(e Entry, terms []string) CategoryLevel {
	levels := []struct {
		value string
		level CategoryLevel
	}{
		{e.DetailCategory, CategoryDetail},
		{e.SubCategory, CategorySub},
		{e.MainCategory, CategoryMain},
	}
	for _, l := range levels {
		if l.value == "" {
			continue
		}
		v := normalize.Fold(l.value)
		for _, t := range terms {
			if t = normalize.Fold(t); t != "" && strings.Contains(v, t) {
				return l.level
			}
		}
	}
	return CategoryNone
}

// TaggedEntry is a tag probe hit: the entry and which of the requested tag
// ids it carries.
type TaggedEntry struct {
	Entry
	TagIDs []int64
}

// CategoryMatch is a category probe hit.
type CategoryMatch struct {
	Entry
	Level CategoryLevel
}

// TextHit is a full-text probe hit. Backends return hits best first; Score
// is backend-specific and only orders hits within one backend.
type TextHit struct {
	ID    int64
	Score float64
}

// Store is the query-only view of the knowledge base used by the search
// engine.
type Store interface {
	// Tags returns every tag with its synonyms, ordered by id.
	Tags(ctx context.Context) ([]Tag, error)

	// FindTags returns tags whose name or any synonym contains term.
	FindTags(ctx context.Context, term string) ([]Tag, error)

	EntriesByTags(ctx context.Context, tagIDs []int64) ([]TaggedEntry, error)
	EntriesByCategory(ctx context.Context, terms []string) ([]CategoryMatch, error)
	EntriesByIDs(ctx context.Context, ids []int64) ([]Entry, error)

	// BusyPeriodsCovering returns the periods containing any of dates.
	BusyPeriodsCovering(ctx context.Context, dates []time.Time) ([]BusyPeriod, error)

	// NextBusyPeriod returns the first period ending on or after from, or nil.
	NextBusyPeriod(ctx context.Context, from time.Time) (*BusyPeriod, error)

	Close() error
}

// TextSearcher runs the token-based full-text probe over Entry.SearchIndex.
type TextSearcher interface {
	SearchText(ctx context.Context, terms []string, limit int) ([]TextHit, error)
	Close() error
}

// Writer replaces the stored knowledge base in one step.
type Writer interface {
	ReplaceAll(ctx context.Context, ds *Dataset) error
}

// TextIndexer is a full-text index kept outside the primary store.
type TextIndexer interface {
	TextSearcher
	Rebuild(ctx context.Context, entries []Entry) error
}
