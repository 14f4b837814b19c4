package search

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/Aman-CERP/kbsearch/internal/normalize"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// TagSource supplies the tag dictionary. store.Store satisfies it.
type TagSource interface {
	Tags(ctx context.Context) ([]store.Tag, error)
}

// Expansion is the expander output.
type Expansion struct {
	// Terms is the original terms followed by matched tag names and their
	// synonyms, in first-seen order.
	Terms  []string
	TagIDs []int64
}

// Expander widens key terms with tag names and synonyms.
//
// A term matches a tag when the tag name or any synonym equals the term,
// contains it, or is contained by it. Matching ignores case and character
// width, with no stemming, and inclusive: every matching tag is kept.
type Expander struct {
	tags          TagSource
	maxExpansions int
	logger        *slog.Logger
}

// ExpanderOption configures the expander.
type ExpanderOption func(*Expander)

// WithMaxExpansions caps the synonyms added per matched tag. 0 means no cap.
func WithMaxExpansions(n int) ExpanderOption {
	return func(x *Expander) {
		x.maxExpansions = n
	}
}

// WithExpanderLogger sets the logger.
func WithExpanderLogger(l *slog.Logger) ExpanderOption {
	return func(x *Expander) {
		x.logger = l
	}
}

// NewExpander creates an expander over tags.
func NewExpander(tags TagSource, opts ...ExpanderOption) *Expander {
	x := &Expander{tags: tags, logger: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Expand never fails: when the tag source errors it returns the terms as is.
func (x *Expander) Expand(ctx context.Context, terms []string) Expansion {
	out := newOrderedSet(len(terms))
	for _, t := range terms {
		out.add(t)
	}
	if len(out.items) == 0 {
		return Expansion{}
	}
	keys := slices.Clone(out.items)

	tags, err := x.tags.Tags(ctx)
	if err != nil {
		x.logger.Warn("tag_lookup_failed", slog.String("error", err.Error()))
		return Expansion{Terms: out.items}
	}

	var tagIDs []int64
	for _, tag := range tags {
		if !tagMatchesAny(tag, keys) {
			continue
		}
		tagIDs = append(tagIDs, tag.ID)
		out.add(tag.Name)
		for i, syn := range tag.Synonyms {
			if x.maxExpansions > 0 && i >= x.maxExpansions {
				break
			}
			out.add(syn)
		}
	}

	slices.Sort(tagIDs)
	return Expansion{Terms: out.items, TagIDs: slices.Compact(tagIDs)}
}

func tagMatchesAny(tag store.Tag, terms []string) bool {
	for _, term := range terms {
		if termMatches(tag.Name, term) {
			return true
		}
		for _, syn := range tag.Synonyms {
			if termMatches(syn, term) {
				return true
			}
		}
	}
	return false
}

// termMatches expects term already folded.
func termMatches(candidate, term string) bool {
	c := normalize.Fold(candidate)
	if c == "" {
		return false
	}
	return strings.Contains(c, term) || strings.Contains(term, c)
}

// orderedSet keeps folded strings in first-seen order.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet(n int) *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}, n)}
}

func (s *orderedSet) add(v string) {
	v = normalize.Fold(v)
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
