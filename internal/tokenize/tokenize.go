// Package tokenize splits normalized Japanese text into search key terms.
//
// The morphological analyzer is loaded once per process by Analyzer.Init.
// When it cannot be loaded, or fails on an input, Tokens falls back to
// splitting on particles and punctuation so a search never fails because of
// the tokenizer.
package tokenize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// Morpheme is one analyzer token.
type Morpheme struct {
	Surface  string
	BaseForm string
	// POS is the IPA part-of-speech hierarchy, e.g. ["名詞", "サ変接続"].
	POS []string
}

// Segmenter is the morphological analyzer collaborator.
type Segmenter interface {
	Segment(text string) ([]Morpheme, error)
}

// SegmenterFactory builds a Segmenter. It runs at most once per Analyzer.
type SegmenterFactory func() (Segmenter, error)

// Analyzer turns text into ordered, deduplicated key terms.
type Analyzer struct {
	factory SegmenterFactory
	logger  *slog.Logger

	once    sync.Once
	seg     Segmenter
	initErr error

	fallbacks atomic.Int64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSegmenterFactory replaces the default kagome/IPA backend.
func WithSegmenterFactory(f SegmenterFactory) Option {
	return func(a *Analyzer) {
		a.factory = f
	}
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// New creates an Analyzer. The dictionary is not loaded until Init or the
// first call to Tokens.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		factory: NewKagomeSegmenter,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init loads the dictionary. It is idempotent and safe for concurrent use;
// only the first call does any work. The returned error is informational:
// the Analyzer keeps working in fallback mode.
func (a *Analyzer) Init() error {
	a.once.Do(func() {
		seg, err := a.safeFactory()
		if err != nil {
			a.initErr = kberrors.New(kberrors.ErrCodeTokenizerUnavailable,
				"morphological analyzer unavailable, using fallback splitting", err)
			a.logger.Warn("tokenizer_init_failed", slog.String("error", err.Error()))
			return
		}
		a.seg = seg
	})
	return a.initErr
}

func (a *Analyzer) safeFactory() (seg Segmenter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dictionary load panicked: %v", r)
		}
	}()
	return a.factory()
}

// Available reports whether the morphological analyzer is loaded.
func (a *Analyzer) Available() bool {
	_ = a.Init()
	return a.seg != nil
}

// Fallbacks returns how many inputs were split by the fallback path.
func (a *Analyzer) Fallbacks() int64 {
	return a.fallbacks.Load()
}

// Tokens returns the key terms of text in order of first appearance.
func (a *Analyzer) Tokens(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := a.Init(); err != nil {
		a.fallbacks.Add(1)
		return Fallback(text)
	}

	morphemes, err := a.segment(text)
	if err != nil {
		a.fallbacks.Add(1)
		a.logger.Warn("tokenizer_fallback",
			slog.String("error_code", kberrors.ErrCodeTokenizerUnavailable),
			slog.String("error", err.Error()))
		return Fallback(text)
	}
	return KeyTerms(morphemes)
}

func (a *Analyzer) segment(text string) (ms []Morpheme, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panicked: %v", r)
		}
	}()
	return a.seg.Segment(text)
}

// KeyTerms selects key terms from analyzer output. Nouns, verbs and
// adjectives are kept; verbs and adjectives by base form. A run of nouns
// (optionally led by a noun prefix) is emitted as one compound followed by
// its parts, so "キャンセル料" yields "キャンセル料", "キャンセル".
func KeyTerms(ms []Morpheme) []string {
	var terms termSet

	var run []string
	flush := func() {
		if len(run) > 1 {
			terms.add(strings.Join(run, ""))
		}
		for _, part := range run {
			if utf8.RuneCountInString(part) > 1 {
				terms.add(part)
			}
		}
		run = run[:0]
	}

	for _, m := range ms {
		switch {
		case isCompoundNoun(m):
			run = append(run, m.Surface)
		case pos(m, 0) == "接頭詞" && pos(m, 1) == "名詞接続":
			flush()
			run = append(run, m.Surface)
		case pos(m, 0) == "動詞" || pos(m, 0) == "形容詞":
			flush()
			if pos(m, 1) == "非自立" {
				continue
			}
			form := m.BaseForm
			if form == "" || form == "*" {
				form = m.Surface
			}
			terms.add(form)
		default:
			flush()
		}
	}
	flush()

	return terms.list
}

func isCompoundNoun(m Morpheme) bool {
	if pos(m, 0) != "名詞" {
		return false
	}
	switch pos(m, 1) {
	case "非自立", "代名詞", "数":
		return false
	}
	return true
}

func pos(m Morpheme, i int) string {
	if i < len(m.POS) {
		return m.POS[i]
	}
	return ""
}

// splitPattern separates fallback segments at particles and punctuation.
var splitPattern = regexp.MustCompile(`[はがのにへでとやもを、。，．！？!?.,\s]+`)

// Fallback splits text without a dictionary.
func Fallback(text string) []string {
	var terms termSet
	for _, seg := range splitPattern.Split(text, -1) {
		seg = strings.TrimFunc(seg, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if seg == "" || isAllDigits(seg) {
			continue
		}
		terms.add(seg)
	}
	return terms.list
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// termSet keeps first-seen order and drops stopwords and duplicates.
type termSet struct {
	list []string
	seen map[string]struct{}
}

func (s *termSet) add(term string) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || IsStopword(term) {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[term]; ok {
		return
	}
	s.seen[term] = struct{}{}
	s.list = append(s.list, term)
}
