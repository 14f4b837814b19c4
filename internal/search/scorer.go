package search

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Aman-CERP/kbsearch/internal/normalize"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// DefaultMaxResults is the ranked list length.
const DefaultMaxResults = 10

// Category depth signal per matched level.
var categoryDepth = map[store.CategoryLevel]float64{
	store.CategoryDetail: 1.0,
	store.CategorySub:    0.66,
	store.CategoryMain:   0.33,
}

// Template signal per usage marker, for template-flagged entries.
var templateEligibility = map[store.Usage]float64{
	store.UsageFullyUsable: 1.0,
	store.UsageConditional: 0.5,
	"":                     0.5,
	store.UsageUnusable:    0,
}

// Weights combine the signals into the final score.
type Weights struct {
	Tag             float64 `json:"tag"`
	Category        float64 `json:"category"`
	Text            float64 `json:"text"`
	Template        float64 `json:"template"`
	UnusablePenalty float64 `json:"unusable_penalty"`
}

// DefaultWeights returns the calibrated defaults.
func DefaultWeights() Weights {
	return Weights{
		Tag:             0.35,
		Category:        0.25,
		Text:            0.30,
		Template:        0.10,
		UnusablePenalty: 0.15,
	}
}

// Validate checks that weights are non-negative and not all zero.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"tag": w.Tag, "category": w.Category, "text": w.Text,
		"template": w.Template, "unusable_penalty": w.UnusablePenalty,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight %s must be a finite value >= 0, got %v", name, v)
		}
	}
	if w.Tag+w.Category+w.Text+w.Template <= 0 {
		return fmt.Errorf("at least one signal weight must be > 0")
	}
	return nil
}

// Scorer computes composite scores and orders candidates.
type Scorer struct {
	weights    Weights
	maxResults int
}

// NewScorer creates a scorer. maxResults <= 0 uses DefaultMaxResults.
func NewScorer(w Weights, maxResults int) *Scorer {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Scorer{weights: w, maxResults: maxResults}
}

// Score computes the signals and final score of one candidate. It is pure.
func (s *Scorer) Score(c Candidate, q Query) ScoredResult {
	sig := Signals{
		Tag:      tagSignal(c, q),
		Category: categorySignal(c),
		Text:     textSignal(c.Entry, q),
		Template: templateSignal(c.Entry),
	}
	sig.Penalized = c.Entry.Usage == store.UsageUnusable

	w := s.weights
	score := w.Tag*sig.Tag + w.Category*sig.Category + w.Text*sig.Text + w.Template*sig.Template
	if sig.Penalized {
		score -= w.UnusablePenalty
	}

	return ScoredResult{
		Entry:         c.Entry,
		FinalScore:    round6(clamp01(score)),
		Signals:       sig,
		Probes:        c.Probes,
		MatchedTagIDs: c.MatchedTagIDs,
	}
}

// Rank scores, orders and truncates candidates. Ties on score prefer the
// template flag, then more probes, then the lower id.
func (s *Scorer) Rank(cands []Candidate, q Query) RankedList {
	results := make([]ScoredResult, 0, len(cands))
	for _, c := range cands {
		results = append(results, s.Score(c, q))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return less(results[i], results[j])
	})
	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}

	list := RankedList{Results: results}
	for i := range results {
		if results[i].Entry.IsTemplate && !results[i].Unusable() {
			tpl := results[i]
			list.Template = &tpl
			break
		}
	}
	return list
}

func less(a, b ScoredResult) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	if a.Entry.IsTemplate != b.Entry.IsTemplate {
		return a.Entry.IsTemplate
	}
	if na, nb := a.Probes.Count(), b.Probes.Count(); na != nb {
		return na > nb
	}
	return a.Entry.ID < b.Entry.ID
}

func tagSignal(c Candidate, q Query) float64 {
	if !c.Probes.Has(ProbeTag) {
		return 0
	}
	total := len(q.TagIDs)
	if total == 0 {
		return 0
	}
	matched := 0
	for _, id := range c.MatchedTagIDs {
		for _, qid := range q.TagIDs {
			if id == qid {
				matched++
				break
			}
		}
	}
	if matched == 0 {
		matched = 1
	}
	return math.Min(1, float64(matched)/float64(total))
}

func categorySignal(c Candidate) float64 {
	if !c.Probes.Has(ProbeCategory) {
		return 0
	}
	return categoryDepth[c.CategoryLevel]
}

// textSignal is the share of expanded terms present in the question and
// answer. An exact question match scores 1.
func textSignal(e store.Entry, q Query) float64 {
	if q.Normalized != "" && strings.EqualFold(normalize.Text(e.Question), q.Normalized) {
		return 1
	}
	if len(q.Expanded) == 0 {
		return 0
	}
	haystack := normalize.Fold(e.Question + "\n" + e.Answer)
	found := 0
	for _, t := range q.Expanded {
		if strings.Contains(haystack, t) {
			found++
		}
	}
	return float64(found) / float64(len(q.Expanded))
}

func templateSignal(e store.Entry) float64 {
	if !e.IsTemplate {
		return 0
	}
	return templateEligibility[e.Usage]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// round6 keeps scores stable across platforms for tie detection.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
