// Package search implements the knowledge search pipeline: normalization,
// tokenization, tag/synonym expansion, temporal context, three-probe candidate
// retrieval and weighted ranking, with a read-through result cache.
package search

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/Aman-CERP/kbsearch/internal/store"
)

// Probe identifies a retrieval channel. Values combine as a bitset.
type Probe uint8

const (
	ProbeTag Probe = 1 << iota
	ProbeCategory
	ProbeText

	AllProbes = ProbeTag | ProbeCategory | ProbeText
)

var probeNames = []struct {
	probe Probe
	name  string
}{
	{ProbeTag, "tag"},
	{ProbeCategory, "category"},
	{ProbeText, "text"},
}

// Has reports whether p includes q.
func (p Probe) Has(q Probe) bool { return p&q != 0 }

// Count returns the number of probes in the set.
func (p Probe) Count() int { return bits.OnesCount8(uint8(p & AllProbes)) }

// Names returns the probe names in fixed order.
func (p Probe) Names() []string {
	names := make([]string, 0, 3)
	for _, pn := range probeNames {
		if p.Has(pn.probe) {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Probe) String() string {
	if p == 0 {
		return "none"
	}
	return strings.Join(p.Names(), "+")
}

// ParseProbe maps a probe name to its value.
func ParseProbe(name string) (Probe, error) {
	for _, pn := range probeNames {
		if strings.EqualFold(strings.TrimSpace(name), pn.name) {
			return pn.probe, nil
		}
	}
	return 0, fmt.Errorf("unknown probe %q", name)
}

// MarshalJSON encodes the set as a list of names.
func (p Probe) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Names())
}

// UnmarshalJSON decodes a list of names.
func (p *Probe) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*p = 0
	for _, n := range names {
		q, err := ParseProbe(n)
		if err != nil {
			return err
		}
		*p |= q
	}
	return nil
}

// Candidate is a retrieved entry with its provenance.
type Candidate struct {
	Entry         store.Entry
	Probes        Probe
	MatchedTagIDs []int64
	CategoryLevel store.CategoryLevel
}

// Query is the per-request search metadata.
type Query struct {
	Normalized  string             `json:"normalized"`
	KeyTerms    []string           `json:"key_terms"`
	Expanded    []string           `json:"expanded"`
	TagIDs      []int64            `json:"tag_ids"`
	Dates       []time.Time        `json:"dates"`
	BusyPeriods []store.BusyPeriod `json:"busy_periods"`
}

// Signals are the normalized component scores, each in [0,1].
type Signals struct {
	Tag      float64 `json:"tag"`
	Category float64 `json:"category"`
	Text     float64 `json:"text"`
	Template float64 `json:"template"`
	// Penalized is set for unusable entries.
	Penalized bool `json:"penalized,omitempty"`
}

// ScoredResult is a ranked entry.
type ScoredResult struct {
	Entry         store.Entry `json:"entry"`
	FinalScore    float64     `json:"final_score"`
	Signals       Signals     `json:"signals"`
	Probes        Probe       `json:"probes"`
	MatchedTagIDs []int64     `json:"matched_tag_ids,omitempty"`
}

// Unusable reports whether the entry must not be autoselected.
func (r ScoredResult) Unusable() bool {
	return r.Entry.Usage == store.UsageUnusable
}

// RankedList is the ranker output.
type RankedList struct {
	Results []ScoredResult
	// Template is the autoselected template candidate: the best result that
	// has the template flag and is not unusable. Nil when there is none.
	Template *ScoredResult
}

// Response is the result of Engine.Search.
type Response struct {
	Query           string             `json:"query"`
	Results         []ScoredResult     `json:"results"`
	KeyTerms        []string           `json:"key_terms"`
	SynonymExpanded []string           `json:"synonym_expanded"`
	TagIDs          []int64            `json:"tag_ids,omitempty"`
	Dates           []time.Time        `json:"dates"`
	BusyPeriods     []store.BusyPeriod `json:"busy_periods"`
	Template        *ScoredResult      `json:"template,omitempty"`
	Notes           []string           `json:"notes,omitempty"`
	Cached          bool               `json:"cached"`
	Degraded        bool               `json:"degraded,omitempty"`

	// transient marks a response built while a probe was failing.
	transient bool
}
