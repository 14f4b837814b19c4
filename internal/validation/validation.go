// Package validation runs golden queries against the search engine and
// reports which ones still rank their expected entries.
//
// Queries are data-driven, loaded from a YAML file, so curators can add
// cases for new knowledge base entries without rebuilding:
//
//	tier1:
//	  - id: T1-1
//	    name: cancellation fee
//	    query: キャンセル料はかかりますか
//	    expected: [1]
//	    template: 1
//	negative:
//	  - id: N-1
//	    query: "？？？"
//
// Tier 1 cases must pass for a release. Tier 2 cases are tracked but do not
// fail a run. Negative cases only need to complete without an internal error
// and without autoselecting an unusable entry.
package validation

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
)

// DefaultTopN is how deep an expected entry may rank and still pass.
const DefaultTopN = 3

// QuerySpec defines a test query with expected results.
type QuerySpec struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`
	// Expected entry ids. Any one of them in the top TopN passes.
	Expected []int64 `yaml:"expected" json:"expected,omitempty"`
	// Template is the expected autoselected template id. 0 expects none;
	// nil skips the check.
	Template *int64 `yaml:"template" json:"template,omitempty"`
	TopN     int    `yaml:"top_n" json:"top_n,omitempty"`
	Notes    string `yaml:"notes" json:"notes,omitempty"`
	Tier     int    `yaml:"-" json:"tier"`
}

// QueryConfig holds all validation queries.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// LoadQueries reads a query file.
func LoadQueries(path string) (*QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kberrors.New(kberrors.ErrCodeDatasetNotFound,
				fmt.Sprintf("query file not found: %s", path), err)
		}
		return nil, kberrors.New(kberrors.ErrCodeDatasetInvalid, "failed to read query file", err)
	}
	return ParseQueries(data)
}

// ParseQueries decodes a query file and assigns tiers.
func ParseQueries(data []byte) (*QueryConfig, error) {
	var cfg QueryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeDatasetInvalid, "failed to parse query file", err)
	}

	seen := make(map[string]bool)
	check := func(specs []QuerySpec, tier int) error {
		for i := range specs {
			specs[i].Tier = tier
			if specs[i].ID == "" {
				return kberrors.New(kberrors.ErrCodeDatasetInvalid,
					fmt.Sprintf("query %q has no id", specs[i].Query), nil)
			}
			if seen[specs[i].ID] {
				return kberrors.New(kberrors.ErrCodeDatasetInvalid,
					fmt.Sprintf("duplicate query id %s", specs[i].ID), nil)
			}
			seen[specs[i].ID] = true
			if tier > 0 && len(specs[i].Expected) == 0 && specs[i].Template == nil {
				return kberrors.New(kberrors.ErrCodeDatasetInvalid,
					fmt.Sprintf("query %s expects nothing", specs[i].ID), nil).
					WithSuggestion("Add expected entry ids or a template id, or move it to negative")
			}
		}
		return nil
	}
	if err := check(cfg.Tier1, 1); err != nil {
		return nil, err
	}
	if err := check(cfg.Tier2, 2); err != nil {
		return nil, err
	}
	if err := check(cfg.Negative, 0); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TestResult captures the outcome of a single query test.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []int64       `json:"top_results"`
	// MatchedAt is the rank of the first expected entry, -1 if absent.
	MatchedAt int    `json:"matched_at"`
	Template  int64  `json:"template"`
	Error     string `json:"error,omitempty"`
}

// ValidationResult captures results of a full validation run.
type ValidationResult struct {
	Timestamp  time.Time    `json:"timestamp"`
	Tier1      []TestResult `json:"tier1"`
	Tier2      []TestResult `json:"tier2"`
	Negative   []TestResult `json:"negative"`
	Tier1Pass  int          `json:"tier1_pass"`
	Tier1Total int          `json:"tier1_total"`
	Tier2Pass  int          `json:"tier2_pass"`
	Tier2Total int          `json:"tier2_total"`
	NegPass    int          `json:"negative_pass"`
	NegTotal   int          `json:"negative_total"`
}

// Passed reports whether every tier 1 and negative case passed.
func (r *ValidationResult) Passed() bool {
	return r.Tier1Pass == r.Tier1Total && r.NegPass == r.NegTotal
}

// Validator runs validation queries against a searcher.
type Validator struct {
	searcher search.Searcher
	now      func() time.Time
}

// NewValidator creates a validator.
func NewValidator(s search.Searcher) (*Validator, error) {
	if s == nil {
		return nil, kberrors.InternalError("validator requires a searcher", nil)
	}
	return &Validator{searcher: s, now: time.Now}, nil
}

// RunQuery executes a single query and returns the result.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := time.Now()
	result := TestResult{Spec: spec, MatchedAt: -1}

	resp, err := v.searcher.Search(ctx, spec.Query)
	result.Duration = time.Since(start)

	if err != nil {
		// Rejected input is a valid outcome for a negative case.
		if spec.Tier == 0 && kberrors.GetCategory(err) == kberrors.CategoryValidation {
			result.Passed = true
			return result
		}
		result.Error = err.Error()
		return result
	}

	for _, r := range resp.Results {
		result.TopResults = append(result.TopResults, r.Entry.ID)
	}
	if resp.Template != nil {
		result.Template = resp.Template.Entry.ID
		if resp.Template.Unusable() {
			result.Error = fmt.Sprintf("unusable entry %d autoselected as template", result.Template)
			return result
		}
	}

	if spec.Tier == 0 {
		result.Passed = true
		return result
	}

	result.Passed = true
	if len(spec.Expected) > 0 {
		result.MatchedAt = firstMatch(result.TopResults, spec.Expected, spec.TopN)
		result.Passed = result.MatchedAt >= 0
	}
	if spec.Template != nil && *spec.Template != result.Template {
		result.Passed = false
	}
	return result
}

// RunAll executes all validation queries and returns results.
func (v *Validator) RunAll(ctx context.Context, cfg *QueryConfig) *ValidationResult {
	result := &ValidationResult{Timestamp: v.now()}

	for _, spec := range cfg.Tier1 {
		tr := v.RunQuery(ctx, spec)
		result.Tier1 = append(result.Tier1, tr)
		result.Tier1Total++
		if tr.Passed {
			result.Tier1Pass++
		}
	}

	for _, spec := range cfg.Tier2 {
		tr := v.RunQuery(ctx, spec)
		result.Tier2 = append(result.Tier2, tr)
		result.Tier2Total++
		if tr.Passed {
			result.Tier2Pass++
		}
	}

	for _, spec := range cfg.Negative {
		tr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, tr)
		result.NegTotal++
		if tr.Passed {
			result.NegPass++
		}
	}

	return result
}

// firstMatch returns the rank of the first expected id within the top n.
func firstMatch(results, expected []int64, n int) int {
	if n <= 0 {
		n = DefaultTopN
	}
	for i, id := range results {
		if i >= n {
			break
		}
		if slices.Contains(expected, id) {
			return i
		}
	}
	return -1
}
