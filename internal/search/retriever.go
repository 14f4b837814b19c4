package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// Retriever defaults.
const (
	DefaultProbeTimeout = 2 * time.Second
	DefaultTextLimit    = 50
)

// ErrProbeDisabled is reported for a probe switched off by configuration.
var ErrProbeDisabled = errors.New("probe disabled")

// RetrieveInput is the retriever input.
type RetrieveInput struct {
	Terms  []string
	TagIDs []int64
	Query  string
}

// Retrieval is the retriever output.
type Retrieval struct {
	// Candidates are deduplicated by entry id and ordered by id.
	Candidates []Candidate
	Succeeded  Probe
	// Failed includes Disabled.
	Failed   Probe
	Disabled Probe
}

// Degraded reports whether any probe failed or was disabled.
func (r Retrieval) Degraded() bool { return r.Failed != 0 }

// Transient reports whether a probe failed for a reason other than being
// disabled. Such results must not be reused.
func (r Retrieval) Transient() bool { return r.Failed&^r.Disabled != 0 }

// Retriever runs the tag, category and full-text probes concurrently and
// merges their hits.
type Retriever struct {
	store     store.Store
	text      store.TextSearcher
	timeout   time.Duration
	textLimit int
	disabled  Probe
	logger    *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithTextLimit caps full-text hits.
func WithTextLimit(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.textLimit = n
		}
	}
}

// WithDisabledProbes turns probes off. They then count as failed.
func WithDisabledProbes(p Probe) RetrieverOption {
	return func(r *Retriever) {
		r.disabled = p
	}
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = l
	}
}

// NewRetriever creates a retriever. text may be nil, which disables the
// full-text probe.
func NewRetriever(st store.Store, text store.TextSearcher, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		store:     st,
		text:      text,
		timeout:   DefaultProbeTimeout,
		textLimit: DefaultTextLimit,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.text == nil {
		r.disabled |= ProbeText
	}
	return r
}

type probeResult struct {
	probe      Probe
	skipped    bool
	err        error
	tagged     []store.TaggedEntry
	categories []store.CategoryMatch
	texts      []store.Entry
}

// Retrieve returns the union of the probe hits. One failing probe is logged
// and contributes nothing; only when every attempted probe fails does it
// return ERR_503_STORAGE_UNAVAILABLE.
func (r *Retriever) Retrieve(ctx context.Context, in RetrieveInput) (Retrieval, error) {
	results := [3]probeResult{
		{probe: ProbeTag, skipped: len(in.TagIDs) == 0},
		{probe: ProbeCategory, skipped: len(in.Terms) == 0},
		{probe: ProbeText, skipped: len(in.Terms) == 0},
	}

	var g errgroup.Group
	for i := range results {
		res := &results[i]
		if res.skipped {
			continue
		}
		if r.disabled.Has(res.probe) {
			res.err = ErrProbeDisabled
			continue
		}
		g.Go(func() error {
			r.awaitProbe(ctx, res, in)
			return nil
		})
	}
	_ = g.Wait()

	var (
		out     Retrieval
		causes  []error
		byID    = make(map[int64]*Candidate)
		attempt int
	)
	candidate := func(e store.Entry) *Candidate {
		c, ok := byID[e.ID]
		if !ok {
			c = &Candidate{Entry: e}
			byID[e.ID] = c
		}
		return c
	}

	for i := range results {
		res := &results[i]
		if res.skipped {
			continue
		}
		attempt++
		if res.err != nil {
			out.Failed |= res.probe
			if errors.Is(res.err, ErrProbeDisabled) {
				out.Disabled |= res.probe
			}
			causes = append(causes, fmt.Errorf("%s probe: %w", res.probe, res.err))
			if !errors.Is(res.err, ErrProbeDisabled) {
				r.logger.Warn("probe_failed",
					slog.String("probe", res.probe.String()),
					slog.String("error_code", kberrors.ErrCodeProbeFailure),
					slog.String("error", res.err.Error()))
			}
			continue
		}
		out.Succeeded |= res.probe

		for _, te := range res.tagged {
			c := candidate(te.Entry)
			c.Probes |= ProbeTag
			c.MatchedTagIDs = te.TagIDs
		}
		for _, cm := range res.categories {
			c := candidate(cm.Entry)
			c.Probes |= ProbeCategory
			if cm.Level > c.CategoryLevel {
				c.CategoryLevel = cm.Level
			}
		}
		for _, e := range res.texts {
			c := candidate(e)
			c.Probes |= ProbeText
		}
	}

	if attempt > 0 && out.Succeeded == 0 {
		return out, kberrors.New(kberrors.ErrCodeStorageUnavailable,
			"all retrieval probes failed", errors.Join(causes...)).
			WithSuggestion("Check the knowledge base storage is reachable")
	}

	out.Candidates = make([]Candidate, 0, len(byID))
	for _, c := range byID {
		out.Candidates = append(out.Candidates, *c)
	}
	sort.Slice(out.Candidates, func(i, j int) bool {
		return out.Candidates[i].Entry.ID < out.Candidates[j].Entry.ID
	})
	return out, nil
}

// awaitProbe runs one probe under its own deadline. A store call that ignores
// the deadline is abandoned rather than waited for.
func (r *Retriever) awaitProbe(ctx context.Context, res *probeResult, in RetrieveInput) {
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan probeResult, 1)
	go func() {
		local := probeResult{probe: res.probe}
		r.runProbe(pctx, &local, in)
		done <- local
	}()

	select {
	case v := <-done:
		*res = v
	case <-pctx.Done():
		res.err = kberrors.New(kberrors.ErrCodeNetworkTimeout, "probe deadline exceeded", pctx.Err())
	}
}

func (r *Retriever) runProbe(ctx context.Context, res *probeResult, in RetrieveInput) {
	defer func() {
		if p := recover(); p != nil {
			res.err = fmt.Errorf("probe panicked: %v", p)
		}
	}()

	switch res.probe {
	case ProbeTag:
		res.tagged, res.err = r.store.EntriesByTags(ctx, in.TagIDs)
	case ProbeCategory:
		res.categories, res.err = r.store.EntriesByCategory(ctx, in.Terms)
	case ProbeText:
		var hits []store.TextHit
		hits, res.err = r.text.SearchText(ctx, in.Terms, r.textLimit)
		if res.err != nil || len(hits) == 0 {
			break
		}
		ids := make([]int64, 0, len(hits))
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
		res.texts, res.err = r.store.EntriesByIDs(ctx, ids)
	}

	// A store that ignores the deadline still fails the probe.
	if res.err == nil && ctx.Err() != nil {
		res.err = kberrors.New(kberrors.ErrCodeNetworkTimeout, "probe deadline exceeded", ctx.Err())
	}
	if res.err != nil {
		res.tagged, res.categories, res.texts = nil, nil, nil
	}
}
