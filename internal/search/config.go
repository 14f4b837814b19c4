package search

import (
	"time"

	"github.com/Aman-CERP/kbsearch/internal/config"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// DefaultMaxQueryRunes bounds the normalized query length.
const DefaultMaxQueryRunes = 256

// EngineConfig configures the search pipeline.
type EngineConfig struct {
	MaxResults     int
	ProbeTimeout   time.Duration
	TextLimit      int
	MaxExpansions  int
	MaxQueryRunes  int
	Year           int
	DisabledProbes Probe
	Weights        Weights
}

// DefaultEngineConfig returns the calibrated defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxResults:    DefaultMaxResults,
		ProbeTimeout:  DefaultProbeTimeout,
		TextLimit:     DefaultTextLimit,
		MaxQueryRunes: DefaultMaxQueryRunes,
		Weights:       DefaultWeights(),
	}
}

// EngineConfigFrom builds an EngineConfig from the search section of the
// loaded configuration.
func EngineConfigFrom(sc config.SearchConfig) (EngineConfig, error) {
	ec := DefaultEngineConfig()
	if sc.MaxResults > 0 {
		ec.MaxResults = sc.MaxResults
	}
	if sc.ProbeTimeout > 0 {
		ec.ProbeTimeout = sc.ProbeTimeout
	}
	if sc.TextLimit > 0 {
		ec.TextLimit = sc.TextLimit
	}
	ec.MaxExpansions = sc.MaxExpansions
	ec.Year = sc.Year

	for _, name := range sc.DisabledProbes {
		p, err := ParseProbe(name)
		if err != nil {
			return EngineConfig{}, kberrors.ConfigError("search.disabled_probes: "+err.Error(), err).
				WithSuggestion("use tag, category or text")
		}
		ec.DisabledProbes |= p
	}

	ec.Weights = Weights{
		Tag:             sc.Weights.Tag,
		Category:        sc.Weights.Category,
		Text:            sc.Weights.Text,
		Template:        sc.Weights.Template,
		UnusablePenalty: sc.Weights.UnusablePenalty,
	}
	if err := ec.Weights.Validate(); err != nil {
		return EngineConfig{}, kberrors.ConfigError("search.weights: "+err.Error(), err)
	}
	return ec, nil
}
