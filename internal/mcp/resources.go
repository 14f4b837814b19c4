package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// QueryMetricsURI is the resource URI for query-pattern telemetry.
const QueryMetricsURI = "kbsearch://query_metrics"

// QueryMetricsOutput is the query_metrics resource body.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	TopTerms            []QueryTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary holds the headline numbers.
type QueryMetricsSummary struct {
	TotalSearches     int64   `json:"total_searches"`
	CacheHits         int64   `json:"cache_hits"`
	AverageSearchTime float64 `json:"average_search_time_ms"`
	ZeroResultPct     float64 `json:"zero_result_pct"`
	Since             string  `json:"since"`
}

// QueryTermCount is a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryMetricsResource registers the query_metrics resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         QueryMetricsURI,
			Description: "Query pattern telemetry: top terms, zero-result queries and latency buckets",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			content, err := s.queryMetricsJSON()
			if err != nil {
				return nil, MapError(err)
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{
						URI:      QueryMetricsURI,
						MIMEType: "application/json",
						Text:     string(content),
					},
				},
			}, nil
		},
	)
}

// QueryMetrics builds the query_metrics resource body.
func (s *Server) QueryMetrics() QueryMetricsOutput {
	snap := s.engine.Metrics()
	detail := s.engine.MetricsDetail()

	out := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalSearches:     snap.TotalSearches,
			CacheHits:         snap.CacheHits,
			AverageSearchTime: snap.AverageSearchTime,
			Since:             detail.Since.UTC().Format("2006-01-02T15:04:05Z"),
		},
		TopTerms:            make([]QueryTermCount, 0, len(detail.TopTerms)),
		ZeroResultQueries:   detail.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(detail.LatencyDistribution)),
	}
	if snap.TotalSearches > 0 {
		out.Summary.ZeroResultPct = float64(detail.ZeroResultCount) / float64(snap.TotalSearches) * 100
	}
	for _, tc := range detail.TopTerms {
		out.TopTerms = append(out.TopTerms, QueryTermCount{Term: tc.Term, Count: tc.Count})
	}
	for bucket, count := range detail.LatencyDistribution {
		out.LatencyDistribution[string(bucket)] = count
	}
	return out
}

func (s *Server) queryMetricsJSON() ([]byte, error) {
	return json.MarshalIndent(s.QueryMetrics(), "", "  ")
}
