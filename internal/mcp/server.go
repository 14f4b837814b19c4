package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
	"github.com/Aman-CERP/kbsearch/pkg/version"
)

// Engine is what the MCP tools need from the search engine.
type Engine interface {
	search.Searcher
	MetricsDetail() telemetry.DetailSnapshot
	NextBusyPeriod(ctx context.Context, from time.Time) (*store.BusyPeriod, error)
}

var _ Engine = (*search.Engine)(nil)

// Server is the MCP server for kbsearch.
// It exposes the knowledge search engine to AI clients over stdio.
type Server struct {
	mcp    *mcp.Server
	engine Engine
	logger *slog.Logger
	now    func() time.Time
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var toolInfos = []ToolInfo{
	{
		Name:        "search_knowledge",
		Description: "Search the parking-facility knowledge base with a customer question in Japanese. Returns ranked entries, the suggested reply template and busy-period notes for any dates mentioned.",
	},
	{
		Name:        "get_search_metrics",
		Description: "Return search counters: total searches, cache hits, hit rate and average search time in milliseconds.",
	},
	{
		Name:        "reset_search_cache",
		Description: "Clear the result cache and zero the search counters. Use after bulk knowledge-base edits.",
	},
	{
		Name:        "next_busy_period",
		Description: "Find the next busy period (peak season) starting on or after a date.",
	},
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used as the default date for next_busy_period.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a new MCP server.
func NewServer(engine Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}

	s := &Server{
		engine: engine,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Short(),
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerQueryMetricsResource()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return version.Name, version.Short()
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(toolInfos))
	copy(out, toolInfos)
	return out
}

// CallTool invokes a tool by name with the given arguments. The search tool
// returns markdown; the others return their output struct.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_knowledge":
		query, _ := args["query"].(string)
		resp, err := s.search(ctx, query)
		if err != nil {
			return "", err
		}
		return FormatSearchResponse(resp), nil
	case "get_search_metrics":
		return s.metrics(), nil
	case "reset_search_cache":
		return s.reset(ctx), nil
	case "next_busy_period":
		date, _ := args["date"].(string)
		return s.nextBusyPeriod(ctx, date)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func (s *Server) search(ctx context.Context, query string) (*search.Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	requestID := generateRequestID()
	start := time.Now()
	resp, err := s.engine.Search(ctx, query)
	if err != nil {
		attrs := []any{
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
		}
		for k, v := range kberrors.FormatForLog(err) {
			attrs = append(attrs, slog.Any(k, v))
		}
		s.logger.Error("mcp_search_failed", attrs...)
		return nil, MapError(err)
	}

	s.logger.Info("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(resp.Results)),
		slog.Bool("cached", resp.Cached))
	return resp, nil
}

func (s *Server) metrics() MetricsOutput {
	snap := s.engine.Metrics()
	return MetricsOutput{
		TotalSearches:     snap.TotalSearches,
		CacheHits:         snap.CacheHits,
		AverageSearchTime: snap.AverageSearchTime,
		CacheHitRate:      snap.CacheHitRate,
	}
}

func (s *Server) reset(ctx context.Context) MetricsOutput {
	s.engine.ResetCache(ctx)
	return s.metrics()
}

func (s *Server) nextBusyPeriod(ctx context.Context, date string) (BusyPeriodOutput, error) {
	from := s.now().In(search.JST)
	if date != "" {
		d, err := time.ParseInLocation(time.DateOnly, date, search.JST)
		if err != nil {
			return BusyPeriodOutput{}, NewInvalidParamsError(fmt.Sprintf("date must be YYYY-MM-DD, got %q", date))
		}
		from = d
	}

	p, err := s.engine.NextBusyPeriod(ctx, store.DateOnly(from))
	if err != nil {
		return BusyPeriodOutput{}, MapError(err)
	}
	if p == nil {
		return BusyPeriodOutput{Found: false}, nil
	}
	return BusyPeriodOutput{
		Found:       true,
		Start:       p.StartDate.Format(time.DateOnly),
		End:         p.EndDate.Format(time.DateOnly),
		Range:       search.FormatRangeJa(p.StartDate, p.EndDate),
		Description: p.Description,
	}, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolInfos[0].Name,
		Description: toolInfos[0].Description,
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolInfos[1].Name,
		Description: toolInfos[1].Description,
	}, s.mcpMetricsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolInfos[2].Name,
		Description: toolInfos[2].Description,
	}, s.mcpResetHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolInfos[3].Name,
		Description: toolInfos[3].Description,
	}, s.mcpBusyPeriodHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(toolInfos)))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	resp, err := s.search(ctx, input.Query)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, ToSearchOutput(resp), nil
}

func (s *Server) mcpMetricsHandler(_ context.Context, _ *mcp.CallToolRequest, _ MetricsInput) (
	*mcp.CallToolResult,
	MetricsOutput,
	error,
) {
	return nil, s.metrics(), nil
}

func (s *Server) mcpResetHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ResetInput) (
	*mcp.CallToolResult,
	MetricsOutput,
	error,
) {
	return nil, s.reset(ctx), nil
}

func (s *Server) mcpBusyPeriodHandler(ctx context.Context, _ *mcp.CallToolRequest, input BusyPeriodInput) (
	*mcp.CallToolResult,
	BusyPeriodOutput,
	error,
) {
	out, err := s.nextBusyPeriod(ctx, input.Date)
	if err != nil {
		return nil, BusyPeriodOutput{}, err
	}
	return nil, out, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
