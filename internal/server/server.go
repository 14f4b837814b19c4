// Package server exposes the search engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/kbsearch/internal/config"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

// UsageReader reads aggregate usage statistics.
type UsageReader interface {
	UsageStats(ctx context.Context) (telemetry.UsageStats, error)
}

// TagFinder looks up tags by name or synonym. store.Store satisfies it.
type TagFinder interface {
	FindTags(ctx context.Context, term string) ([]store.Tag, error)
}

// tokenizerReporter is implemented by *search.Engine.
type tokenizerReporter interface {
	TokenizerAvailable() bool
}

// Server is the HTTP API.
type Server struct {
	searcher search.Searcher
	usage    UsageReader
	tags     TagFinder
	registry *prometheus.Registry
	router   *gin.Engine
	http     *http.Server
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the server.
type Option func(*Server)

// WithUsage enables GET /api/search/usage.
func WithUsage(u UsageReader) Option {
	return func(s *Server) {
		s.usage = u
	}
}

// WithTags enables GET /api/tags.
func WithTags(f TagFinder) Option {
	return func(s *Server) {
		s.tags = f
	}
}

// WithCollectors registers extra collectors on /metrics.
func WithCollectors(cs ...prometheus.Collector) Option {
	return func(s *Server) {
		for _, c := range cs {
			if c != nil {
				s.registry.MustRegister(c)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds the router and the underlying http.Server.
func New(searcher search.Searcher, cfg config.ServerConfig, opts ...Option) (*Server, error) {
	if searcher == nil {
		return nil, errors.New("server: searcher is required")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	s := &Server{
		searcher: searcher,
		registry: reg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}
	s.router = router
	s.RegisterRoutes(router)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// RegisterRoutes mounts the search API, health and metrics endpoints.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	group := router.Group("/api/search")
	group.POST("", s.handleSearch)
	group.GET("/metrics", s.handleGetMetrics)
	group.POST("/metrics", s.handlePostMetrics)
	group.DELETE("/cache", s.handleResetCache)
	if s.usage != nil {
		group.GET("/usage", s.handleUsage)
	}
	if s.tags != nil {
		router.GET("/api/tags", s.handleTags)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_started", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http_server_stopped")
	return nil
}

type searchRequest struct {
	Query string `json:"query"`
}

type metricsRequest struct {
	ResetCache bool `json:"reset_cache"`
}

type metricsResponse struct {
	Success              bool               `json:"success"`
	Message              string             `json:"message,omitempty"`
	Metrics              telemetry.Snapshot `json:"metrics"`
	CacheHitRate         string             `json:"cache_hit_rate"`
	AverageTimeFormatted string             `json:"average_time_formatted"`
	Timestamp            time.Time          `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if tr, ok := s.searcher.(tokenizerReporter); ok {
		body["tokenizer"] = "fallback"
		if tr.TokenizerAvailable() {
			body["tokenizer"] = "morphological"
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleTags(c *gin.Context) {
	term := c.Query("term")
	if strings.TrimSpace(term) == "" {
		s.writeError(c, kberrors.InvalidInput("term is required").
			WithSuggestion("GET /api/tags?term=キャンセル"))
		return
	}
	tags, err := s.tags.FindTags(c.Request.Context(), term)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if tags == nil {
		tags = []store.Tag{}
	}
	c.JSON(http.StatusOK, gin.H{"term": term, "tags": tags})
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, kberrors.InvalidInput("request body must be JSON with a query field").
			WithSuggestion(`send {"query": "..."}`))
		return
	}

	resp, err := s.searcher.Search(c.Request.Context(), req.Query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetMetrics(c *gin.Context) {
	if c.Query("reset") == "true" {
		s.searcher.ResetCache(c.Request.Context())
		c.JSON(http.StatusOK, s.metricsBody("search cache reset"))
		return
	}
	c.JSON(http.StatusOK, s.metricsBody(""))
}

func (s *Server) handlePostMetrics(c *gin.Context) {
	var req metricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, kberrors.InvalidInput("request body must be JSON").
			WithSuggestion(`send {"reset_cache": true}`))
		return
	}

	msg := "no action requested"
	if req.ResetCache {
		s.searcher.ResetCache(c.Request.Context())
		msg = "search cache reset"
	}
	c.JSON(http.StatusOK, s.metricsBody(msg))
}

func (s *Server) handleResetCache(c *gin.Context) {
	s.searcher.ResetCache(c.Request.Context())
	c.JSON(http.StatusOK, s.metricsBody("search cache reset"))
}

func (s *Server) handleUsage(c *gin.Context) {
	stats, err := s.usage.UsageStats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"total_queries":    stats.TotalQueries,
		"zero_result_rate": stats.ZeroResultRate,
		"p95_latency_ms":   float64(stats.P95Latency.Microseconds()) / 1000,
	})
}

func (s *Server) metricsBody(msg string) metricsResponse {
	snap := s.searcher.Metrics()
	return metricsResponse{
		Success:              true,
		Message:              msg,
		Metrics:              snap,
		CacheHitRate:         strconv.FormatFloat(snap.CacheHitRate, 'f', 2, 64) + "%",
		AverageTimeFormatted: strconv.FormatFloat(snap.AverageSearchTime, 'f', 2, 64) + "ms",
		Timestamp:            s.now().UTC(),
	}
}

// writeError renders {"error": {...}} with the status derived from the code.
func (s *Server) writeError(c *gin.Context, err error) {
	ke, ok := kberrors.As(err)
	if !ok {
		ke = kberrors.Wrap(kberrors.ErrCodeInternal, err)
	}
	status := kberrors.HTTPStatus(ke)
	if status >= http.StatusInternalServerError {
		attrs := []any{slog.String("path", c.FullPath())}
		for k, v := range kberrors.FormatForLog(ke) {
			attrs = append(attrs, slog.Any(k, v))
		}
		s.logger.Error("request_failed", attrs...)
	}

	body := gin.H{
		"code":    ke.Code,
		"message": ke.Message,
	}
	if ke.Suggestion != "" {
		body["suggestion"] = ke.Suggestion
	}
	c.JSON(status, gin.H{"error": body, "success": false})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http_request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}
