package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
	"github.com/Aman-CERP/kbsearch/internal/ui"
	"github.com/Aman-CERP/kbsearch/pkg/version"
)

type metricsOptions struct {
	reset bool
	addr  string
	json  bool
}

func newMetricsCmd() *cobra.Command {
	var opts metricsOptions

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show search metrics",
		Long: `Show search counters.

With --addr the counters of a running server are fetched over HTTP, and
--reset clears its result cache and counters. Without --addr the persisted
usage log of the deployment is summarized instead.`,
		Example: `  kbsearch metrics --addr localhost:8080
  kbsearch metrics --addr localhost:8080 --reset
  kbsearch metrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if opts.addr == "" {
				if opts.reset {
					return kberrors.InvalidInput("--reset needs a running server").
						WithSuggestion("Pass --addr host:port of the server to reset")
				}
				return runLocalMetrics(ctx, cmd, opts)
			}
			return runRemoteMetrics(ctx, cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Reset the server's result cache and counters")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Address of a running kbsearch server")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")

	return cmd
}

// remoteMetrics mirrors the server's metrics response.
type remoteMetrics struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Metrics telemetry.Snapshot `json:"metrics"`
}

type remoteError struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		Suggestion string `json:"suggestion"`
	} `json:"error"`
}

func runRemoteMetrics(ctx context.Context, cmd *cobra.Command, opts metricsOptions) error {
	base := serverURL(opts.addr)
	client := &http.Client{Timeout: 10 * time.Second}

	var req *http.Request
	var err error
	if opts.reset {
		body := bytes.NewBufferString(`{"reset_cache":true}`)
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/search/metrics", body)
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/search/metrics", nil)
	}
	if err != nil {
		return kberrors.InvalidInput(fmt.Sprintf("invalid server address %q", opts.addr))
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return kberrors.New(kberrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("failed to reach kbsearch server at %s", base), err).
			WithSuggestion("Start it with 'kbsearch serve' or check --addr")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return kberrors.New(kberrors.ErrCodeNetworkUnavailable, "failed to read server response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeRemoteError(resp.StatusCode, data)
	}

	var m remoteMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return kberrors.InternalError("unexpected metrics response", err)
	}

	out := output.New(cmd.OutOrStdout())
	if opts.json {
		return out.JSON(m)
	}
	if m.Message != "" {
		out.Success(m.Message)
	}
	ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout())).RenderMetrics(m.Metrics)
	return nil
}

func decodeRemoteError(status int, data []byte) error {
	var re remoteError
	if err := json.Unmarshal(data, &re); err != nil || re.Error.Code == "" {
		return kberrors.New(kberrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("server returned %d", status), nil)
	}
	e := kberrors.New(re.Error.Code, re.Error.Message, nil)
	if re.Error.Suggestion != "" {
		e = e.WithSuggestion(re.Error.Suggestion)
	}
	return e
}

// serverURL turns ":8080" or "host:8080" into a base URL.
func serverURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func runLocalMetrics(ctx context.Context, cmd *cobra.Command, opts metricsOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := startLogging(cfg, logCLI); err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	if !cfg.Telemetry.Enabled {
		out.Warning("Telemetry is disabled; no usage log to summarize")
		out.Status("", "Pass --addr to read the counters of a running server")
		return nil
	}

	usage, err := telemetry.OpenUsageLog(cfg.Telemetry.UsagePath)
	if err != nil {
		return err
	}
	defer func() { _ = usage.Close() }()

	stats, err := usage.UsageStats(ctx)
	if err != nil {
		return err
	}
	if opts.json {
		return out.JSON(stats)
	}

	out.Statusf("📊", "Usage log %s", cfg.Telemetry.UsagePath)
	out.KV([][2]string{
		{"total queries", fmt.Sprintf("%d", stats.TotalQueries)},
		{"zero-result rate", fmt.Sprintf("%.2f%%", stats.ZeroResultRate*100)},
		{"p95 latency", fmt.Sprintf("%.2fms", float64(stats.P95Latency.Microseconds())/1000)},
	})
	return nil
}
