package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/kbsearch/internal/mcp"
	"github.com/Aman-CERP/kbsearch/internal/server"
	"github.com/Aman-CERP/kbsearch/internal/watcher"
)

type serveOptions struct {
	watch bool
	mcp   bool
	addr  string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP or MCP",
		Long: `Serve the knowledge base search API.

By default an HTTP server is started on server.addr. With --mcp the MCP
protocol is served over stdio instead; nothing else is written to stdout.

An empty store is seeded from store.dataset on start. With --watch the
dataset file is watched, and every change reseeds the store and resets
the result cache.`,
		Example: `  # HTTP on :8080
  kbsearch serve

  # HTTP on another port, reloading the dataset on change
  kbsearch serve --addr :9090 --watch

  # MCP over stdio
  kbsearch serve --mcp`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload the dataset when it changes")
	cmd.Flags().BoolVar(&opts.mcp, "mcp", false, "Serve MCP over stdio instead of HTTP")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides server.addr)")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	watch := opts.watch || cfg.Watch.Enabled

	mode := logServe
	if opts.mcp {
		mode = logMCP
	}
	if err := startLogging(cfg, mode); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, appOptions{seedIfEmpty: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	// The server returning (stdin closed, listener error) stops the watcher.
	srvCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if watch {
		if err := startWatcher(srvCtx, g, a); err != nil {
			return err
		}
	}

	if opts.mcp {
		srv, err := mcp.NewServer(a.engine, mcp.WithLogger(a.logger))
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer cancel()
			return srv.Serve(srvCtx, "stdio")
		})
	} else {
		serverOpts := []server.Option{
			server.WithLogger(a.logger),
			server.WithCollectors(a.engine.Registry()),
			server.WithTags(a.backend.Store),
		}
		if a.usage != nil {
			serverOpts = append(serverOpts, server.WithUsage(a.usage))
		}
		srv, err := server.New(a.engine, cfg.Server, serverOpts...)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer cancel()
			return srv.Run(srvCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startWatcher reseeds the store and resets the cache whenever the dataset
// file changes.
func startWatcher(ctx context.Context, g *errgroup.Group, a *app) error {
	fw, err := watcher.NewFileWatcher(watcher.Options{
		DebounceWindow: a.cfg.Watch.Debounce,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	path := a.cfg.Store.Dataset
	reloader := watcher.NewReloader(fw, func(ctx context.Context) error {
		_, err := a.reseed(ctx, path)
		return err
	}, a.engine, watcher.WithReloaderLogger(a.logger))

	g.Go(func() error {
		err := fw.Start(ctx, path)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		reloader.Run(ctx)
		return nil
	})
	go func() {
		for err := range fw.Errors() {
			a.logger.Warn("dataset_watch_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}
