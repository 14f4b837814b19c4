package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/output"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [dataset.yaml]",
		Short: "Load a dataset into the store",
		Long: `Replace the knowledge base with the entries, tags, synonyms and busy
periods of a YAML dataset.

The search index of every entry is rebuilt with the same tokenizer used for
queries. Concurrent seeds of the same store wait on a file lock.`,
		Example: `  # Seed store.dataset from .kbsearch.yaml
  kbsearch seed

  # Seed a specific file
  kbsearch seed configs/knowledge.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runSeed(cmd.Context(), cmd, path)
		},
	}
	return cmd
}

func runSeed(ctx context.Context, cmd *cobra.Command, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := startLogging(cfg, logCLI); err != nil {
		return err
	}
	if path == "" {
		path = cfg.Store.Dataset
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("📂", "Loading %s", path)

	a, err := openApp(ctx, cfg, appOptions{noUsage: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	start := time.Now()
	ds, err := a.reseed(ctx, path)
	if err != nil {
		return err
	}

	if !a.analyzer.Available() {
		out.Warning("Morphological analyzer unavailable; search index built with fallback splitting")
	}
	out.Successf("Seeded %s in %s", cfg.Store.Driver, time.Since(start).Round(time.Millisecond))
	out.KV([][2]string{
		{"entries", fmt.Sprintf("%d", len(ds.Entries))},
		{"tags", fmt.Sprintf("%d", len(ds.Tags))},
		{"busy periods", fmt.Sprintf("%d", len(ds.BusyPeriods))},
	})
	return nil
}
