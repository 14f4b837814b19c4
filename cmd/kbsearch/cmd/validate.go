package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/validation"
)

func newValidateCmd() *cobra.Command {
	var (
		jsonOut bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "validate <queries.yaml>",
		Short: "Check ranking against golden queries",
		Long: `Run a file of golden queries against the knowledge base and report which
ones no longer rank their expected entries.

Tier 1 and negative queries must pass; tier 2 queries are reported only.
Any query that autoselects an unusable entry as its template fails.`,
		Example: `  kbsearch validate testdata/queries.yaml
  kbsearch validate queries.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd, args[0], jsonOut, verbose)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show passing queries too")

	return cmd
}

func runValidate(ctx context.Context, cmd *cobra.Command, path string, jsonOut, verbose bool) error {
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

	queries, err := validation.LoadQueries(path)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, appOptions{seedIfEmpty: true, noUsage: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	v, err := validation.NewValidator(a.engine)
	if err != nil {
		return err
	}
	res := v.RunAll(ctx, queries)

	out := output.New(cmd.OutOrStdout())
	if jsonOut {
		if err := out.JSON(res); err != nil {
			return err
		}
	} else {
		printTier(out, "Tier 1", res.Tier1, verbose)
		printTier(out, "Tier 2", res.Tier2, verbose)
		printTier(out, "Negative", res.Negative, verbose)
		out.Newline()
		out.KV([][2]string{
			{"tier 1", fmt.Sprintf("%d/%d", res.Tier1Pass, res.Tier1Total)},
			{"tier 2", fmt.Sprintf("%d/%d", res.Tier2Pass, res.Tier2Total)},
			{"negative", fmt.Sprintf("%d/%d", res.NegPass, res.NegTotal)},
		})
	}

	if !res.Passed() {
		failed := (res.Tier1Total - res.Tier1Pass) + (res.NegTotal - res.NegPass)
		return fmt.Errorf("%d required golden queries failed", failed)
	}
	return nil
}

func printTier(out *output.Writer, title string, results []validation.TestResult, verbose bool) {
	if len(results) == 0 {
		return
	}
	out.Status("", title)
	for _, r := range results {
		if r.Passed {
			if verbose {
				out.Successf("%s %s", r.Spec.ID, r.Spec.Query)
			}
			continue
		}
		detail := fmt.Sprintf("top=%v template=%d", r.TopResults, r.Template)
		if r.Error != "" {
			detail = r.Error
		}
		out.Errorf("%s %s (%s)", r.Spec.ID, r.Spec.Query, detail)
	}
}
