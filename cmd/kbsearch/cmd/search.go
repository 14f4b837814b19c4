package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	json        bool
	interactive bool
	plain       bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Search the knowledge base with a free-text question.

The question is tokenized, expanded with tag synonyms and matched by tag,
category and full text. Results are ranked and the suggested reply
template, if any, is marked with *.

An empty store is seeded from store.dataset first.`,
		Example: `  kbsearch search キャンセル料はかかりますか
  kbsearch search "8月10日は混雑しますか" --json
  kbsearch search --interactive`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.interactive {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output the full response as JSON")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Open an interactive search prompt")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Disable colors and styling")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
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

	a, err := openApp(ctx, cfg, appOptions{seedIfEmpty: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(opts.plain)))

	if opts.interactive {
		return ui.RunInteractive(ctx, a.engine.Search, renderer, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	slog.Info("search_started", slog.String("query", query))
	resp, err := a.engine.Search(ctx, query)
	if err != nil {
		if opts.json {
			if data, jerr := kberrors.FormatJSON(err); jerr == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"error\":%s}\n", data)
			}
		}
		return err
	}
	slog.Info("search_complete", slog.Int("results", len(resp.Results)))

	if opts.json {
		return output.New(cmd.OutOrStdout()).JSON(resp)
	}
	renderer.RenderResponse(resp)
	return nil
}

// renderError prints err for a human, with its code and suggestion.
func renderError(w io.Writer, err error) {
	if w == nil {
		w = os.Stderr
	}
	renderer := ui.NewRenderer(ui.NewConfig(w))
	if renderer.Styled() {
		renderer.RenderError(err)
		return
	}
	_, _ = fmt.Fprint(w, kberrors.FormatForCLI(err))
}
