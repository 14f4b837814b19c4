// Package cmd provides the CLI commands for kbsearch.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/config"
	"github.com/Aman-CERP/kbsearch/internal/logging"
	"github.com/Aman-CERP/kbsearch/internal/profiling"
	"github.com/Aman-CERP/kbsearch/pkg/version"
)

// Global flags
var (
	deployDir      string
	debugMode      bool
	loggingCleanup func()

	profileCPU   string
	profileMem   string
	profileTrace string
	profile      *profiling.Session
)

// NewRootCmd creates the root command for the kbsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kbsearch",
		Short: "Knowledge base search for parking reservation support",
		Long: `kbsearch answers free-text Japanese questions from a curated
question/answer knowledge base.

Queries are tokenized, expanded with tag synonyms, matched by tag, category
and full text, and ranked. Results are served over HTTP, MCP (stdio) or the
command line.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("kbsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&deployDir, "dir", "C", ".", "Deployment directory holding .kbsearch.yaml and the dataset")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newMetricsCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		renderError(cmd.ErrOrStderr(), err)
	}
	return err
}

// loadConfig loads the configuration for --dir.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(deployDir)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// logMode selects where records go.
type logMode int

const (
	// logServe follows the logging section of the config.
	logServe logMode = iota
	// logCLI keeps stderr quiet unless --debug is set.
	logCLI
	// logMCP writes to the log file only. The stdio transport owns stdout.
	logMCP
)

// startLogging installs the default logger.
func startLogging(cfg *config.Config, mode logMode) error {
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr,
	}

	var (
		cleanup func()
		err     error
	)
	switch mode {
	case logMCP:
		cleanup, err = logging.SetupMCPMode(logCfg)
	case logCLI:
		logCfg.WriteToStderr = debugMode
		cleanup, err = logging.SetupDefault(logCfg)
	default:
		cleanup, err = logging.SetupDefault(logCfg)
	}
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("logging_started",
		slog.String("level", logCfg.Level),
		slog.String("version", version.Short()))
	return nil
}

// startProfiling starts the profiles requested by --profile-*.
func startProfiling(_ *cobra.Command, _ []string) error {
	opts := profiling.Options{CPU: profileCPU, Heap: profileMem, Trace: profileTrace}
	if !opts.Enabled() {
		return nil
	}
	s, err := profiling.Start(opts, slog.Default())
	if err != nil {
		return err
	}
	profile = s
	return nil
}

// stopProfilingAndLogging flushes profiles and the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profile != nil {
		err = profile.Stop()
		profile = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}
