package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/kbsearch/configs"
	"github.com/Aman-CERP/kbsearch/internal/config"
	"github.com/Aman-CERP/kbsearch/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage kbsearch configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/kbsearch/config.yaml)
  3. Project config (.kbsearch.yaml in --dir)
  4. .env in --dir
  5. Environment variables (KBSEARCH_*)`,
		Example: `  # Create a commented .kbsearch.yaml
  kbsearch config init

  # Show effective configuration
  kbsearch config show`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force     bool
		user      bool
		effective bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file",
		Long: `Write a commented .kbsearch.yaml to --dir, or the user configuration file
with --user. An existing file is left alone unless --force is given, in which
case it is backed up first.

A deployment without a dataset also gets a sample knowledge.yaml.`,
		Example: `  kbsearch config init
  kbsearch config init --user

  # Write every setting with its current effective value
  kbsearch config init --effective --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(deployDir, config.ProjectConfigFile)
			if user {
				path = config.GetUserConfigPath()
			}
			return runConfigInit(cmd, path, force, user, effective)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user configuration instead of the project one")
	cmd.Flags().BoolVar(&effective, "effective", false, "Write the merged configuration instead of the template")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the effective configuration after merging all sources. Secrets
(store.dsn, cache.redis.password) are masked.`,
		Example: `  kbsearch config show
  kbsearch config show --json
  kbsearch config show --source defaults`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force, user, effective bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("📁", "Location: %s", path)
			out.Status("💡", "Use --force to overwrite it (a backup is kept)")
			return nil
		}
		backup, err := config.BackupFile(path, time.Now())
		if err != nil {
			return err
		}
		out.Statusf("💾", "Backup: %s", backup)
	}

	if err := writeConfig(path, user, effective); err != nil {
		return err
	}

	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	if user {
		return nil
	}

	dataset := filepath.Join(deployDir, config.NewConfig().Store.Dataset)
	if _, err := os.Stat(dataset); os.IsNotExist(err) {
		if err := os.WriteFile(dataset, configs.SampleDataset, 0o644); err != nil {
			return fmt.Errorf("failed to write sample dataset: %w", err)
		}
		out.Statusf("📄", "Sample dataset: %s", dataset)
	}

	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Point store.dataset at your knowledge base YAML")
	out.Status("", "  2. Run 'kbsearch seed' to load it")
	out.Status("", "  3. Run 'kbsearch serve' to start the API")
	return nil
}

func writeConfig(path string, user, effective bool) error {
	if effective {
		cfg, err := config.Load(deployDir)
		if err != nil {
			return err
		}
		// Secrets stay in the environment.
		cfg.Store.DSN = ""
		cfg.Cache.Redis.Password = ""
		return cfg.WriteYAML(path)
	}

	template := configs.ProjectConfigTemplate
	if user {
		template = configs.UserConfigTemplate
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg        *config.Config
		sourceDesc string
		err        error
	)
	switch source {
	case "merged":
		cfg, err = config.Load(deployDir)
		if err != nil {
			return err
		}
		sourceDesc = "merged (defaults + user + project + env)"
	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"
	default:
		return fmt.Errorf("invalid source: %s (use: merged, defaults)", source)
	}

	// JSON tags already drop the secrets.
	if jsonOutput {
		return out.JSON(cfg)
	}

	masked := *cfg
	if masked.Store.DSN != "" {
		masked.Store.DSN = "****"
	}
	if masked.Cache.Redis.Password != "" {
		masked.Cache.Redis.Password = "****"
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	out.Code(string(data))
	return nil
}
