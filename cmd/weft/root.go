package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/weft/internal/cli"
	"github.com/aretw0/weft/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft runs multi-agent workflow graphs",
	Long: `Weft executes workflow graphs described in YAML: agents, human reviewers,
python scripts and nested subgraphs exchanging messages along edges.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a weft.yaml runtime config")
	rootCmd.PersistentFlags().String("warehouse", "", "Directory holding run sessions (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json (overrides config)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// loadRuntime reads the runtime config and applies the persistent flags.
func loadRuntime(cmd *cobra.Command) (config.Runtime, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Runtime{}, nil, err
	}
	if wh, _ := cmd.Flags().GetString("warehouse"); wh != "" {
		cfg.Warehouse = wh
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.LogFormat = format
	}
	debug, _ := cmd.Flags().GetBool("debug")
	return cfg, cli.NewLogger(cfg, debug), nil
}
