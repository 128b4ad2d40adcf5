// Command masctl is a thin CLI for inspecting a MAS's persisted node/trace
// records and previewing restart/replay decisions. All business logic
// lives in internal/tracestore and internal/replay; this package only
// parses flags and prints results.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "masctl",
		Short:        "Inspect and drive a multi-agent orchestration runtime",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mas.yaml", "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildInspectCmd(),
		buildReplayCmd(),
	)
	return rootCmd
}
