// Package cmd contains the CLI entry points.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lavlagaa/lavlagaa/internal/log"
)

var (
	flagVerbose  bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "lavlagaa",
	Short: "Иргэний бүртгэлийн лавлагааны асуулт хариултын үйлчилгээ",
	Long: `lavlagaa answers civil-registry questions in Mongolian, grounded in a
fixed reference corpus. It retrieves relevant passages with a hybrid
semantic and lexical index and streams model answers over an
authenticated HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "log in JSON format")
}

// newLogger builds the process logger from the global flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLogs})
}
