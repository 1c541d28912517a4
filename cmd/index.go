package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lavlagaa/lavlagaa/internal/app"
	"github.com/lavlagaa/lavlagaa/internal/config"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the retrieval index snapshot",
	Long: `Re-embeds the corpus and replaces the persisted semantic index snapshot.
The serve command picks up a matching snapshot automatically; run this
after editing the corpus to pay the embedding cost once, up front.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return app.RebuildIndex(cmd.Context(), cfg, newLogger())
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
