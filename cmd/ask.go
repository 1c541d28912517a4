package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lavlagaa/lavlagaa/internal/app"
	"github.com/lavlagaa/lavlagaa/internal/config"
	"github.com/lavlagaa/lavlagaa/internal/mgl"
)

var flagAskVoice bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question from the command line",
	Long: `Answers one question against the corpus and streams the answer to
stdout. No session history is read or written. With --voice the final
answer is additionally printed in TTS-ready form.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().BoolVar(&flagAskVoice, "voice", false, "also print the answer prepared for speech synthesis")
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, question string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.SetupPipeline(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("initializing pipeline: %w", err)
	}

	answer, err := a.Pipeline.AnswerOnce(ctx, question,
		func(_ context.Context, delta string) error {
			_, err := fmt.Fprint(os.Stdout, delta)
			return err
		})
	if err != nil {
		return err
	}
	fmt.Println()

	if flagAskVoice {
		fmt.Println(mgl.ForSpeech(answer))
	}
	return nil
}
