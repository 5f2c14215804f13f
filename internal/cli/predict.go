package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/veritas/internal/pipeline"
)

var verdictsPath string

// predictCmd represents the predict command
var predictCmd = &cobra.Command{
	Use:   "predict <claims.jsonl>",
	Short: "Classify claims with a trained checkpoint",
	Long: `Predict restores the checkpoint and classifies every claim of the input
file. The probability matrix is written next to the checkpoint; verdicts
with per-sentence selection weights go to --out.

Labelled input also reports accuracy and the confusion matrix.

Example:
  veritas predict data/test.jsonl --out verdicts.jsonl
  veritas predict data/test.jsonl --checkpoint runs/esim`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{"checkpoint": "training.checkpoint"})
	},
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVar(&verdictsPath, "out", "", "output verdicts path (JSONL, optional)")
	predictCmd.Flags().String("checkpoint", "", "checkpoint path prefix")
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	p := pipeline.NewPipeline(cfg, newLogger())
	defer func() { _ = p.Close() }()

	pred, err := p.Predict(ctx, args[0])
	if err != nil {
		return err
	}

	if verdictsPath != "" {
		if err := p.Renderer().RenderVerdicts(pred.Verdicts, verdictsPath); err != nil {
			return fmt.Errorf("write verdicts: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote verdicts: %s\n", verdictsPath)
		}
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "✓ Wrote probabilities: %s\n", pred.Output)
	}
	p.Renderer().RenderPredictionSummary(cmd.OutOrStdout(), pred)
	return nil
}
