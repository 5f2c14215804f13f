package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/pipeline"
	"github.com/ppiankov/veritas/internal/trainer"
	"github.com/ppiankov/veritas/internal/tui"
)

var (
	valPath    string
	outJSON    string
	outMD      string
	useTUI     bool
	runTimeout time.Duration
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train <train.jsonl>",
	Short: "Train a verifier on labelled claims",
	Long: `Train reads one JSON claim per line:

  {"id": "1", "claim": "...", "evidence": ["...", "..."], "label": "SUPPORTS"}

builds the vocabulary and embedding matrix, and trains both stages jointly.
After every epoch the model is evaluated on the validation file; each
improvement is checkpointed and training stops after --patience epochs
without one.

Example:
  veritas train data/train.jsonl --val data/dev.jsonl
  veritas train data/train.jsonl --val data/dev.jsonl --tui --md report.md
  VERITAS_TRAINING_EPOCHS=5 veritas train data/train.jsonl`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, trainFlagKeys)
	},
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	f := trainCmd.Flags()
	f.StringVar(&valPath, "val", "", "validation claims (JSONL); without it training runs all epochs")
	f.StringVar(&outJSON, "json", "", "output JSON report path (optional)")
	f.StringVar(&outMD, "md", "", "output Markdown report path (optional)")
	f.BoolVar(&useTUI, "tui", false, "show a live training dashboard")
	f.DurationVar(&runTimeout, "timeout", 0, "stop training after this long (0 = no limit)")

	f.String("embeddings", "", "word2vec source file")
	f.String("checkpoint", "", "checkpoint path prefix")
	f.Int("epochs", 0, "maximum number of epochs")
	f.Int("batch-size", 0, "examples per batch")
	f.Int("patience", 0, "epochs without improvement before stopping")
	f.String("log-dir", "", "write per-epoch diagnostics under this directory")
}

var trainFlagKeys = map[string]string{
	"embeddings": "embedding.source",
	"checkpoint": "training.checkpoint",
	"epochs":     "training.epochs",
	"batch-size": "training.batch_size",
	"patience":   "training.patience",
	"log-dir":    "training.log_dir",
}

// bindFlags binds command flags to config keys. Commands share keys, so
// binding happens when the command runs rather than at init.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if runTimeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	return ctx, func() { cancel(); stop() }
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	if useTUI && !verbose {
		// the dashboard owns the terminal
		logger = quietLogger()
	}

	ctx, cancel := commandContext()
	defer cancel()

	p := pipeline.NewPipeline(cfg, logger)
	defer func() { _ = p.Close() }()

	if verbose && !useTUI {
		fmt.Fprintf(os.Stderr, "⚙️  Training on %s\n", args[0])
		if valPath != "" {
			fmt.Fprintf(os.Stderr, "⚙️  Validating on %s\n", valPath)
		}
		fmt.Fprintf(os.Stderr, "⚙️  Checkpoint: %s\n\n", cfg.Training.Checkpoint)
	}

	train := func(ctx context.Context, onEvent func(trainer.Event)) (*model.Report, error) {
		p.OnEvent(onEvent)
		return p.Train(ctx, args[0], valPath)
	}

	var report *model.Report
	if useTUI {
		report, err = tui.Run(ctx, "veritas train "+args[0], train)
	} else {
		report, err = train(ctx, nil)
	}
	if err != nil {
		if report != nil && len(report.Epochs) > 0 {
			fmt.Fprintf(os.Stderr, "✗ Training stopped after %d epochs\n", len(report.Epochs))
		}
		return err
	}

	return p.RenderReport(cmd.OutOrStdout(), report, outJSON, outMD, verbose)
}
