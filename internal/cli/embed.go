package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/veritas/internal/embedding"
)

var embedFormat string

// embedCmd represents the embed command
var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Manage the word embedding cache",
	Long: `The embedding cache is a flat float64 matrix (embed.dat) plus its row
order (embed.vocab), built once from a word2vec file and memory-mapped by
every later run.`,
}

var embedBuildCmd = &cobra.Command{
	Use:   "build <word2vec-file>",
	Short: "Build the embedding cache from a word2vec file",
	Long: `Convert a word2vec file (binary or text, optionally gzipped) into the
cache directory, replacing any cache already there. Words are lowercased;
the first occurrence wins on lookup.

Example:
  veritas embed build GoogleNews-vectors-negative300.bin.gz
  veritas embed build glove.6B.100d.w2v.txt --format text`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		format, err := embedding.ParseFormat(embedFormat)
		if err != nil {
			return err
		}
		if err := embedding.Build(args[0], cfg.Embedding.CacheDir,
			embedding.WithFormat(format),
			embedding.WithLogger(newLogger())); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Embedding cache ready: %s\n", cfg.Embedding.CacheDir)
		return nil
	},
}

var embedLookupCmd = &cobra.Command{
	Use:   "lookup <word>...",
	Short: "Print the vectors of words from the cache",
	Long:  `Print each word with its vector; unknown words get the unknown vector and are marked with ✗.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ec := cfg.Embedding
		store, err := embedding.Load(ec.Source, ec.CacheDir, ec.VocabSize, ec.Dim,
			embedding.WithUnknownWord(ec.UnknownWord),
			embedding.WithLogger(newLogger()))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if verbose {
			fmt.Fprintf(os.Stderr, "Cache: %s (%d words, dim %d)\n\n", store.Dir(), store.Len(), store.Dim())
		}
		out := cmd.OutOrStdout()
		for _, w := range args {
			mark := "✓"
			if !store.IsKnown(w) {
				mark = "✗"
			}
			fmt.Fprintf(out, "%s %s %s\n", mark, w, formatVector(store.WordToVector(w)))
		}
		return nil
	},
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.5g", x)
	}
	return strings.Join(parts, " ")
}

func init() {
	rootCmd.AddCommand(embedCmd)
	embedCmd.AddCommand(embedBuildCmd)
	embedCmd.AddCommand(embedLookupCmd)

	embedBuildCmd.Flags().StringVar(&embedFormat, "format", "auto", "source format (auto, binary, text)")
}
