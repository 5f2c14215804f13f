package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/veritas/internal/metrics"
	"github.com/ppiankov/veritas/internal/model"
)

// Renderer writes training reports and verdicts.
type Renderer struct {
	// Precision is the number of decimals used for accuracies and losses.
	Precision int
}

// NewRenderer returns a renderer with default formatting.
func NewRenderer() *Renderer {
	return &Renderer{Precision: 4}
}

// RenderJSON writes v as indented JSON to path.
func (r *Renderer) RenderJSON(v any, path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(data, '\n'))
}

// RenderVerdicts writes one JSON verdict per line to path.
func (r *Renderer) RenderVerdicts(verdicts []model.Verdict, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, v := range verdicts {
		if err := enc.Encode(v); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// RenderMarkdown writes a human readable training report to path.
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	var sb strings.Builder
	f := r.float

	fmt.Fprintf(&sb, "# Training run %s\n\n", report.RunID)
	fmt.Fprintf(&sb, "- Started: %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Finished: %s\n", report.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Stop reason: %s\n", report.StopReason)
	fmt.Fprintf(&sb, "- Checkpoint: `%s`\n", report.Checkpoint)
	fmt.Fprintf(&sb, "- Parameters: %d\n", report.Parameters)
	fmt.Fprintf(&sb, "- Examples: %d train, %d validation\n", report.TrainSize, report.ValSize)
	if report.BestEpoch > 0 {
		fmt.Fprintf(&sb, "- Best epoch: %d (validation accuracy %s)\n", report.BestEpoch, f(report.BestValAcc))
	}

	sb.WriteString("\n## Epochs\n\n")
	sb.WriteString("| Epoch | Batches | Train loss | Train acc | Val loss | Val acc | Time |\n")
	sb.WriteString("|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, e := range report.Epochs {
		valLoss, valAcc := "-", "-"
		if e.ValLoss != nil {
			valLoss = f(*e.ValLoss)
		}
		if e.ValAccuracy != nil {
			valAcc = f(*e.ValAccuracy)
			if e.Improved {
				valAcc = "**" + valAcc + "**"
			}
		}
		fmt.Fprintf(&sb, "| %d | %d | %s | %s | %s | %s | %s |\n",
			e.Epoch, e.Batches, f(e.TrainLoss), f(e.TrainAccuracy), valLoss, valAcc, e.Duration.Round(time.Millisecond))
	}

	if len(report.Confusion) > 0 {
		cm := &metrics.ConfusionMatrix{Classes: len(report.Confusion), Counts: report.Confusion}
		sb.WriteString("\n## Validation confusion (best epoch)\n\n```\n")
		sb.WriteString(cm.Format(report.Labels))
		sb.WriteString("```\n")
	}

	return writeFile(path, []byte(sb.String()))
}

// RenderSummary prints a short summary of the report to w.
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) {
	fmt.Fprintf(w, "\n═══════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Training: %s\n", report.StopReason)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Epochs run:       %d\n", len(report.Epochs))
	if report.BestEpoch > 0 {
		fmt.Fprintf(w, "  Best epoch:       %d\n", report.BestEpoch)
		fmt.Fprintf(w, "  Best val acc:     %s\n", r.float(report.BestValAcc))
	}
	if n := len(report.Epochs); n > 0 {
		last := report.Epochs[n-1]
		fmt.Fprintf(w, "  Last train loss:  %s\n", r.float(last.TrainLoss))
	}
	fmt.Fprintf(w, "  Parameters:       %d\n", report.Parameters)
	fmt.Fprintf(w, "  Checkpoint:       %s\n", report.Checkpoint)
	fmt.Fprintf(w, "  Duration:         %s\n\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
}

// RenderPredictionSummary prints label counts and, for labelled input,
// accuracy and the confusion matrix.
func (r *Renderer) RenderPredictionSummary(w io.Writer, pred *Prediction) {
	counts := make(map[string]int)
	for _, v := range pred.Verdicts {
		counts[v.Label]++
	}
	fmt.Fprintf(w, "\n%d claims classified\n", len(pred.Verdicts))
	for _, name := range pred.Labels {
		fmt.Fprintf(w, "  %-16s %d\n", name, counts[name])
	}
	if ev := pred.Evaluation; ev != nil && ev.Labelled > 0 {
		fmt.Fprintf(w, "\nAccuracy %s over %d labelled claims (loss %s)\n", r.float(ev.Accuracy), ev.Labelled, r.float(ev.Loss))
		fmt.Fprint(w, ev.Confusion.Format(pred.Labels))
	}
	fmt.Fprintln(w)
}

func (r *Renderer) float(x float64) string {
	return fmt.Sprintf("%.*f", r.Precision, x)
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
