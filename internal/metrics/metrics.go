// Package metrics accumulates classification statistics for training and
// validation: per-batch results, confusion matrices and epoch timing.
package metrics

import (
	"fmt"
	"strings"
	"time"
)

// BatchResult is the outcome of one forward pass over a batch.
type BatchResult struct {
	Loss      float64 `json:"loss"`
	Size      int     `json:"size"`
	Correct   int     `json:"correct"`
	Predicted []int   `json:"predicted,omitempty"`
	Labels    []int   `json:"labels,omitempty"`
}

// Accuracy returns the fraction of correctly classified examples.
func (r BatchResult) Accuracy() float64 {
	if r.Size == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Size)
}

// ConfusionMatrix counts (true label, predicted label) pairs.
// Rows are true labels, columns predictions.
type ConfusionMatrix struct {
	Classes int     `json:"classes"`
	Counts  [][]int `json:"counts"`
}

// NewConfusionMatrix returns an all-zero n×n matrix.
func NewConfusionMatrix(n int) *ConfusionMatrix {
	counts := make([][]int, n)
	for i := range counts {
		counts[i] = make([]int, n)
	}
	return &ConfusionMatrix{Classes: n, Counts: counts}
}

// Add records one prediction. Out-of-range labels are ignored.
func (m *ConfusionMatrix) Add(label, predicted int) {
	if label < 0 || label >= m.Classes || predicted < 0 || predicted >= m.Classes {
		return
	}
	m.Counts[label][predicted]++
}

// AddBatch records every labelled prediction of r.
func (m *ConfusionMatrix) AddBatch(r BatchResult) {
	for i, y := range r.Labels {
		if i < len(r.Predicted) {
			m.Add(y, r.Predicted[i])
		}
	}
}

// Total returns the number of recorded predictions.
func (m *ConfusionMatrix) Total() int {
	n := 0
	for _, row := range m.Counts {
		for _, c := range row {
			n += c
		}
	}
	return n
}

// Accuracy is the trace divided by the total.
func (m *ConfusionMatrix) Accuracy() float64 {
	total := m.Total()
	if total == 0 {
		return 0
	}
	diag := 0
	for i := 0; i < m.Classes; i++ {
		diag += m.Counts[i][i]
	}
	return float64(diag) / float64(total)
}

// Recall returns the per-class recall; classes without examples get 0.
func (m *ConfusionMatrix) Recall() []float64 {
	out := make([]float64, m.Classes)
	for i, row := range m.Counts {
		sum := 0
		for _, c := range row {
			sum += c
		}
		if sum > 0 {
			out[i] = float64(row[i]) / float64(sum)
		}
	}
	return out
}

// Format renders the matrix with the given class names as a plain table.
func (m *ConfusionMatrix) Format(names []string) string {
	var b strings.Builder
	width := 8
	for _, n := range names {
		if len(n)+1 > width {
			width = len(n) + 1
		}
	}
	fmt.Fprintf(&b, "%*s", width, "")
	for j := 0; j < m.Classes; j++ {
		fmt.Fprintf(&b, "%*s", width, className(names, j))
	}
	b.WriteByte('\n')
	for i, row := range m.Counts {
		fmt.Fprintf(&b, "%*s", width, className(names, i))
		for _, c := range row {
			fmt.Fprintf(&b, "%*d", width, c)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func className(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("class%d", i)
}

// Running averages loss and accuracy over the batches of an epoch,
// weighting each batch by its size.
type Running struct {
	lossSum float64
	correct int
	size    int
	batches int
	data    time.Duration
	compute time.Duration
}

// Add folds one batch into the averages.
func (r *Running) Add(b BatchResult) {
	r.lossSum += b.Loss * float64(b.Size)
	r.correct += b.Correct
	r.size += b.Size
	r.batches++
}

// Loss returns the example-weighted mean loss.
func (r *Running) Loss() float64 {
	if r.size == 0 {
		return 0
	}
	return r.lossSum / float64(r.size)
}

// Accuracy returns the fraction of correct predictions so far.
func (r *Running) Accuracy() float64 {
	if r.size == 0 {
		return 0
	}
	return float64(r.correct) / float64(r.size)
}

// Batches returns how many batches were added.
func (r *Running) Batches() int { return r.batches }

// Examples returns how many examples were added.
func (r *Running) Examples() int { return r.size }

// Time adds the batch assembly and model step durations of one batch.
func (r *Running) Time(data, compute time.Duration) {
	r.data += data
	r.compute += compute
}

// Timing is where the wall time of an epoch went.
type Timing struct {
	Data           time.Duration `json:"data_ns"`
	Compute        time.Duration `json:"compute_ns"`
	ExamplesPerSec float64       `json:"examples_per_sec"`
}

// Timing returns the accumulated durations and the example throughput.
func (r *Running) Timing() Timing {
	t := Timing{Data: r.data, Compute: r.compute}
	if total := r.data + r.compute; total > 0 {
		t.ExamplesPerSec = float64(r.size) / total.Seconds()
	}
	return t
}
