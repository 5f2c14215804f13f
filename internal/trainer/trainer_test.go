package trainer

import (
	"bufio"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/dataset"
	"github.com/ppiankov/veritas/internal/metrics"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/nn"
)

// fakeModel counts optimizer steps in a single parameter and reports a
// scripted validation accuracy per evaluation.
type fakeModel struct {
	w          *mat.Dense
	valAcc     []float64
	evals      int
	batchSizes []int
}

func newFakeModel(valAcc ...float64) *fakeModel {
	return &fakeModel{w: mat.NewDense(1, 1, nil), valAcc: valAcc}
}

func (f *fakeModel) TrainBatch(_ context.Context, b *dataset.Batch) (metrics.BatchResult, error) {
	f.batchSizes = append(f.batchSizes, b.Size())
	f.w.Set(0, 0, f.w.At(0, 0)+1)
	correct := len(f.batchSizes) % 2 // batches alternate 1 and 0 correct
	return metrics.BatchResult{Loss: float64(len(f.batchSizes)), Size: b.Size(), Correct: correct}, nil
}

func (f *fakeModel) EvalBatch(_ context.Context, b *dataset.Batch) (metrics.BatchResult, []model.Prediction, error) {
	acc := 1.0
	if f.evals < len(f.valAcc) {
		acc = f.valAcc[f.evals]
	}
	f.evals++
	right := int(math.Round(acc * float64(b.Size())))
	res := metrics.BatchResult{Loss: 1 - acc, Size: b.Size(), Predicted: make([]int, b.Size()), Labels: b.Labels}
	preds := make([]model.Prediction, b.Size())
	for k, y := range b.Labels {
		p := y
		if k >= right {
			p = (y + 1) % 3
		} else {
			res.Correct++
		}
		res.Predicted[k] = p
		probs := make([]float64, 3)
		probs[p] = 1
		preds[k] = model.Prediction{Probabilities: probs}
	}
	return res, preds, nil
}

func (f *fakeModel) Snapshot() nn.Snapshot {
	return nn.Snapshot{"w": mat.DenseCopyOf(f.w)}
}

func (f *fakeModel) Restore(s nn.Snapshot) error {
	w, ok := s["w"]
	if !ok {
		return nn.ErrShapeMismatch
	}
	f.w.Copy(w)
	return nil
}

type fakeStore struct {
	saved  []int // epochs passed to Save
	last   nn.Snapshot
	preds  *mat.Dense
	noLoad bool
}

func (s *fakeStore) Save(snap nn.Snapshot, epoch int, _ float64) error {
	s.saved = append(s.saved, epoch)
	s.last = snap
	return nil
}

func (s *fakeStore) Load() (nn.Snapshot, error) {
	if s.noLoad || s.last == nil {
		return nil, errors.New("no checkpoint")
	}
	return s.last, nil
}

func (s *fakeStore) SavePredictions(p *mat.Dense) error {
	s.preds = p
	return nil
}

func examples(n int) []dataset.Example {
	out := make([]dataset.Example, n)
	for i := range out {
		out[i] = dataset.Example{Claim: []int{2, 3}, Sentences: [][]int{{4}}, Label: i % 3}
	}
	return out
}

func testOptions() Options {
	return Options{BatchSize: 2, Epochs: 1, Patience: 2, Seed: 1, HMax: 4, SMax: 4, Classes: 3, Labels: model.LabelNames}
}

func TestFit_BatchesPerEpoch(t *testing.T) {
	m := newFakeModel()
	store := &fakeStore{}
	var batchEvents []Event
	opts := testOptions()
	opts.OnEvent = func(e Event) {
		if e.Kind == BatchDone {
			batchEvents = append(batchEvents, e)
		}
	}

	tr := New(m, store, opts)
	report, err := tr.Fit(context.Background(), examples(4), nil)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if !reflect.DeepEqual(m.batchSizes, []int{2, 2}) {
		t.Errorf("expected two batches of 2, got %v", m.batchSizes)
	}
	if len(batchEvents) != 2 || batchEvents[0].Result.Loss != 1 || batchEvents[1].Result.Loss != 2 {
		t.Errorf("expected per-batch results, got %+v", batchEvents)
	}
	er := report.Epochs[0]
	if er.Batches != 2 || er.TrainLoss != 1.5 || er.TrainAccuracy != 0.25 {
		t.Errorf("unexpected epoch report %+v", er)
	}
	if report.StopReason != StopExhausted || tr.State() != Saved {
		t.Errorf("stop=%s state=%s", report.StopReason, tr.State())
	}
	if !reflect.DeepEqual(store.saved, []int{1}) {
		t.Errorf("expected one final save, got %v", store.saved)
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestFit_LastBatchShort(t *testing.T) {
	m := newFakeModel()
	opts := testOptions()
	opts.BatchSize = 2
	if _, err := New(m, &fakeStore{}, opts).Fit(context.Background(), examples(5), nil); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(m.batchSizes, []int{2, 2, 1}) {
		t.Errorf("expected batches 2,2,1, got %v", m.batchSizes)
	}
}

func TestFit_EarlyStopping(t *testing.T) {
	m := newFakeModel(0.5, 0.5, 0.5, 0.9)
	store := &fakeStore{}
	var states []State
	opts := testOptions()
	opts.Epochs = 10
	opts.OnEvent = func(e Event) {
		if e.Kind == StateChanged {
			states = append(states, e.State)
		}
	}

	tr := New(m, store, opts)
	report, err := tr.Fit(context.Background(), examples(4), examples(2))
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if len(report.Epochs) != 3 {
		t.Fatalf("expected stop after epoch 3, ran %d epochs", len(report.Epochs))
	}
	if report.StopReason != StopEarly || report.BestEpoch != 1 || report.BestValAcc != 0.5 {
		t.Errorf("unexpected report: stop=%s best=%d acc=%g", report.StopReason, report.BestEpoch, report.BestValAcc)
	}
	if !report.Epochs[0].Improved || report.Epochs[1].Improved || report.Epochs[2].Improved {
		t.Error("only epoch 1 should count as an improvement")
	}
	// two optimizer steps per epoch; epoch 1 ends at w=2
	if got := m.w.At(0, 0); got != 2 {
		t.Errorf("expected epoch-1 parameters restored (w=2), got %g", got)
	}
	if !reflect.DeepEqual(store.saved, []int{1, 1}) {
		t.Errorf("expected save on improvement and final save of epoch 1, got %v", store.saved)
	}
	want := []State{GraphBuilt, Training, EarlyStopped, Saved}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestFit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(newFakeModel(), &fakeStore{}, testOptions()).Fit(ctx, examples(4), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFit_EmptyTrainingSet(t *testing.T) {
	if _, err := New(newFakeModel(), &fakeStore{}, testOptions()).Fit(context.Background(), nil, nil); err == nil {
		t.Error("expected error for empty training set")
	}
}

func TestFit_Uninitialized(t *testing.T) {
	var tr Trainer
	if _, err := tr.Fit(context.Background(), examples(1), nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestFit_WritesDiagnostics(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.Epochs = 2
	opts.LogDir = dir
	if _, err := New(newFakeModel(), &fakeStore{}, opts).Fit(context.Background(), examples(2), nil); err != nil {
		t.Fatal(err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "run*", "metrics.jsonl"))
	if len(files) != 1 {
		t.Fatalf("expected one metrics file, got %v", files)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 epoch records, got %d", lines)
	}
}

func TestPredict_RestoresCheckpoint(t *testing.T) {
	store := &fakeStore{last: nn.Snapshot{"w": mat.NewDense(1, 1, []float64{7})}}
	m := newFakeModel(1)
	tr := New(m, store, testOptions())

	ev, err := tr.Predict(context.Background(), examples(3))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if m.w.At(0, 0) != 7 {
		t.Error("checkpoint was not restored")
	}
	if len(ev.Predictions) != 3 || ev.Labelled != 3 {
		t.Errorf("unexpected evaluation %+v", ev)
	}
	r, c := store.preds.Dims()
	if r != 3 || c != 3 {
		t.Errorf("predictions matrix is %d×%d, want 3×3", r, c)
	}
}

func TestPredict_MissingCheckpoint(t *testing.T) {
	tr := New(newFakeModel(), &fakeStore{noLoad: true}, testOptions())
	if _, err := tr.Predict(context.Background(), examples(1)); err == nil {
		t.Fatal("expected restore failure")
	}
}

func TestStateString(t *testing.T) {
	if EarlyStopped.String() != "early_stopped" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
