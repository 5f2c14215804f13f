// Package trainer runs the training loop: seeded shuffling, mini-batch
// updates, per-epoch validation with early stopping, best-snapshot restore
// and checkpointing, plus batched prediction.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/dataset"
	"github.com/ppiankov/veritas/internal/metrics"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/nn"
	"github.com/ppiankov/veritas/internal/worker"
)

// Stop reasons recorded in model.Report.
const (
	StopEarly     = "early_stopped"
	StopExhausted = "epochs_exhausted"
)

// ErrNotReady is returned when Fit or Predict is called on a trainer that
// was not created with New.
var ErrNotReady = errors.New("trainer not initialized")

// Model is a trainable classifier over padded batches.
type Model interface {
	TrainBatch(ctx context.Context, b *dataset.Batch) (metrics.BatchResult, error)
	EvalBatch(ctx context.Context, b *dataset.Batch) (metrics.BatchResult, []model.Prediction, error)
	Snapshot() nn.Snapshot
	Restore(snap nn.Snapshot) error
}

// Persister stores checkpoints and predictions.
type Persister interface {
	Save(snap nn.Snapshot, epoch int, valAccuracy float64) error
	Load() (nn.Snapshot, error)
	SavePredictions(probs *mat.Dense) error
}

// Options control the loop.
type Options struct {
	BatchSize    int
	Epochs       int
	Patience     int
	ShowProgress int
	Seed         int64
	HMax         int
	SMax         int
	Classes      int
	Labels       []string
	LogDir       string
	RunID        string // generated when empty
	Logger       *slog.Logger
	OnEvent      func(Event)
}

// OptionsFromConfig fills Options from the configuration.
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		BatchSize:    cfg.Training.BatchSize,
		Epochs:       cfg.Training.Epochs,
		Patience:     cfg.Training.Patience,
		ShowProgress: cfg.Training.ShowProgress,
		Seed:         cfg.Training.Seed,
		HMax:         cfg.Data.HMaxLength,
		SMax:         cfg.Data.SMaxLength,
		Classes:      cfg.Model.NOutputs,
		Labels:       model.Labels(cfg.Model.NOutputs),
		LogDir:       cfg.Training.LogDir,
	}
}

// Trainer drives one model through its lifecycle. Not safe for concurrent use.
type Trainer struct {
	model    Model
	store    Persister
	opts     Options
	state    State
	loaded   bool
	logger   *slog.Logger
	throttle *worker.Throttle
}

// New returns a trainer in the GraphBuilt state.
func New(m Model, store Persister, opts Options) *Trainer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.ShowProgress <= 0 {
		opts.ShowProgress = 1
	}
	t := &Trainer{
		model:    m,
		store:    store,
		opts:     opts,
		logger:   opts.Logger.With("component", "trainer"),
		throttle: worker.Every(2 * time.Second),
	}
	t.setState(GraphBuilt)
	return t
}

// State returns the current lifecycle state.
func (t *Trainer) State() State { return t.state }

func (t *Trainer) setState(s State) {
	t.state = s
	t.logger.Debug("state", "state", s.String())
	t.emit(Event{Kind: StateChanged, State: s})
}

func (t *Trainer) emit(e Event) {
	if t.opts.OnEvent != nil {
		e.State = t.state
		t.opts.OnEvent(e)
	}
}

// Fit trains on train, validating on val after every epoch when val is not
// empty. Each improvement of validation accuracy is checkpointed at once;
// after the loop the best parameters are restored and saved again.
func (t *Trainer) Fit(ctx context.Context, train, val []dataset.Example) (*model.Report, error) {
	if t.state == Uninitialized {
		return nil, ErrNotReady
	}
	if len(train) == 0 {
		return nil, errors.New("fit: empty training set")
	}
	if t.opts.Epochs <= 0 {
		return nil, fmt.Errorf("fit: epochs must be positive, got %d", t.opts.Epochs)
	}

	runID := t.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &model.Report{
		RunID:      runID,
		StartedAt:  time.Now().UTC(),
		StopReason: StopExhausted,
		Labels:     t.opts.Labels,
		TrainSize:  len(train),
		ValSize:    len(val),
	}

	var diag *diagLog
	if t.opts.LogDir != "" {
		d, err := openDiag(t.opts.LogDir, report.StartedAt)
		if err != nil {
			return nil, err
		}
		defer func() { _ = d.Close() }()
		diag = d
		t.logger.Info("writing diagnostics", "path", d.Path())
	}

	t.setState(Training)
	rng := rand.New(rand.NewSource(t.opts.Seed))
	bestAcc := -1.0
	var best nn.Snapshot
	bad := 0

	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		er, timing, err := t.trainEpoch(ctx, train, epoch, rng)
		if err != nil {
			return report, err
		}

		if len(val) > 0 {
			ev, err := t.evaluate(ctx, val)
			if err != nil {
				return report, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			loss, acc := ev.Loss, ev.Accuracy
			er.ValLoss, er.ValAccuracy = &loss, &acc

			if acc > bestAcc {
				bestAcc = acc
				best = t.model.Snapshot()
				bad = 0
				er.Improved = true
				report.BestEpoch = epoch
				report.BestValAcc = acc
				report.Confusion = ev.Confusion.Counts
				if err := t.store.Save(best, epoch, acc); err != nil {
					return report, fmt.Errorf("epoch %d checkpoint: %w", epoch, err)
				}
				t.logger.Debug("validation confusion", "epoch", epoch, "matrix", "\n"+ev.Confusion.Format(t.opts.Labels))
			} else {
				bad++
			}
		}

		report.Epochs = append(report.Epochs, er)
		if diag != nil {
			if err := diag.write(diagRecord{RunID: report.RunID, EpochReport: er, Timing: timing}); err != nil {
				t.logger.Warn("metrics log write failed", "error", err)
			}
		}
		t.emit(Event{Kind: EpochDone, Epoch: epoch, Epochs: t.opts.Epochs, Batches: er.Batches, Report: &er})
		if epoch%t.opts.ShowProgress == 0 || er.Improved {
			t.logEpoch(er)
		}

		if len(val) > 0 && bad >= t.opts.Patience {
			report.StopReason = StopEarly
			t.logger.Info("early stopping", "epoch", epoch, "best_epoch", report.BestEpoch, "best_val_accuracy", bestAcc)
			break
		}
	}

	if report.StopReason == StopEarly {
		t.setState(EarlyStopped)
	} else {
		t.setState(EpochsExhausted)
	}

	savedEpoch, savedAcc := len(report.Epochs), 0.0
	if best != nil {
		if err := t.model.Restore(best); err != nil {
			return report, fmt.Errorf("restore best parameters: %w", err)
		}
		savedEpoch, savedAcc = report.BestEpoch, bestAcc
	}
	if err := t.store.Save(t.model.Snapshot(), savedEpoch, savedAcc); err != nil {
		return report, fmt.Errorf("save checkpoint: %w", err)
	}
	t.loaded = true
	t.setState(Saved)

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, train []dataset.Example, epoch int, rng *rand.Rand) (model.EpochReport, metrics.Timing, error) {
	start := time.Now()
	groups := dataset.Batches(len(train), t.opts.BatchSize, rng)
	var run metrics.Running
	for i, idx := range groups {
		if err := ctx.Err(); err != nil {
			return model.EpochReport{}, metrics.Timing{}, err
		}
		startData := time.Now()
		b := dataset.MakeBatch(train, idx, t.opts.HMax, t.opts.SMax)
		dataTime := time.Since(startData)

		startCompute := time.Now()
		res, err := t.model.TrainBatch(ctx, b)
		if err != nil {
			return model.EpochReport{}, metrics.Timing{}, fmt.Errorf("epoch %d batch %d: %w", epoch, i+1, err)
		}
		run.Add(res)
		run.Time(dataTime, time.Since(startCompute))

		t.emit(Event{Kind: BatchDone, Epoch: epoch, Epochs: t.opts.Epochs, Batch: i + 1, Batches: len(groups), Result: res})
		if t.throttle.Allow("batch") {
			t.logger.Debug("batch",
				"epoch", epoch,
				"batch", i+1,
				"of", len(groups),
				"loss", res.Loss,
				"accuracy", res.Accuracy())
		}
	}

	return model.EpochReport{
		Epoch:         epoch,
		Batches:       run.Batches(),
		TrainLoss:     run.Loss(),
		TrainAccuracy: run.Accuracy(),
		Duration:      time.Since(start),
	}, run.Timing(), nil
}

func (t *Trainer) logEpoch(er model.EpochReport) {
	attrs := []any{
		"epoch", er.Epoch,
		"train_loss", er.TrainLoss,
		"train_accuracy", er.TrainAccuracy,
		"duration", er.Duration.Round(time.Millisecond),
	}
	if er.ValAccuracy != nil {
		attrs = append(attrs, "val_loss", *er.ValLoss, "val_accuracy", *er.ValAccuracy, "improved", er.Improved)
	}
	t.logger.Info("epoch done", attrs...)
}

// Evaluation is the result of running the model over a set of examples.
type Evaluation struct {
	Predictions []model.Prediction
	Loss        float64 // mean over labelled examples
	Accuracy    float64 // over labelled examples
	Labelled    int
	Confusion   *metrics.ConfusionMatrix
}

// Evaluate runs examples in inference mode without touching the checkpoint.
func (t *Trainer) Evaluate(ctx context.Context, examples []dataset.Example) (*Evaluation, error) {
	if t.state == Uninitialized {
		return nil, ErrNotReady
	}
	return t.evaluate(ctx, examples)
}

func (t *Trainer) evaluate(ctx context.Context, examples []dataset.Example) (*Evaluation, error) {
	ev := &Evaluation{
		Predictions: make([]model.Prediction, 0, len(examples)),
		Confusion:   metrics.NewConfusionMatrix(t.opts.Classes),
	}
	lossSum := 0.0
	for _, idx := range dataset.Batches(len(examples), t.opts.BatchSize, nil) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := dataset.MakeBatch(examples, idx, t.opts.HMax, t.opts.SMax)
		res, preds, err := t.model.EvalBatch(ctx, b)
		if err != nil {
			return nil, err
		}
		n := 0
		for _, y := range res.Labels {
			if y >= 0 {
				n++
			}
		}
		lossSum += res.Loss * float64(n)
		ev.Labelled += n
		ev.Confusion.AddBatch(res)
		ev.Predictions = append(ev.Predictions, preds...)
	}
	if ev.Labelled > 0 {
		ev.Loss = lossSum / float64(ev.Labelled)
		ev.Accuracy = ev.Confusion.Accuracy()
	}
	return ev, nil
}

// Predict restores the checkpoint unless parameters are already loaded,
// runs the examples in inference mode and writes the probability matrix
// next to the checkpoint.
func (t *Trainer) Predict(ctx context.Context, examples []dataset.Example) (*Evaluation, error) {
	if t.state == Uninitialized {
		return nil, ErrNotReady
	}
	if !t.loaded {
		snap, err := t.store.Load()
		if err != nil {
			return nil, fmt.Errorf("restore checkpoint: %w", err)
		}
		if err := t.model.Restore(snap); err != nil {
			return nil, fmt.Errorf("restore checkpoint: %w", err)
		}
		t.loaded = true
	}

	ev, err := t.evaluate(ctx, examples)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	if len(ev.Predictions) == 0 {
		return nil, errors.New("predict: no examples")
	}
	probs := mat.NewDense(len(ev.Predictions), t.opts.Classes, nil)
	for i, p := range ev.Predictions {
		probs.SetRow(i, p.Probabilities)
	}
	if err := t.store.SavePredictions(probs); err != nil {
		return nil, err
	}
	if ev.Labelled > 0 {
		t.logger.Info("prediction accuracy", "examples", len(examples), "labelled", ev.Labelled, "accuracy", ev.Accuracy, "loss", ev.Loss)
	}
	return ev, nil
}

// MarkLoaded tells Predict that the model already holds trained parameters.
func (t *Trainer) MarkLoaded() { t.loaded = true }
