package esim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/ppiankov/veritas/internal/dataset"
	"github.com/ppiankov/veritas/internal/metrics"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/nn"
	"github.com/ppiankov/veritas/internal/worker"
)

// ErrClosed is returned by a session after Close.
var ErrClosed = errors.New("session closed")

// Session owns the compute resources of one network: the optimizer, the
// worker count used to evaluate the examples of a batch in parallel, the
// dropout RNG and the process memory ceiling.
type Session struct {
	net     *Network
	opt     nn.Optimizer
	workers int
	rng     *rand.Rand
	logger  *slog.Logger

	mu        sync.Mutex
	closed    bool
	limited   bool
	prevLimit int64
}

// NewSession opens a session for net.
func NewSession(net *Network, training model.TrainingConfig, rt model.RuntimeConfig, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := nn.NewOptimizer(training.Optimizer, training.LearningRate)
	if err != nil {
		return nil, err
	}

	s := &Session{
		net:     net,
		opt:     opt,
		workers: rt.Workers,
		rng:     rand.New(rand.NewSource(training.Seed)),
		logger:  logger.With("component", "session"),
	}
	if s.workers <= 0 {
		s.workers = defaultWorkers()
	}

	if rt.MaxMemoryFraction > 0 {
		total, err := totalMemory()
		if err != nil {
			s.logger.Warn("memory ceiling not applied", "error", err)
		} else if total > 0 {
			limit := int64(rt.MaxMemoryFraction * float64(total))
			s.prevLimit = debug.SetMemoryLimit(limit)
			s.limited = true
			s.logger.Debug("memory ceiling set", "limit_mb", limit>>20, "total_mb", total>>20)
		}
	}

	s.logger.Debug("session open",
		"cpu", cpuid.CPU.BrandName,
		"workers", s.workers,
		"optimizer", opt.Name(),
		"parameters", net.params.Count())
	return s, nil
}

func defaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Network returns the model of the session.
func (s *Session) Network() *Network { return s.net }

// Workers returns the number of examples evaluated in parallel.
func (s *Session) Workers() int { return s.workers }

// ParamCount returns the number of scalar weights.
func (s *Session) ParamCount() int { return s.net.params.Count() }

// TrainBatch runs forward and backward passes over b and applies one
// optimizer step with the gradient of the mean loss.
func (s *Session) TrainBatch(ctx context.Context, b *dataset.Batch) (metrics.BatchResult, error) {
	if err := s.check(); err != nil {
		return metrics.BatchResult{}, err
	}
	if b.Size() == 0 {
		return metrics.BatchResult{}, nil
	}

	seeds := make([]int64, b.Size())
	for i := range seeds {
		seeds[i] = s.rng.Int63()
	}

	type trained struct {
		res   exampleResult
		grads *nn.Grads
	}
	out, err := worker.Map(ctx, s.workers, b.Size(), func(_ context.Context, k int) (trained, error) {
		g := nn.NewGrads()
		res := s.net.run(b, k, rand.New(rand.NewSource(seeds[k])), g)
		return trained{res: res, grads: g}, nil
	})
	if err != nil {
		return metrics.BatchResult{}, fmt.Errorf("train batch: %w", err)
	}

	total := nn.NewGrads()
	results := make([]exampleResult, len(out))
	for i, o := range out {
		total.Merge(o.grads)
		results[i] = o.res
	}
	total.Scale(1 / float64(b.Size()))
	s.opt.Step(s.net.params.Trainable(), total)

	return summarize(results), nil
}

// EvalBatch runs b in inference mode and returns the batch statistics and
// the per-example predictions.
func (s *Session) EvalBatch(ctx context.Context, b *dataset.Batch) (metrics.BatchResult, []model.Prediction, error) {
	if err := s.check(); err != nil {
		return metrics.BatchResult{}, nil, err
	}
	results, err := worker.Map(ctx, s.workers, b.Size(), func(_ context.Context, k int) (exampleResult, error) {
		return s.net.run(b, k, nil, nil), nil
	})
	if err != nil {
		return metrics.BatchResult{}, nil, fmt.Errorf("eval batch: %w", err)
	}

	preds := make([]model.Prediction, len(results))
	for i, r := range results {
		preds[i] = model.Prediction{Probabilities: r.Probs, Weights: r.Weights}
	}
	return summarize(results), preds, nil
}

// summarize averages the loss over the labelled examples.
func summarize(results []exampleResult) metrics.BatchResult {
	br := metrics.BatchResult{
		Size:      len(results),
		Predicted: make([]int, len(results)),
		Labels:    make([]int, len(results)),
	}
	labelled := 0
	for i, r := range results {
		br.Predicted[i] = r.Pred
		br.Labels[i] = r.Label
		if r.Label < 0 {
			continue
		}
		labelled++
		br.Loss += r.Loss
		if r.Pred == r.Label {
			br.Correct++
		}
	}
	if labelled > 0 {
		br.Loss /= float64(labelled)
	}
	return br
}

// Snapshot copies every parameter value.
func (s *Session) Snapshot() nn.Snapshot { return s.net.params.Snapshot() }

// Restore assigns snapshot values to the parameters.
func (s *Session) Restore(snap nn.Snapshot) error { return s.net.params.Restore(snap) }

// Close releases the memory ceiling. Further batches fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.limited {
		debug.SetMemoryLimit(s.prevLimit)
	}
	s.logger.Debug("session closed")
	return nil
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
