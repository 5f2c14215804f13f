package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/checkpoint"
	"github.com/ppiankov/veritas/internal/dataset"
	"github.com/ppiankov/veritas/internal/embedding"
	"github.com/ppiankov/veritas/internal/esim"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/nn"
	"github.com/ppiankov/veritas/internal/trainer"
)

// Pipeline orchestrates embedding store, dataset, network and trainer.
// It owns at most one compute session at a time: Train closes any previous
// one before opening its own.
type Pipeline struct {
	config   *model.Config
	logger   *slog.Logger
	renderer *Renderer
	onEvent  func(trainer.Event)

	store   *embedding.Store
	vocab   *dataset.Vocabulary
	data    model.DataConfig
	classes int
	session *esim.Session
	trainer *trainer.Trainer
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		config:   cfg,
		logger:   logger.With("component", "pipeline"),
		renderer: NewRenderer(),
	}
}

// OnEvent registers a handler for training events.
func (p *Pipeline) OnEvent(fn func(trainer.Event)) { p.onEvent = fn }

// Renderer returns the report renderer.
func (p *Pipeline) Renderer() *Renderer { return p.renderer }

// OpenEmbeddings opens (building if needed) the configured embedding cache.
func (p *Pipeline) OpenEmbeddings() (*embedding.Store, error) {
	if p.store != nil {
		return p.store, nil
	}
	ec := p.config.Embedding
	s, err := embedding.Load(ec.Source, ec.CacheDir, ec.VocabSize, ec.Dim,
		embedding.WithUnknownWord(ec.UnknownWord),
		embedding.WithLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("open embeddings: %w", err)
	}
	p.store = s
	return s, nil
}

// Train fits a new model on the training file, validating on valPath when
// it is not empty, and checkpoints it.
func (p *Pipeline) Train(ctx context.Context, trainPath, valPath string) (*model.Report, error) {
	if err := p.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := p.closeSession(); err != nil {
		return nil, err
	}

	trainClaims, err := dataset.ReadJSONL(trainPath)
	if err != nil {
		return nil, err
	}
	var valClaims []model.Claim
	if valPath != "" {
		if valClaims, err = dataset.ReadJSONL(valPath); err != nil {
			return nil, err
		}
	}

	tokens, err := dataset.Tokens(trainClaims)
	if err != nil {
		return nil, err
	}
	vocab := dataset.NewVocabulary(tokens)

	store, err := p.OpenEmbeddings()
	if err != nil {
		return nil, err
	}
	p.logger.Info("vocabulary built",
		"ids", vocab.Size(),
		"coverage", fmt.Sprintf("%.1f%%", 100*vocab.Coverage(store.IsKnown)))

	enc := dataset.NewEncoder(vocab, p.config.Data, p.config.Model.NOutputs)
	train, err := enc.EncodeAll(trainClaims)
	if err != nil {
		return nil, fmt.Errorf("encode training set: %w", err)
	}
	val, err := enc.EncodeAll(valClaims)
	if err != nil {
		return nil, fmt.Errorf("encode validation set: %w", err)
	}

	tc := p.config.Training
	net, err := esim.NewNetwork(p.config.Model, vocab.EmbeddingMatrix(store), p.config.Embedding.Trainable, tc.Seed)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	session, err := esim.NewSession(net, tc, p.config.Runtime, p.logger)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	p.session, p.vocab, p.data, p.classes = session, vocab, p.config.Data, p.config.Model.NOutputs

	runID := uuid.NewString()
	ckpt := checkpoint.NewStore(tc.Checkpoint, checkpoint.Meta{
		RunID:        runID,
		Labels:       model.Labels(p.config.Model.NOutputs),
		VocabSize:    vocab.Size(),
		EmbeddingDim: store.Dim(),
		Model:        p.config.Model,
		Data:         p.config.Data,
	}, vocab)

	opts := trainer.OptionsFromConfig(p.config)
	opts.RunID = runID
	opts.Logger = p.logger
	opts.OnEvent = p.onEvent
	p.trainer = trainer.New(session, ckpt, opts)

	p.logger.Info("training",
		"train", len(train),
		"validation", len(val),
		"parameters", session.ParamCount(),
		"workers", session.Workers(),
		"checkpoint", tc.Checkpoint)

	report, err := p.trainer.Fit(ctx, train, val)
	if report != nil {
		report.Checkpoint = tc.Checkpoint
		report.Parameters = session.ParamCount()
		report.Config = p.config
	}
	if err != nil {
		return report, fmt.Errorf("train: %w", err)
	}
	return report, nil
}

// Prediction is the result of Predict.
type Prediction struct {
	Verdicts   []model.Verdict
	Evaluation *trainer.Evaluation
	Labels     []string // class names, indexed like the probabilities
	Output     string // predictions matrix written next to the checkpoint
}

// Predict classifies every claim of inputPath. The model trained by the
// last Train call is used when there is one; otherwise the configured
// checkpoint is restored.
func (p *Pipeline) Predict(ctx context.Context, inputPath string) (*Prediction, error) {
	claims, err := dataset.ReadJSONL(inputPath)
	if err != nil {
		return nil, err
	}
	if p.trainer == nil {
		if err := p.restore(); err != nil {
			return nil, err
		}
	}

	examples, err := dataset.NewEncoder(p.vocab, p.data, p.classes).EncodeAll(claims)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	start := time.Now()
	ev, err := p.trainer.Predict(ctx, examples)
	if err != nil {
		return nil, err
	}
	p.logger.Info("predicted", "claims", len(examples), "elapsed", time.Since(start).Round(time.Millisecond))

	out := &Prediction{
		Verdicts:   make([]model.Verdict, len(examples)),
		Evaluation: ev,
		Labels:     model.Labels(p.classes),
		Output:     checkpoint.PredictionsPath(p.config.Training.Checkpoint),
	}
	for i, ex := range examples {
		out.Verdicts[i] = verdict(ex, ev.Predictions[i])
	}
	return out, nil
}

// restore rebuilds the network from the checkpoint metadata. The embedding
// matrix comes from the checkpoint, so the embedding cache is not needed.
func (p *Pipeline) restore() error {
	prefix := p.config.Training.Checkpoint
	c, err := checkpoint.Load(prefix)
	if err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}
	if err := p.closeSession(); err != nil {
		return err
	}

	tc := p.config.Training
	emb := mat.NewDense(c.Meta.VocabSize, c.Meta.EmbeddingDim, nil)
	net, err := esim.NewNetwork(c.Meta.Model, emb, false, tc.Seed)
	if err != nil {
		return fmt.Errorf("build network from checkpoint: %w", err)
	}
	session, err := esim.NewSession(net, tc, p.config.Runtime, p.logger)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if err := session.Restore(c.Params); err != nil {
		_ = session.Close()
		return fmt.Errorf("restore checkpoint: %w", errors.Join(checkpoint.ErrIncompatible, err))
	}

	opts := trainer.OptionsFromConfig(p.config)
	opts.Classes = c.Meta.Model.NOutputs
	opts.Labels = model.Labels(c.Meta.Model.NOutputs)
	opts.HMax, opts.SMax = c.Meta.Data.HMaxLength, c.Meta.Data.SMaxLength
	opts.Logger = p.logger
	opts.OnEvent = p.onEvent

	p.session, p.vocab, p.data, p.classes = session, c.Vocab, c.Meta.Data, c.Meta.Model.NOutputs
	p.trainer = trainer.New(session, checkpoint.NewStore(prefix, c.Meta, c.Vocab), opts)
	p.trainer.MarkLoaded()
	p.logger.Info("checkpoint restored", "prefix", prefix, "run_id", c.Meta.RunID, "epoch", c.Meta.Epoch)
	return nil
}

func verdict(ex dataset.Example, pred model.Prediction) model.Verdict {
	v := model.Verdict{
		ID:            ex.ID,
		Claim:         ex.ClaimText,
		Probabilities: pred.Probabilities,
		Label:         model.Label(nn.ArgMax(pred.Probabilities)).String(),
	}
	if ex.Label >= 0 {
		v.Gold = model.Label(ex.Label).String()
	}
	for s, text := range ex.Evidence {
		w := 0.0
		if s < len(pred.Weights) {
			w = pred.Weights[s]
		}
		v.Evidence = append(v.Evidence, model.Scored{Text: text, Weight: w})
	}
	return v
}

func (p *Pipeline) closeSession() error {
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session, p.trainer = nil, nil
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// Close releases the session and the embedding store.
func (p *Pipeline) Close() error {
	err := p.closeSession()
	if p.store != nil {
		err = errors.Join(err, p.store.Close())
		p.store = nil
	}
	return err
}

// RenderReport renders the report to the specified outputs
func (p *Pipeline) RenderReport(w io.Writer, report *model.Report, jsonPath, mdPath string, verbose bool) error {
	if jsonPath != "" {
		if err := p.renderer.RenderJSON(report, jsonPath); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Fprintf(w, "✓ Wrote JSON: %s\n", jsonPath)
		}
	}

	if mdPath != "" {
		if err := p.renderer.RenderMarkdown(report, mdPath); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(w, "✓ Wrote Markdown: %s\n", mdPath)
		}
	}

	p.renderer.RenderSummary(w, report)
	return nil
}
