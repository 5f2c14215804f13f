// Package esim implements the two-stage evidence-selection ESIM verifier.
//
// For every example the selection stage runs a claim/sentence ESIM pass per
// evidence sentence, scores it, and keeps the sentences whose probability
// clears the threshold. The verification stage runs a second ESIM pass over
// the kept sentences only, pools the per-sentence features weighted by the
// selection probabilities and classifies the result.
//
// Forward and backward passes are written out per layer on gonum matrices;
// a Network is safe for concurrent forward/backward calls as long as every
// goroutine uses its own gradient buffer and RNG.
package esim

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/dataset"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/nn"
)

// EmbeddingParam is the name of the word embedding parameter.
const EmbeddingParam = "embedding"

// Network holds every parameter of the model.
type Network struct {
	cfg        model.NetworkConfig
	params     *nn.ParamSet
	embedding  *nn.Param
	selector   *Selector
	verifier   *pairBlock
	classifier *Classifier
}

// NewNetwork builds a network over the given embedding matrix (one row per
// dataset vocabulary id). Weights are initialised from seed.
func NewNetwork(cfg model.NetworkConfig, embeddings *mat.Dense, trainable bool, seed int64) (*Network, error) {
	act, err := nn.ActivationByName(cfg.Activation)
	if err != nil {
		return nil, err
	}
	initializer, err := nn.InitializerByName(cfg.Initializer)
	if err != nil {
		return nil, err
	}
	if len(cfg.NumNeurons) < 2 {
		return nil, fmt.Errorf("num_neurons needs at least 2 entries, got %v", cfg.NumNeurons)
	}
	layers := cfg.LSTMLayers
	if layers < 1 {
		layers = 1
	}

	ps := nn.NewParamSet(seed)
	_, dim := embeddings.Dims()
	n := &Network{
		cfg:       cfg,
		params:    ps,
		embedding: ps.AddValue(EmbeddingParam, embeddings, trainable),
	}

	n.selector, err = NewSelector(ps, "select", SelectorConfig{
		Strategy:       cfg.Selector,
		Threshold:      cfg.SentenceThreshold,
		In:             dim,
		Units:          cfg.NumUnits,
		Layers:         layers,
		Shared:         cfg.SharedRNN,
		Dropout:        cfg.Dropout,
		Hidden:         cfg.SelectorHidden,
		ProjectionSize: cfg.ProjectionSize,
	})
	if err != nil {
		return nil, err
	}

	n.verifier = newPairBlock(ps, "esim", dim, cfg.NumNeurons[0], cfg.NumNeurons[1], layers, cfg.Dropout, true)
	n.classifier = NewClassifier(ps, "classify", 2*n.verifier.featureSize(), cfg.HiddenLayers(), cfg.NOutputs, act, initializer, cfg.Dropout)
	return n, nil
}

// Params returns the parameter set.
func (n *Network) Params() *nn.ParamSet { return n.params }

// Config returns the network configuration.
func (n *Network) Config() model.NetworkConfig { return n.cfg }

// exampleResult is the outcome of one example.
type exampleResult struct {
	Loss    float64
	Probs   []float64
	Weights []float64
	Pred    int
	Label   int
}

// run evaluates example k of b. A non-nil rng enables dropout; a non-nil g
// receives the gradients of the (class weighted) loss.
func (n *Network) run(b *dataset.Batch, k int, rng *rand.Rand, g *nn.Grads) exampleResult {
	numSents := b.NumSents[k]
	if numSents > b.S {
		numSents = b.S
	}
	claimIDs, claimLen := b.Claims[k], b.ClaimLens[k]
	claimX := n.embed(claimIDs, claimLen)
	sentX := make([]*mat.Dense, numSents)
	for s := 0; s < numSents; s++ {
		sentX[s] = n.embed(b.Sents[k][s], b.SentLens[k][s])
	}

	sel := n.selector.forward(claimX, claimLen, sentX, b.SentLens[k], numSents, b.S, rng)

	claim := n.verifier.encodeClaim(claimX, claimLen, rng)
	var (
		kept     []int
		pairs    []*pairResult
		features [][]float64
		weights  []float64
	)
	for s := 0; s < numSents; s++ {
		if sel.Weights[s] == 0 {
			continue
		}
		pr := n.verifier.pair(claim, n.verifier.encodeSent(sentX[s], b.SentLens[k][s], rng), rng)
		kept = append(kept, s)
		pairs = append(pairs, pr)
		features = append(features, pr.Feature)
		weights = append(weights, sel.Weights[s])
	}
	width := n.verifier.featureSize()
	agg, arg := aggregate(features, weights, width)

	logits, cc := n.classifier.forward(agg, rng)
	y := b.Labels[k]
	loss, probs, dLogits := nn.SoftmaxCrossEntropy(logits, y, n.cfg.ClassWeight(y))
	res := exampleResult{Loss: loss, Probs: probs, Weights: sel.Weights, Pred: nn.ArgMax(probs), Label: y}
	if g == nil || y < 0 {
		return res
	}

	dAgg := n.classifier.backward(cc, dLogits, g)
	dFeatures, dKept := aggregateBackward(features, weights, arg, dAgg)

	dSentX := make([]*mat.Dense, numSents)
	var dClaimH *mat.Dense
	for i, pr := range pairs {
		dc, ds := n.verifier.backward(pr, dFeatures[i], nil, nil, g)
		dClaimH = addTo(dClaimH, dc)
		dSentX[kept[i]] = n.verifier.encSent.Backward(pr.sent.cache, ds, g)
	}
	var dClaimX *mat.Dense
	if dClaimH != nil {
		dClaimX = n.verifier.encClaim.Backward(claim.cache, dClaimH, g)
	}

	dWeights := make([]float64, numSents)
	for i, s := range kept {
		dWeights[s] = dKept[i]
	}
	selClaim, selSents := n.selector.backward(sel, dWeights, g)
	dClaimX = addTo(dClaimX, selClaim)
	for s := range dSentX {
		dSentX[s] = addTo(dSentX[s], selSents[s])
	}

	if n.embedding.Trainable {
		n.embedBackward(claimIDs, claimLen, dClaimX, g)
		for s, d := range dSentX {
			n.embedBackward(b.Sents[k][s], b.SentLens[k][s], d, g)
		}
	}
	return res
}

// embed looks up the first length ids; the result has max(1, length) rows.
func (n *Network) embed(ids []int, length int) *mat.Dense {
	_, dim := n.embedding.Value.Dims()
	x := mat.NewDense(seqLen(length), dim, nil)
	for t := 0; t < length; t++ {
		copy(x.RawRowView(t), n.embedding.Value.RawRowView(ids[t]))
	}
	return x
}

func (n *Network) embedBackward(ids []int, length int, d *mat.Dense, g *nn.Grads) {
	if d == nil {
		return
	}
	for t := 0; t < length; t++ {
		if ids[t] == dataset.PadID {
			continue
		}
		g.AddRow(n.embedding, ids[t], d.RawRowView(t))
	}
}
