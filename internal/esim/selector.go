package esim

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/nn"
)

// Selector scoring strategies.
const (
	SelectMLP        = "mlp"
	SelectProjection = "projection"
	SelectCosine     = "cosine"
)

// Selector scores every evidence sentence against the claim with its own
// ESIM pass, normalizes the scores over the real sentences and keeps a
// sentence only when its probability is above Threshold.
type Selector struct {
	Strategy  string
	Threshold float64
	block     *pairBlock
	dropout   float64

	hidden *nn.Dense // mlp
	score  *nn.Dense // mlp
	proj   *nn.Dense // projection
}

// SelectorConfig sizes a Selector.
type SelectorConfig struct {
	Strategy       string
	Threshold      float64
	In             int
	Units          int
	Layers         int
	Shared         bool
	Dropout        float64
	Hidden         int
	ProjectionSize int
}

// NewSelector registers the selection network under name.
func NewSelector(ps *nn.ParamSet, name string, cfg SelectorConfig) (*Selector, error) {
	s := &Selector{
		Strategy:  strings.ToLower(cfg.Strategy),
		Threshold: cfg.Threshold,
		block:     newPairBlock(ps, name, cfg.In, cfg.Units, cfg.Units, cfg.Layers, cfg.Dropout, cfg.Shared),
		dropout:   cfg.Dropout,
	}
	switch s.Strategy {
	case SelectMLP:
		s.hidden = nn.NewDense(ps, name+"/mlp/hidden", s.block.featureSize(), cfg.Hidden, nn.Tanh, nil)
		s.score = nn.NewDense(ps, name+"/mlp/score", cfg.Hidden, 1, nn.Identity, nil)
	case SelectProjection:
		s.proj = nn.NewDense(ps, name+"/projection", s.block.inferClaim.Width(), cfg.ProjectionSize, nn.ReLU, nil)
	case SelectCosine:
	default:
		return nil, fmt.Errorf("unknown selector %q", cfg.Strategy)
	}
	return s, nil
}

type sentenceScore struct {
	pair   *pairResult
	sent   *encoded
	h1     *nn.DenseCache
	mask   *mat.Dense
	h2     *nn.DenseCache
	pClaim *nn.DenseCache
	pSent  *nn.DenseCache
	uClaim []float64
	uSent  []float64
}

// selection is the result of Selector.forward for one example.
type selection struct {
	Scores  []float64 // -Inf beyond the true sentence count
	Probs   []float64
	Weights []float64 // Probs where above the threshold, else 0
	n       int
	claim   *encoded
	scored  []sentenceScore
}

// forward scores the first n sentences. S is the padded sentence count;
// positions n..S-1 are masked out and get zero probability and weight.
func (s *Selector) forward(claimX *mat.Dense, claimLen int, sentX []*mat.Dense, sentLens []int, n, S int, rng *rand.Rand) *selection {
	sel := &selection{
		Scores:  make([]float64, S),
		Weights: make([]float64, S),
		n:       n,
		claim:   s.block.encodeClaim(claimX, claimLen, rng),
		scored:  make([]sentenceScore, n),
	}
	for i := range sel.Scores {
		sel.Scores[i] = math.Inf(-1)
	}

	for i := 0; i < n; i++ {
		sc := sentenceScore{sent: s.block.encodeSent(sentX[i], sentLens[i], rng)}
		sc.pair = s.block.pair(sel.claim, sc.sent, rng)

		switch s.Strategy {
		case SelectMLP:
			var h *mat.Dense
			h, sc.h1 = s.hidden.Forward(nn.Row(sc.pair.Feature))
			_, width := h.Dims()
			sc.mask = nn.DropoutMask(rng, 1, width, s.dropout)
			var out *mat.Dense
			out, sc.h2 = s.score.Forward(nn.ApplyMask(h, sc.mask))
			sel.Scores[i] = out.At(0, 0)
		case SelectProjection:
			var uc, us *mat.Dense
			uc, sc.pClaim = s.proj.Forward(nn.Row(sc.pair.SumClaim))
			us, sc.pSent = s.proj.Forward(nn.Row(sc.pair.SumSent))
			sc.uClaim, sc.uSent = uc.RawRowView(0), us.RawRowView(0)
			sel.Scores[i] = nn.Cosine(sc.uClaim, sc.uSent)
		case SelectCosine:
			sel.Scores[i] = nn.Cosine(sc.pair.SumClaim, sc.pair.SumSent)
		}
		sel.scored[i] = sc
	}

	sel.Probs = nn.MaskedSoftmax(sel.Scores, n)
	for i := 0; i < n; i++ {
		if sel.Probs[i] > s.Threshold {
			sel.Weights[i] = sel.Probs[i]
		}
	}
	return sel
}

// backward takes dL/dWeights and returns the gradients of the claim and
// sentence inputs of the selection pass.
func (s *Selector) backward(sel *selection, dWeights []float64, g *nn.Grads) (dClaimX *mat.Dense, dSentX []*mat.Dense) {
	dSentX = make([]*mat.Dense, sel.n)
	if sel.n == 0 {
		return nil, dSentX
	}

	// The gate passes gradient only for kept sentences.
	dProbs := make([]float64, len(sel.Probs))
	for i := 0; i < sel.n; i++ {
		if sel.Weights[i] != 0 {
			dProbs[i] = dWeights[i]
		}
	}
	if floats.Norm(dProbs, 1) == 0 {
		return nil, dSentX
	}
	dScores := nn.SoftmaxBackward(sel.Probs, dProbs)

	var dClaimH *mat.Dense
	for i := 0; i < sel.n; i++ {
		sc := sel.scored[i]
		d := dScores[i]
		var dFeature, dSumClaim, dSumSent []float64
		switch s.Strategy {
		case SelectMLP:
			dh := s.score.Backward(sc.h2, nn.Row([]float64{d}), g)
			dh = nn.ApplyMask(dh, sc.mask)
			dFeature = s.hidden.Backward(sc.h1, dh, g).RawRowView(0)
		case SelectProjection:
			duc, dus := nn.CosineBackward(sc.uClaim, sc.uSent, d)
			dSumClaim = s.proj.Backward(sc.pClaim, nn.Row(duc), g).RawRowView(0)
			dSumSent = s.proj.Backward(sc.pSent, nn.Row(dus), g).RawRowView(0)
		case SelectCosine:
			dSumClaim, dSumSent = nn.CosineBackward(sc.pair.SumClaim, sc.pair.SumSent, d)
		}
		dc, ds := s.block.backward(sc.pair, dFeature, dSumClaim, dSumSent, g)
		dClaimH = addTo(dClaimH, dc)
		dSentX[i] = s.block.encSent.Backward(sc.sent.cache, ds, g)
	}
	dClaimX = s.block.encClaim.Backward(sel.claim.cache, dClaimH, g)
	return dClaimX, dSentX
}

// aggregate pools per-sentence features over the kept sentences:
// [Σ w·f / max(nnz, ε), max over kept of w·f with floor MaxFloor].
// arg records, per column, which kept sentence won the max (-1 for the floor).
func aggregate(features [][]float64, weights []float64, width int) (out []float64, arg []int) {
	mean := make([]float64, width)
	peak := make([]float64, width)
	arg = make([]int, width)
	for j := range peak {
		peak[j] = nn.MaxFloor
		arg[j] = -1
	}
	for i, f := range features {
		w := weights[i]
		for j, x := range f {
			v := w * x
			mean[j] += v
			if v > peak[j] {
				peak[j] = v
				arg[j] = i
			}
		}
	}
	floats.Scale(1/math.Max(float64(len(features)), nn.Epsilon), mean)
	return nn.Concat(mean, peak), arg
}

// aggregateBackward returns the gradients of the features and weights.
func aggregateBackward(features [][]float64, weights []float64, arg []int, d []float64) (dFeatures [][]float64, dWeights []float64) {
	width := len(arg)
	dMean, dMax := d[:width], d[width:]
	inv := 1 / math.Max(float64(len(features)), nn.Epsilon)

	dFeatures = make([][]float64, len(features))
	dWeights = make([]float64, len(features))
	for i, f := range features {
		df := make([]float64, width)
		for j, x := range f {
			df[j] = dMean[j] * weights[i] * inv
			dWeights[i] += dMean[j] * x * inv
		}
		dFeatures[i] = df
	}
	for j, i := range arg {
		if i < 0 {
			continue
		}
		dFeatures[i][j] += dMax[j] * weights[i]
		dWeights[i] += dMax[j] * features[i][j]
	}
	return dFeatures, dWeights
}
