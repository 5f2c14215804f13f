package esim

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/nn"
)

// pairBlock is one ESIM pass over a claim and a sentence: input encoding,
// cross attention, local inference enhancement, composition and pooling.
// The claim is encoded once per example and reused for every sentence.
type pairBlock struct {
	encClaim, encSent     *Encoder
	inferClaim, inferSent *Encoder
}

func newPairBlock(ps *nn.ParamSet, name string, in, encHidden, inferHidden, layers int, dropout float64, shared bool) *pairBlock {
	b := &pairBlock{}
	if shared {
		b.encClaim = NewEncoder(ps, name+"/encode", in, encHidden, layers, dropout)
		b.encSent = b.encClaim
		b.inferClaim = NewEncoder(ps, name+"/infer", 8*encHidden, inferHidden, layers, dropout)
		b.inferSent = b.inferClaim
		return b
	}
	b.encClaim = NewEncoder(ps, name+"/encode_claim", in, encHidden, layers, dropout)
	b.encSent = NewEncoder(ps, name+"/encode_sentence", in, encHidden, layers, dropout)
	b.inferClaim = NewEncoder(ps, name+"/infer_claim", 8*encHidden, inferHidden, layers, dropout)
	b.inferSent = NewEncoder(ps, name+"/infer_sentence", 8*encHidden, inferHidden, layers, dropout)
	return b
}

// featureSize is the width of pairResult.Feature.
func (b *pairBlock) featureSize() int { return 4 * b.inferClaim.Width() }

// encoded is an input sequence run through an encoder.
type encoded struct {
	H      *mat.Dense
	length int
	cache  *EncoderCache
}

func (b *pairBlock) encodeClaim(x *mat.Dense, length int, rng *rand.Rand) *encoded {
	h, c := b.encClaim.Forward(x, length, rng)
	return &encoded{H: h, length: length, cache: c}
}

func (b *pairBlock) encodeSent(x *mat.Dense, length int, rng *rand.Rand) *encoded {
	h, c := b.encSent.Forward(x, length, rng)
	return &encoded{H: h, length: length, cache: c}
}

// pairResult holds the pooled outputs of one claim/sentence pair.
type pairResult struct {
	// Feature is [mean(claim), max(claim), mean(sentence), max(sentence)]
	// over the composed sequences.
	Feature []float64
	// SumClaim and SumSent are the column sums of the composed sequences.
	SumClaim []float64
	SumSent  []float64

	claim, sent *encoded
	align       *Alignment
	liClaim     *mat.Dense
	liSent      *mat.Dense
	vClaim      *mat.Dense
	vSent       *mat.Dense
	cClaim      *EncoderCache
	cSent       *EncoderCache
	argClaim    []int
	argSent     []int
}

func (b *pairBlock) pair(claim, sent *encoded, rng *rand.Rand) *pairResult {
	r := &pairResult{claim: claim, sent: sent}
	r.align = Attend(claim.H, sent.H, claim.length, sent.length)
	r.liClaim = nn.LocalInference(claim.H, r.align.ClaimAttended)
	r.liSent = nn.LocalInference(sent.H, r.align.SentAttended)

	r.vClaim, r.cClaim = b.inferClaim.Forward(r.liClaim, claim.length, rng)
	r.vSent, r.cSent = b.inferSent.Forward(r.liSent, sent.length, rng)

	var maxClaim, maxSent []float64
	maxClaim, r.argClaim = nn.MaskedMax(r.vClaim, claim.length, nn.MaxFloor)
	maxSent, r.argSent = nn.MaskedMax(r.vSent, sent.length, nn.MaxFloor)
	r.Feature = nn.Concat(
		nn.MeanPool(r.vClaim, claim.length), maxClaim,
		nn.MeanPool(r.vSent, sent.length), maxSent,
	)
	r.SumClaim = colSum(r.vClaim, claim.length)
	r.SumSent = colSum(r.vSent, sent.length)
	return r
}

// backward propagates gradients of Feature and of the sums (either may be
// nil) and returns the gradients of the encoded claim and sentence.
func (b *pairBlock) backward(r *pairResult, dFeature, dSumClaim, dSumSent []float64, g *nn.Grads) (dClaimH, dSentH *mat.Dense) {
	w := b.inferClaim.Width()
	tc, _ := r.vClaim.Dims()
	ts, _ := r.vSent.Dims()
	lc, ls := r.claim.length, r.sent.length

	dvClaim := mat.NewDense(tc, w, nil)
	dvSent := mat.NewDense(ts, w, nil)
	if dFeature != nil {
		parts := nn.Split(dFeature, w, w, w, w)
		dvClaim.Add(dvClaim, nn.MeanPoolBackward(parts[0], tc, lc))
		dvClaim.Add(dvClaim, nn.MaskedMaxBackward(parts[1], r.argClaim, tc))
		dvSent.Add(dvSent, nn.MeanPoolBackward(parts[2], ts, ls))
		dvSent.Add(dvSent, nn.MaskedMaxBackward(parts[3], r.argSent, ts))
	}
	if dSumClaim != nil {
		dvClaim.Add(dvClaim, colSumBackward(dSumClaim, tc, lc))
	}
	if dSumSent != nil {
		dvSent.Add(dvSent, colSumBackward(dSumSent, ts, ls))
	}

	dliClaim := b.inferClaim.Backward(r.cClaim, dvClaim, g)
	dliSent := b.inferSent.Backward(r.cSent, dvSent, g)

	dClaimH, dClaimAtt := nn.LocalInferenceBackward(r.claim.H, r.align.ClaimAttended, dliClaim)
	dSentH, dSentAtt := nn.LocalInferenceBackward(r.sent.H, r.align.SentAttended, dliSent)

	dc, ds := r.align.Backward(dClaimAtt, dSentAtt)
	dClaimH.Add(dClaimH, dc)
	dSentH.Add(dSentH, ds)
	return dClaimH, dSentH
}
