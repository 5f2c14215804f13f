package esim

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/nn"
)

// Encoder is a stacked bidirectional LSTM. Each layer concatenates the
// forward and backward states, so the output width is 2·Hidden.
type Encoder struct {
	fw      []*nn.LSTM
	bw      []*nn.LSTM
	In      int
	Hidden  int
	Dropout float64
}

// NewEncoder registers layers×2 LSTM cells under name.
func NewEncoder(ps *nn.ParamSet, name string, in, hidden, layers int, dropout float64) *Encoder {
	e := &Encoder{In: in, Hidden: hidden, Dropout: dropout}
	width := in
	for l := 0; l < layers; l++ {
		e.fw = append(e.fw, nn.NewLSTM(ps, fmt.Sprintf("%s/fw%d", name, l), width, hidden))
		e.bw = append(e.bw, nn.NewLSTM(ps, fmt.Sprintf("%s/bw%d", name, l), width, hidden))
		width = 2 * hidden
	}
	return e
}

// Width returns the output width.
func (e *Encoder) Width() int { return 2 * e.Hidden }

type encoderLayer struct {
	inMask  *mat.Dense
	fwMask  *mat.Dense
	bwMask  *mat.Dense
	fwCache *nn.LSTMCache
	bwCache *nn.LSTMCache
}

// EncoderCache holds one Forward call.
type EncoderCache struct {
	layers []encoderLayer
	length int
	T      int
	// FinalFW and FinalBW are the last forward state and the first backward
	// state of the top layer before output dropout; zero for an empty sequence.
	FinalFW []float64
	FinalBW []float64
}

// Forward encodes the first length rows of x (T×In). Rows at or beyond
// length of the output are zero. A non-nil rng enables dropout on the input
// and output of every cell.
func (e *Encoder) Forward(x *mat.Dense, length int, rng *rand.Rand) (*mat.Dense, *EncoderCache) {
	T, _ := x.Dims()
	if length > T {
		length = T
	}
	c := &EncoderCache{layers: make([]encoderLayer, len(e.fw)), length: length, T: T}
	h := x
	var topF, topB *mat.Dense
	for l := range e.fw {
		_, width := h.Dims()
		lc := encoderLayer{
			inMask: nn.DropoutMask(rng, T, width, e.Dropout),
			fwMask: nn.DropoutMask(rng, T, e.Hidden, e.Dropout),
			bwMask: nn.DropoutMask(rng, T, e.Hidden, e.Dropout),
		}
		in := nn.ApplyMask(h, lc.inMask)

		var hf, hbRev *mat.Dense
		hf, lc.fwCache = e.fw[l].Forward(in, length)
		hbRev, lc.bwCache = e.bw[l].Forward(reverseRows(in, length), length)
		hb := reverseRows(hbRev, length)

		h = hcat(nn.ApplyMask(hf, lc.fwMask), nn.ApplyMask(hb, lc.bwMask))
		c.layers[l] = lc
		topF, topB = hf, hb
	}

	c.FinalFW = make([]float64, e.Hidden)
	c.FinalBW = make([]float64, e.Hidden)
	if length > 0 {
		copy(c.FinalFW, topF.RawRowView(length-1))
		copy(c.FinalBW, topB.RawRowView(0))
	}
	return h, c
}

// Backward propagates dOut (T×2·Hidden) through every layer, accumulates the
// cell gradients into g and returns dL/dx.
func (e *Encoder) Backward(c *EncoderCache, dOut *mat.Dense, g *nn.Grads) *mat.Dense {
	d := dOut
	for l := len(e.fw) - 1; l >= 0; l-- {
		lc := c.layers[l]
		dhf, dhb := hsplit(d, e.Hidden)
		dhf = nn.ApplyMask(dhf, lc.fwMask)
		dhb = nn.ApplyMask(dhb, lc.bwMask)

		dinF := e.fw[l].Backward(lc.fwCache, dhf, g)
		dinB := reverseRows(e.bw[l].Backward(lc.bwCache, reverseRows(dhb, c.length), g), c.length)
		dinF.Add(dinF, dinB)
		d = nn.ApplyMask(dinF, lc.inMask)
	}
	return d
}
