package esim

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/nn"
)

// Classifier maps the aggregated evidence feature to class logits through a
// stack of hidden dense layers.
type Classifier struct {
	hidden  []*nn.Dense
	out     *nn.Dense
	dropout float64
}

// NewClassifier registers an in→sizes...→classes network under name.
func NewClassifier(ps *nn.ParamSet, name string, in int, sizes []int, classes int, act nn.Activation, init nn.Initializer, dropout float64) *Classifier {
	c := &Classifier{dropout: dropout}
	width := in
	for i, n := range sizes {
		c.hidden = append(c.hidden, nn.NewDense(ps, fmt.Sprintf("%s/hidden%d", name, i), width, n, act, init))
		width = n
	}
	c.out = nn.NewDense(ps, name+"/logits", width, classes, nn.Identity, init)
	return c
}

type classifierCache struct {
	masks  []*mat.Dense
	hidden []*nn.DenseCache
	out    *nn.DenseCache
}

// forward returns the logits of x. A non-nil rng applies dropout before
// every hidden layer.
func (c *Classifier) forward(x []float64, rng *rand.Rand) ([]float64, *classifierCache) {
	cc := &classifierCache{}
	h := nn.Row(x)
	for _, layer := range c.hidden {
		_, width := h.Dims()
		mask := nn.DropoutMask(rng, 1, width, c.dropout)
		var dc *nn.DenseCache
		h, dc = layer.Forward(nn.ApplyMask(h, mask))
		cc.masks = append(cc.masks, mask)
		cc.hidden = append(cc.hidden, dc)
	}
	logits, oc := c.out.Forward(h)
	cc.out = oc
	return logits.RawRowView(0), cc
}

func (c *Classifier) backward(cc *classifierCache, dLogits []float64, g *nn.Grads) []float64 {
	d := c.out.Backward(cc.out, nn.Row(dLogits), g)
	for i := len(c.hidden) - 1; i >= 0; i-- {
		d = c.hidden[i].Backward(cc.hidden[i], d, g)
		d = nn.ApplyMask(d, cc.masks[i])
	}
	return d.RawRowView(0)
}
