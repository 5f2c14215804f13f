package nn

import (
	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer y = act(x·W + b).
type Dense struct {
	W   *Param
	B   *Param
	Act Activation
}

// DenseCache keeps what Backward needs from one Forward call.
type DenseCache struct {
	X   *mat.Dense
	Pre *mat.Dense
	Out *mat.Dense
}

// NewDense registers the weights of an in→out layer under name.
func NewDense(ps *ParamSet, name string, in, out int, act Activation, init Initializer) *Dense {
	if init == nil {
		init = GlorotUniform{}
	}
	return &Dense{
		W:   ps.Add(name+"/kernel", in, out, init, true),
		B:   ps.Add(name+"/bias", 1, out, Zeros{}, true),
		Act: act,
	}
}

// Forward applies the layer to every row of x.
func (d *Dense) Forward(x *mat.Dense) (*mat.Dense, *DenseCache) {
	n, _ := x.Dims()
	_, out := d.W.Value.Dims()
	pre := mat.NewDense(n, out, nil)
	pre.Mul(x, d.W.Value)
	bias := d.B.Value.RawRowView(0)
	for i := 0; i < n; i++ {
		row := pre.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	y := d.Act.Apply(pre)
	return y, &DenseCache{X: x, Pre: pre, Out: y}
}

// Backward accumulates dW and db into g and returns dL/dx.
func (d *Dense) Backward(c *DenseCache, dy *mat.Dense, g *Grads) *mat.Dense {
	dpre := d.Act.Backward(c.Pre, c.Out, dy)

	var dw mat.Dense
	dw.Mul(c.X.T(), dpre)
	gw := g.Of(d.W)
	gw.Add(gw, &dw)

	gb := g.Of(d.B).RawRowView(0)
	n, _ := dpre.Dims()
	for i := 0; i < n; i++ {
		row := dpre.RawRowView(i)
		for j := range row {
			gb[j] += row[j]
		}
	}

	in, _ := d.W.Value.Dims()
	dx := mat.NewDense(n, in, nil)
	dx.Mul(dpre, d.W.Value.T())
	return dx
}

// Row wraps a vector as a 1×n matrix without copying.
func Row(v []float64) *mat.Dense {
	return mat.NewDense(1, len(v), v)
}
