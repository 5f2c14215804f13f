package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LSTM is a single-direction long short-term memory layer.
// Gates follow the classic basic-cell layout [i, j, f, o] with a constant
// bias added to the forget gate.
type LSTM struct {
	Kernel     *Param // (in+hidden) × 4·hidden
	Bias       *Param // 1 × 4·hidden
	In         int
	Hidden     int
	ForgetBias float64
}

// NewLSTM registers an LSTM layer under name.
func NewLSTM(ps *ParamSet, name string, in, hidden int) *LSTM {
	return &LSTM{
		Kernel:     ps.Add(name+"/kernel", in+hidden, 4*hidden, GlorotUniform{}, true),
		Bias:       ps.Add(name+"/bias", 1, 4*hidden, Zeros{}, true),
		In:         in,
		Hidden:     hidden,
		ForgetBias: 1.0,
	}
}

type lstmStep struct {
	z     []float64 // [x_t, h_{t-1}]
	i     []float64
	j     []float64
	f     []float64
	o     []float64
	c     []float64
	cPrev []float64
	tc    []float64
}

// LSTMCache holds the per-step activations of one Forward call.
type LSTMCache struct {
	steps []lstmStep
	T     int
}

// Forward runs the first length rows of x (T×In) and returns the hidden
// states as a T×Hidden matrix; rows at or beyond length stay zero.
func (l *LSTM) Forward(x *mat.Dense, length int) (*mat.Dense, *LSTMCache) {
	T, _ := x.Dims()
	if length > T {
		length = T
	}
	H := l.Hidden
	out := mat.NewDense(T, H, nil)
	cache := &LSTMCache{steps: make([]lstmStep, length), T: T}

	bias := l.Bias.Value.RawRowView(0)
	hPrev := make([]float64, H)
	cPrev := make([]float64, H)
	a := make([]float64, 4*H)
	for t := 0; t < length; t++ {
		z := make([]float64, l.In+H)
		copy(z, x.RawRowView(t))
		copy(z[l.In:], hPrev)

		copy(a, bias)
		for k, zk := range z {
			if zk == 0 {
				continue
			}
			floats.AddScaled(a, zk, l.Kernel.Value.RawRowView(k))
		}

		s := lstmStep{
			z:     z,
			i:     make([]float64, H),
			j:     make([]float64, H),
			f:     make([]float64, H),
			o:     make([]float64, H),
			c:     make([]float64, H),
			cPrev: cPrev,
			tc:    make([]float64, H),
		}
		h := out.RawRowView(t)
		for q := 0; q < H; q++ {
			s.i[q] = sigmoid(a[q])
			s.j[q] = math.Tanh(a[H+q])
			s.f[q] = sigmoid(a[2*H+q] + l.ForgetBias)
			s.o[q] = sigmoid(a[3*H+q])
			s.c[q] = s.f[q]*cPrev[q] + s.i[q]*s.j[q]
			s.tc[q] = math.Tanh(s.c[q])
			h[q] = s.o[q] * s.tc[q]
		}
		cache.steps[t] = s
		hPrev = h
		cPrev = s.c
	}
	return out, cache
}

// Backward runs backpropagation through time for dh (T×Hidden), accumulates
// kernel and bias gradients into g and returns dL/dx (T×In).
func (l *LSTM) Backward(c *LSTMCache, dh *mat.Dense, g *Grads) *mat.Dense {
	H := l.Hidden
	dx := mat.NewDense(c.T, l.In, nil)
	if len(c.steps) == 0 {
		return dx
	}
	gk := g.Of(l.Kernel)
	gb := g.Of(l.Bias).RawRowView(0)

	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	da := make([]float64, 4*H)
	for t := len(c.steps) - 1; t >= 0; t-- {
		s := c.steps[t]
		dhRow := dh.RawRowView(t)
		for q := 0; q < H; q++ {
			dht := dhRow[q] + dhNext[q]
			do := dht * s.tc[q]
			dc := dcNext[q] + dht*s.o[q]*(1-s.tc[q]*s.tc[q])
			di := dc * s.j[q]
			dj := dc * s.i[q]
			df := dc * s.cPrev[q]
			dcNext[q] = dc * s.f[q]

			da[q] = di * s.i[q] * (1 - s.i[q])
			da[H+q] = dj * (1 - s.j[q]*s.j[q])
			da[2*H+q] = df * s.f[q] * (1 - s.f[q])
			da[3*H+q] = do * s.o[q] * (1 - s.o[q])
		}

		floats.Add(gb, da)
		dxRow := dx.RawRowView(t)
		for k, zk := range s.z {
			row := l.Kernel.Value.RawRowView(k)
			dz := floats.Dot(row, da)
			if k < l.In {
				dxRow[k] = dz
			} else {
				dhNext[k-l.In] = dz
			}
			if zk != 0 {
				floats.AddScaled(gk.RawRowView(k), zk, da)
			}
		}
	}
	return dx
}
