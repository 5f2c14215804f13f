package nn

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Activation is an element-wise nonlinearity with its derivative.
// The derivative receives both the input x and the output y = f(x).
type Activation struct {
	Name string
	f    func(x float64) float64
	df   func(x, y float64) float64
}

var (
	Identity = Activation{
		Name: "identity",
		f:    func(x float64) float64 { return x },
		df:   func(_, _ float64) float64 { return 1 },
	}
	ReLU = Activation{
		Name: "relu",
		f:    func(x float64) float64 { return math.Max(0, x) },
		df: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	}
	Tanh = Activation{
		Name: "tanh",
		f:    math.Tanh,
		df:   func(_, y float64) float64 { return 1 - y*y },
	}
	Sigmoid = Activation{
		Name: "sigmoid",
		f:    sigmoid,
		df:   func(_, y float64) float64 { return y * (1 - y) },
	}
	ELU = Activation{
		Name: "elu",
		f: func(x float64) float64 {
			if x > 0 {
				return x
			}
			return math.Expm1(x)
		},
		df: func(x, y float64) float64 {
			if x > 0 {
				return 1
			}
			return y + 1
		},
	}
)

// ActivationByName resolves the configured activation name.
func ActivationByName(name string) (Activation, error) {
	switch strings.ToLower(name) {
	case "relu":
		return ReLU, nil
	case "tanh":
		return Tanh, nil
	case "sigmoid":
		return Sigmoid, nil
	case "elu":
		return ELU, nil
	case "identity", "linear", "":
		return Identity, nil
	default:
		return Activation{}, fmt.Errorf("unknown activation %q (supported: relu, tanh, sigmoid, elu, identity)", name)
	}
}

// Apply returns f applied to every element of x.
func (a Activation) Apply(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return a.f(v) }, x)
	return out
}

// Backward returns dy scaled by the derivative evaluated at (x, y).
func (a Activation) Backward(x, y, dy *mat.Dense) *mat.Dense {
	r, c := dy.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return v * a.df(x.At(i, j), y.At(i, j))
	}, dy)
	return out
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
