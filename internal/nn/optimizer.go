package nn

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Optimizer applies one update to every trainable parameter that has a gradient.
// Row gradients (embedding lookups) only touch the rows they name.
type Optimizer interface {
	Name() string
	Step(params []*Param, g *Grads)
}

// NewOptimizer returns the optimizer registered under name.
func NewOptimizer(name string, lr float64) (Optimizer, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}
	switch strings.ToLower(name) {
	case "adam":
		return NewAdam(lr), nil
	case "adagrad":
		return NewAdagrad(lr), nil
	case "sgd":
		return &SGD{LR: lr}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q (supported: adam, adagrad, sgd)", name)
	}
}

// SGD is plain gradient descent.
type SGD struct {
	LR float64
}

func (s *SGD) Name() string { return "sgd" }

func (s *SGD) Step(params []*Param, g *Grads) {
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		if d, ok := g.Dense(p); ok {
			p.Value.Add(p.Value, scaled(-s.LR, d))
		}
		idx, rows := g.Rows(p)
		for _, i := range idx {
			w := p.Value.RawRowView(i)
			for j, v := range rows[i] {
				w[j] -= s.LR * v
			}
		}
	}
}

// Adam implements Kingma & Ba with lazy updates for row gradients.
type Adam struct {
	LR, Beta1, Beta2, Eps float64

	t int
	m map[*Param]*mat.Dense
	v map[*Param]*mat.Dense
}

// NewAdam uses the usual defaults β1=0.9, β2=0.999, ε=1e-8.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		m:     make(map[*Param]*mat.Dense),
		v:     make(map[*Param]*mat.Dense),
	}
}

func (a *Adam) Name() string { return "adam" }

func (a *Adam) Step(params []*Param, g *Grads) {
	a.t++
	lr := a.LR * math.Sqrt(1-math.Pow(a.Beta2, float64(a.t))) / (1 - math.Pow(a.Beta1, float64(a.t)))
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		m, v := a.slots(p)
		if d, ok := g.Dense(p); ok {
			r, _ := d.Dims()
			for i := 0; i < r; i++ {
				a.updateRow(p.Value.RawRowView(i), m.RawRowView(i), v.RawRowView(i), d.RawRowView(i), lr)
			}
		}
		idx, rows := g.Rows(p)
		for _, i := range idx {
			a.updateRow(p.Value.RawRowView(i), m.RawRowView(i), v.RawRowView(i), rows[i], lr)
		}
	}
}

func (a *Adam) updateRow(w, m, v, grad []float64, lr float64) {
	for j, gj := range grad {
		m[j] = a.Beta1*m[j] + (1-a.Beta1)*gj
		v[j] = a.Beta2*v[j] + (1-a.Beta2)*gj*gj
		w[j] -= lr * m[j] / (math.Sqrt(v[j]) + a.Eps)
	}
}

func (a *Adam) slots(p *Param) (*mat.Dense, *mat.Dense) {
	m, ok := a.m[p]
	if !ok {
		r, c := p.Value.Dims()
		m = mat.NewDense(r, c, nil)
		a.m[p] = m
		a.v[p] = mat.NewDense(r, c, nil)
	}
	return m, a.v[p]
}

// Adagrad scales each coordinate by its accumulated squared gradient.
type Adagrad struct {
	LR      float64
	Initial float64

	acc map[*Param]*mat.Dense
}

// NewAdagrad starts every accumulator at 0.1.
func NewAdagrad(lr float64) *Adagrad {
	return &Adagrad{LR: lr, Initial: 0.1, acc: make(map[*Param]*mat.Dense)}
}

func (a *Adagrad) Name() string { return "adagrad" }

func (a *Adagrad) Step(params []*Param, g *Grads) {
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		acc, ok := a.acc[p]
		if !ok {
			r, c := p.Value.Dims()
			acc = mat.NewDense(r, c, nil)
			Constant{Value: a.Initial}.Fill(nil, acc)
			a.acc[p] = acc
		}
		if d, ok := g.Dense(p); ok {
			r, _ := d.Dims()
			for i := 0; i < r; i++ {
				a.updateRow(p.Value.RawRowView(i), acc.RawRowView(i), d.RawRowView(i))
			}
		}
		idx, rows := g.Rows(p)
		for _, i := range idx {
			a.updateRow(p.Value.RawRowView(i), acc.RawRowView(i), rows[i])
		}
	}
}

func (a *Adagrad) updateRow(w, acc, grad []float64) {
	for j, gj := range grad {
		acc[j] += gj * gj
		w[j] -= a.LR * gj / math.Sqrt(acc[j])
	}
}

func scaled(f float64, d *mat.Dense) *mat.Dense {
	r, c := d.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(f, d)
	return out
}
