package nn

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Grads accumulates gradients for one backward pass.
// Dense gradients mirror the parameter shape; row gradients are kept sparse
// for lookup tables such as the word embedding. Not safe for concurrent use.
type Grads struct {
	dense map[*Param]*mat.Dense
	rows  map[*Param]map[int][]float64
}

// NewGrads returns an empty gradient buffer.
func NewGrads() *Grads {
	return &Grads{
		dense: make(map[*Param]*mat.Dense),
		rows:  make(map[*Param]map[int][]float64),
	}
}

// Of returns the dense gradient of p, allocating zeros on first use.
func (g *Grads) Of(p *Param) *mat.Dense {
	d, ok := g.dense[p]
	if !ok {
		r, c := p.Value.Dims()
		d = mat.NewDense(r, c, nil)
		g.dense[p] = d
	}
	return d
}

// AddRow adds v to row i of the sparse gradient of p.
func (g *Grads) AddRow(p *Param, i int, v []float64) {
	rows, ok := g.rows[p]
	if !ok {
		rows = make(map[int][]float64)
		g.rows[p] = rows
	}
	acc, ok := rows[i]
	if !ok {
		acc = make([]float64, len(v))
		rows[i] = acc
	}
	floats.Add(acc, v)
}

// Merge adds every gradient of o into g.
func (g *Grads) Merge(o *Grads) {
	for p, d := range o.dense {
		g.Of(p).Add(g.Of(p), d)
	}
	for p, rows := range o.rows {
		for i, v := range rows {
			g.AddRow(p, i, v)
		}
	}
}

// Scale multiplies every gradient by f.
func (g *Grads) Scale(f float64) {
	for _, d := range g.dense {
		d.Scale(f, d)
	}
	for _, rows := range g.rows {
		for _, v := range rows {
			floats.Scale(f, v)
		}
	}
}

// Dense returns the dense gradient of p if one was accumulated.
func (g *Grads) Dense(p *Param) (*mat.Dense, bool) {
	d, ok := g.dense[p]
	return d, ok
}

// Rows returns the touched row indices of p in ascending order with their gradients.
func (g *Grads) Rows(p *Param) ([]int, map[int][]float64) {
	rows := g.rows[p]
	idx := make([]int, 0, len(rows))
	for i := range rows {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx, rows
}

// Norm returns the global L2 norm of all accumulated gradients.
func (g *Grads) Norm() float64 {
	sum := 0.0
	for _, d := range g.dense {
		n := mat.Norm(d, 2)
		sum += n * n
	}
	for _, rows := range g.rows {
		for _, v := range rows {
			n := floats.Norm(v, 2)
			sum += n * n
		}
	}
	return math.Sqrt(sum)
}
