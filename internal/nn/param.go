// Package nn holds the numeric building blocks of the model: named
// parameters, gradient buffers, dense and recurrent layers, masked
// pooling and softmax helpers, and optimizers.
//
// Every layer is stateless between calls. Forward returns a cache that the
// matching Backward consumes, so the same layer can be applied many times
// per example and from several goroutines at once.
package nn

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when a snapshot does not fit the parameter set.
var ErrShapeMismatch = errors.New("parameter shape mismatch")

// Param is a named weight matrix.
type Param struct {
	Name      string
	Value     *mat.Dense
	Trainable bool
}

// Rows returns the number of rows of the parameter.
func (p *Param) Rows() int {
	r, _ := p.Value.Dims()
	return r
}

// Cols returns the number of columns of the parameter.
func (p *Param) Cols() int {
	_, c := p.Value.Dims()
	return c
}

// ParamSet owns every parameter of a model in creation order.
type ParamSet struct {
	params []*Param
	byName map[string]*Param
	rng    *rand.Rand
}

// NewParamSet creates an empty set whose initializers draw from a PRNG seeded with seed.
func NewParamSet(seed int64) *ParamSet {
	return &ParamSet{
		byName: make(map[string]*Param),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Add creates a rows×cols parameter filled by init.
// Names must be unique; a duplicate is a programming error and panics.
func (s *ParamSet) Add(name string, rows, cols int, init Initializer, trainable bool) *Param {
	if _, exists := s.byName[name]; exists {
		panic(fmt.Sprintf("nn: duplicate parameter %q", name))
	}
	p := &Param{
		Name:      name,
		Value:     mat.NewDense(rows, cols, nil),
		Trainable: trainable,
	}
	if init != nil {
		init.Fill(s.rng, p.Value)
	}
	s.params = append(s.params, p)
	s.byName[name] = p
	return p
}

// AddValue registers a parameter with a caller supplied value.
func (s *ParamSet) AddValue(name string, value *mat.Dense, trainable bool) *Param {
	if _, exists := s.byName[name]; exists {
		panic(fmt.Sprintf("nn: duplicate parameter %q", name))
	}
	p := &Param{Name: name, Value: value, Trainable: trainable}
	s.params = append(s.params, p)
	s.byName[name] = p
	return p
}

// Get returns the parameter registered under name.
func (s *ParamSet) Get(name string) (*Param, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// All returns the parameters in creation order.
func (s *ParamSet) All() []*Param {
	return s.params
}

// Trainable returns the parameters updated by the optimizer.
func (s *ParamSet) Trainable() []*Param {
	out := make([]*Param, 0, len(s.params))
	for _, p := range s.params {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the total number of scalar weights.
func (s *ParamSet) Count() int {
	n := 0
	for _, p := range s.params {
		r, c := p.Value.Dims()
		n += r * c
	}
	return n
}

// Snapshot is a detached copy of parameter values keyed by name.
type Snapshot map[string]*mat.Dense

// Names returns the snapshot keys in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies every parameter value.
func (s *ParamSet) Snapshot() Snapshot {
	snap := make(Snapshot, len(s.params))
	for _, p := range s.params {
		snap[p.Name] = mat.DenseCopyOf(p.Value)
	}
	return snap
}

// Restore assigns snapshot values to the parameters by name.
// Every parameter must be present with an identical shape.
func (s *ParamSet) Restore(snap Snapshot) error {
	for _, p := range s.params {
		v, ok := snap[p.Name]
		if !ok {
			return fmt.Errorf("restore %s: missing from snapshot: %w", p.Name, ErrShapeMismatch)
		}
		r, c := v.Dims()
		pr, pc := p.Value.Dims()
		if r != pr || c != pc {
			return fmt.Errorf("restore %s: have %dx%d, want %dx%d: %w", p.Name, r, c, pr, pc, ErrShapeMismatch)
		}
	}
	for _, p := range s.params {
		p.Value.Copy(snap[p.Name])
	}
	return nil
}
