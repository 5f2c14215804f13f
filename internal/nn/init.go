package nn

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Initializer fills a freshly allocated weight matrix.
// Rows are treated as fan-in and columns as fan-out.
type Initializer interface {
	Fill(rng *rand.Rand, m *mat.Dense)
}

// Zeros leaves the matrix at zero.
type Zeros struct{}

// Fill implements Initializer.
func (Zeros) Fill(*rand.Rand, *mat.Dense) {}

// Constant sets every entry to Value.
type Constant struct{ Value float64 }

// Fill implements Initializer.
func (c Constant) Fill(_ *rand.Rand, m *mat.Dense) {
	r, cols := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, c.Value)
		}
	}
}

// GlorotUniform draws from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
type GlorotUniform struct{}

// Fill implements Initializer.
func (GlorotUniform) Fill(rng *rand.Rand, m *mat.Dense) {
	r, c := m.Dims()
	limit := math.Sqrt(6 / float64(r+c))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, (rng.Float64()*2-1)*limit)
		}
	}
}

// VarianceScaling draws from a normal truncated at two standard deviations
// with variance Factor / fanIn. Factor 2 gives He initialisation.
type VarianceScaling struct{ Factor float64 }

// Fill implements Initializer.
func (v VarianceScaling) Fill(rng *rand.Rand, m *mat.Dense) {
	r, c := m.Dims()
	// 1.3 corrects the variance lost by truncation.
	std := math.Sqrt(1.3 * v.Factor / float64(r))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, truncatedNormal(rng)*std)
		}
	}
}

func truncatedNormal(rng *rand.Rand) float64 {
	for {
		x := rng.NormFloat64()
		if x > -2 && x < 2 {
			return x
		}
	}
}

// InitializerByName resolves the configured initializer name.
func InitializerByName(name string) (Initializer, error) {
	switch strings.ToLower(name) {
	case "he", "he_normal", "variance_scaling":
		return VarianceScaling{Factor: 2}, nil
	case "lecun", "lecun_normal":
		return VarianceScaling{Factor: 1}, nil
	case "glorot", "xavier", "glorot_uniform":
		return GlorotUniform{}, nil
	case "zeros":
		return Zeros{}, nil
	default:
		return nil, fmt.Errorf("unknown initializer %q (supported: he, lecun, glorot, zeros)", name)
	}
}
