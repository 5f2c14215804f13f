package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Epsilon keeps mean pooling finite for empty sequences.
const Epsilon = 1e-12

// MaxFloor is the value masked max pooling returns when no real position
// exceeds it.
const MaxFloor = -100.0

// Softmax returns the normalized exponentials of v.
func Softmax(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	m := floats.Max(v)
	sum := 0.0
	for i, x := range v {
		out[i] = math.Exp(x - m)
		sum += out[i]
	}
	floats.Scale(1/sum, out)
	return out
}

// MaskedSoftmax normalizes the first n entries of v; the rest get zero.
func MaskedSoftmax(v []float64, n int) []float64 {
	out := make([]float64, len(v))
	if n <= 0 {
		return out
	}
	if n > len(v) {
		n = len(v)
	}
	copy(out, Softmax(v[:n]))
	return out
}

// SoftmaxBackward maps dL/dp to dL/dv for p = softmax(v).
// Entries with p == 0 (masked) receive zero gradient.
func SoftmaxBackward(p, dp []float64) []float64 {
	dot := floats.Dot(p, dp)
	out := make([]float64, len(p))
	for i := range p {
		out[i] = p[i] * (dp[i] - dot)
	}
	return out
}

// MaskedSoftmaxRows applies MaskedSoftmax(row, cols) to the first rows rows
// of e. Remaining rows are zero.
func MaskedSoftmaxRows(e *mat.Dense, rows, cols int) *mat.Dense {
	r, c := e.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < rows && i < r; i++ {
		copy(out.RawRowView(i), MaskedSoftmax(e.RawRowView(i), cols))
	}
	return out
}

// SoftmaxRowsBackward is the row-wise SoftmaxBackward.
func SoftmaxRowsBackward(p, dp *mat.Dense) *mat.Dense {
	r, c := p.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		copy(out.RawRowView(i), SoftmaxBackward(p.RawRowView(i), dp.RawRowView(i)))
	}
	return out
}

// MeanPool averages the first length rows of x.
func MeanPool(x *mat.Dense, length int) []float64 {
	_, c := x.Dims()
	out := make([]float64, c)
	for i := 0; i < length; i++ {
		floats.Add(out, x.RawRowView(i))
	}
	floats.Scale(1/math.Max(float64(length), Epsilon), out)
	return out
}

// MeanPoolBackward spreads d evenly over the first length rows of a rows×len(d) matrix.
func MeanPoolBackward(d []float64, rows, length int) *mat.Dense {
	out := mat.NewDense(rows, len(d), nil)
	scale := 1 / math.Max(float64(length), Epsilon)
	for i := 0; i < length; i++ {
		floats.AddScaled(out.RawRowView(i), scale, d)
	}
	return out
}

// MaskedMax takes the column-wise max over the first length rows of x,
// never going below floor. arg holds the winning row per column, or -1 when
// the floor won.
func MaskedMax(x *mat.Dense, length int, floor float64) (out []float64, arg []int) {
	_, c := x.Dims()
	out = make([]float64, c)
	arg = make([]int, c)
	for j := range out {
		out[j] = floor
		arg[j] = -1
	}
	for i := 0; i < length; i++ {
		row := x.RawRowView(i)
		for j, v := range row {
			if v > out[j] {
				out[j] = v
				arg[j] = i
			}
		}
	}
	return out, arg
}

// MaskedMaxBackward routes d to the rows selected by MaskedMax.
func MaskedMaxBackward(d []float64, arg []int, rows int) *mat.Dense {
	out := mat.NewDense(rows, len(d), nil)
	for j, i := range arg {
		if i >= 0 {
			out.Set(i, j, out.At(i, j)+d[j])
		}
	}
	return out
}

// LocalInference builds [x, a, |x-a|, x⊙a] for every row.
func LocalInference(x, a *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, 4*c, nil)
	for i := 0; i < r; i++ {
		xr, ar, o := x.RawRowView(i), a.RawRowView(i), out.RawRowView(i)
		for j := 0; j < c; j++ {
			o[j] = xr[j]
			o[c+j] = ar[j]
			o[2*c+j] = math.Abs(xr[j] - ar[j])
			o[3*c+j] = xr[j] * ar[j]
		}
	}
	return out
}

// LocalInferenceBackward splits d (rows×4c) into gradients for x and a.
func LocalInferenceBackward(x, a, d *mat.Dense) (dx, da *mat.Dense) {
	r, c := x.Dims()
	dx = mat.NewDense(r, c, nil)
	da = mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		xr, ar, dr := x.RawRowView(i), a.RawRowView(i), d.RawRowView(i)
		gx, ga := dx.RawRowView(i), da.RawRowView(i)
		for j := 0; j < c; j++ {
			diff := xr[j] - ar[j]
			sign := 0.0
			if diff > 0 {
				sign = 1
			} else if diff < 0 {
				sign = -1
			}
			gx[j] = dr[j] + sign*dr[2*c+j] + ar[j]*dr[3*c+j]
			ga[j] = dr[c+j] - sign*dr[2*c+j] + xr[j]*dr[3*c+j]
		}
	}
	return dx, da
}

// Cosine returns the cosine similarity of u and v, zero if either is zero.
func Cosine(u, v []float64) float64 {
	nu, nv := floats.Norm(u, 2), floats.Norm(v, 2)
	if nu == 0 || nv == 0 {
		return 0
	}
	return floats.Dot(u, v) / (nu * nv)
}

// CosineBackward returns the gradients of d·cos(u, v).
func CosineBackward(u, v []float64, d float64) (du, dv []float64) {
	du = make([]float64, len(u))
	dv = make([]float64, len(v))
	nu, nv := floats.Norm(u, 2), floats.Norm(v, 2)
	if nu == 0 || nv == 0 {
		return du, dv
	}
	cos := floats.Dot(u, v) / (nu * nv)
	for i := range u {
		du[i] = d * (v[i]/(nu*nv) - cos*u[i]/(nu*nu))
		dv[i] = d * (u[i]/(nu*nv) - cos*v[i]/(nv*nv))
	}
	return du, dv
}

// DropoutMask returns an inverted dropout mask of the given shape, or nil
// when rate is zero. Kept entries hold 1/(1-rate).
func DropoutMask(rng *rand.Rand, rows, cols int, rate float64) *mat.Dense {
	if rate <= 0 || rng == nil {
		return nil
	}
	keep := 1 - rate
	m := mat.NewDense(rows, cols, nil)
	raw := m.RawMatrix().Data
	for i := range raw {
		if rng.Float64() < keep {
			raw[i] = 1 / keep
		}
	}
	return m
}

// ApplyMask multiplies x element-wise by mask. A nil mask returns x unchanged.
func ApplyMask(x, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return x
	}
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.MulElem(x, mask)
	return out
}

// SoftmaxCrossEntropy returns weight·(-log p[y]), the probabilities and
// dLoss/dLogits. A label outside the class range yields zero loss and gradient.
func SoftmaxCrossEntropy(logits []float64, y int, weight float64) (loss float64, probs, dlogits []float64) {
	probs = Softmax(logits)
	dlogits = make([]float64, len(logits))
	if y < 0 || y >= len(logits) {
		return 0, probs, dlogits
	}
	loss = -weight * math.Log(math.Max(probs[y], 1e-300))
	for i, p := range probs {
		dlogits[i] = weight * p
	}
	dlogits[y] -= weight
	return loss, probs, dlogits
}

// Concat joins vectors end to end.
func Concat(vs ...[]float64) []float64 {
	n := 0
	for _, v := range vs {
		n += len(v)
	}
	out := make([]float64, 0, n)
	for _, v := range vs {
		out = append(out, v...)
	}
	return out
}

// Split cuts v into consecutive pieces of the given sizes.
func Split(v []float64, sizes ...int) [][]float64 {
	out := make([][]float64, len(sizes))
	off := 0
	for i, n := range sizes {
		out[i] = v[off : off+n]
		off += n
	}
	return out
}

// ArgMax returns the index of the largest element.
func ArgMax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	return floats.MaxIdx(v)
}
