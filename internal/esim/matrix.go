package esim

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// hcat joins a and b side by side.
func hcat(a, b *mat.Dense) *mat.Dense {
	r, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(r, ca+cb, nil)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		copy(row, a.RawRowView(i))
		copy(row[ca:], b.RawRowView(i))
	}
	return out
}

// hsplit cuts m into a left part of width w and the remainder.
func hsplit(m *mat.Dense, w int) (*mat.Dense, *mat.Dense) {
	r, c := m.Dims()
	left := mat.NewDense(r, w, nil)
	right := mat.NewDense(r, c-w, nil)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		copy(left.RawRowView(i), row[:w])
		copy(right.RawRowView(i), row[w:])
	}
	return left, right
}

// reverseRows returns m with its first length rows in reverse order.
func reverseRows(m *mat.Dense, length int) *mat.Dense {
	out := mat.DenseCopyOf(m)
	for i := 0; i < length; i++ {
		copy(out.RawRowView(i), m.RawRowView(length-1-i))
	}
	return out
}

// colSum sums the first length rows of m.
func colSum(m *mat.Dense, length int) []float64 {
	_, c := m.Dims()
	out := make([]float64, c)
	for i := 0; i < length; i++ {
		floats.Add(out, m.RawRowView(i))
	}
	return out
}

// colSumBackward broadcasts d to the first length rows of a rows×len(d) matrix.
func colSumBackward(d []float64, rows, length int) *mat.Dense {
	out := mat.NewDense(rows, len(d), nil)
	for i := 0; i < length; i++ {
		copy(out.RawRowView(i), d)
	}
	return out
}

// addTo adds src into dst and returns dst; a nil dst takes a copy of src.
func addTo(dst, src *mat.Dense) *mat.Dense {
	if src == nil {
		return dst
	}
	if dst == nil {
		return mat.DenseCopyOf(src)
	}
	dst.Add(dst, src)
	return dst
}

// seqLen is the number of matrix rows used for a sequence of length n.
func seqLen(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
