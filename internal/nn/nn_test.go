package nn

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const gradTol = 1e-5

func randDense(rng *rand.Rand, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.NormFloat64()*0.5)
		}
	}
	return m
}

// weighted returns sum(out ⊙ w).
func weighted(out, w *mat.Dense) float64 {
	var p mat.Dense
	p.MulElem(out, w)
	return mat.Sum(&p)
}

// numericGrad perturbs every entry of m and measures the change in loss.
func numericGrad(m *mat.Dense, loss func() float64) *mat.Dense {
	const h = 1e-6
	r, c := m.Dims()
	g := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			orig := m.At(i, j)
			m.Set(i, j, orig+h)
			up := loss()
			m.Set(i, j, orig-h)
			down := loss()
			m.Set(i, j, orig)
			g.Set(i, j, (up-down)/(2*h))
		}
	}
	return g
}

func assertClose(t *testing.T, name string, got, want *mat.Dense) {
	t.Helper()
	if !mat.EqualApprox(got, want, gradTol) {
		t.Errorf("%s gradient mismatch\n got: %v\nwant: %v", name, mat.Formatted(got), mat.Formatted(want))
	}
}

func TestDense_Backward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ps := NewParamSet(1)
	d := NewDense(ps, "fc", 4, 3, Tanh, nil)
	x := randDense(rng, 2, 4)
	w := randDense(rng, 2, 3)

	loss := func() float64 {
		y, _ := d.Forward(x)
		return weighted(y, w)
	}
	_, cache := d.Forward(x)
	g := NewGrads()
	dx := d.Backward(cache, w, g)

	assertClose(t, "x", dx, numericGrad(x, loss))
	assertClose(t, "kernel", g.Of(d.W), numericGrad(d.W.Value, loss))
	assertClose(t, "bias", g.Of(d.B), numericGrad(d.B.Value, loss))
}

func TestLSTM_Backward(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ps := NewParamSet(2)
	l := NewLSTM(ps, "lstm", 3, 2)
	x := randDense(rng, 5, 3)
	w := randDense(rng, 5, 2)
	const length = 4

	loss := func() float64 {
		y, _ := l.Forward(x, length)
		return weighted(y, w)
	}
	_, cache := l.Forward(x, length)
	g := NewGrads()
	dx := l.Backward(cache, w, g)

	assertClose(t, "x", dx, numericGrad(x, loss))
	assertClose(t, "kernel", g.Of(l.Kernel), numericGrad(l.Kernel.Value, loss))
	assertClose(t, "bias", g.Of(l.Bias), numericGrad(l.Bias.Value, loss))
}

func TestLSTM_PaddingRowsStayZero(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ps := NewParamSet(3)
	l := NewLSTM(ps, "lstm", 3, 4)
	x := randDense(rng, 6, 3)

	y, _ := l.Forward(x, 2)
	for i := 2; i < 6; i++ {
		if floats.Norm(y.RawRowView(i), 1) != 0 {
			t.Errorf("row %d should be zero, got %v", i, y.RawRowView(i))
		}
	}

	// Extra padding rows must not change the real outputs.
	padded := mat.NewDense(9, 3, nil)
	padded.Slice(0, 6, 0, 3).(*mat.Dense).Copy(x)
	yp, _ := l.Forward(padded, 2)
	for i := 0; i < 2; i++ {
		if !floats.Equal(y.RawRowView(i), yp.RawRowView(i)) {
			t.Errorf("row %d changed with padding", i)
		}
	}
}

func TestMaskedPooling_IgnoresPadding(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := randDense(rng, 3, 5)
	padded := mat.NewDense(7, 5, nil)
	padded.Slice(0, 3, 0, 5).(*mat.Dense).Copy(x)

	if !floats.EqualApprox(MeanPool(x, 3), MeanPool(padded, 3), 1e-15) {
		t.Error("mean pooling changed with padding")
	}
	m1, _ := MaskedMax(x, 3, MaxFloor)
	m2, _ := MaskedMax(padded, 3, MaxFloor)
	if !floats.Equal(m1, m2) {
		t.Error("max pooling changed with padding")
	}
}

func TestMaskedMax_Floor(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{-200, 3, -150, -1})
	out, arg := MaskedMax(x, 2, MaxFloor)
	if out[0] != MaxFloor || arg[0] != -1 {
		t.Errorf("expected floor for column 0, got %v (arg %d)", out[0], arg[0])
	}
	if out[1] != 3 || arg[1] != 0 {
		t.Errorf("expected 3 from row 0, got %v (arg %d)", out[1], arg[1])
	}

	empty, _ := MaskedMax(x, 0, MaxFloor)
	if empty[0] != MaxFloor || empty[1] != MaxFloor {
		t.Errorf("empty sequence should pool to floor, got %v", empty)
	}
	if mean := MeanPool(x, 0); mean[0] != 0 || mean[1] != 0 {
		t.Errorf("empty sequence should mean-pool to zero, got %v", mean)
	}
}

func TestPooling_Backward(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := randDense(rng, 4, 3)
	w := []float64{0.3, -1.2, 0.7}

	meanLoss := func() float64 { return floats.Dot(MeanPool(x, 3), w) }
	assertClose(t, "mean", MeanPoolBackward(w, 4, 3), numericGrad(x, meanLoss))

	maxLoss := func() float64 {
		m, _ := MaskedMax(x, 3, MaxFloor)
		return floats.Dot(m, w)
	}
	_, arg := MaskedMax(x, 3, MaxFloor)
	assertClose(t, "max", MaskedMaxBackward(w, arg, 4), numericGrad(x, maxLoss))
}

func TestMaskedSoftmaxRows(t *testing.T) {
	e := mat.NewDense(3, 3, []float64{
		1, 2, 100,
		0, 0, 100,
		5, 5, 5,
	})
	p := MaskedSoftmaxRows(e, 2, 2)
	for i := 0; i < 2; i++ {
		if s := floats.Sum(p.RawRowView(i)); math.Abs(s-1) > 1e-12 {
			t.Errorf("row %d sums to %v", i, s)
		}
		if p.At(i, 2) != 0 {
			t.Errorf("masked column got weight %v", p.At(i, 2))
		}
	}
	if floats.Sum(p.RawRowView(2)) != 0 {
		t.Error("masked row should be zero")
	}
}

func TestSoftmaxRows_Backward(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	e := randDense(rng, 3, 4)
	w := randDense(rng, 3, 4)
	loss := func() float64 { return weighted(MaskedSoftmaxRows(e, 2, 3), w) }
	p := MaskedSoftmaxRows(e, 2, 3)
	assertClose(t, "softmax", SoftmaxRowsBackward(p, w), numericGrad(e, loss))
}

func TestLocalInference_Backward(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := randDense(rng, 3, 2)
	a := randDense(rng, 3, 2)
	w := randDense(rng, 3, 8)

	li := LocalInference(x, a)
	if li.At(1, 4) != math.Abs(x.At(1, 0)-a.At(1, 0)) {
		t.Errorf("diff block mismatch")
	}
	loss := func() float64 { return weighted(LocalInference(x, a), w) }
	dx, da := LocalInferenceBackward(x, a, w)
	assertClose(t, "x", dx, numericGrad(x, loss))
	assertClose(t, "a", da, numericGrad(a, loss))
}

func TestCosine_Backward(t *testing.T) {
	u := []float64{0.5, -1, 2}
	v := []float64{1, 0.25, -0.5}
	du, dv := CosineBackward(u, v, 1)

	const h = 1e-6
	for i := range u {
		orig := u[i]
		u[i] = orig + h
		up := Cosine(u, v)
		u[i] = orig - h
		down := Cosine(u, v)
		u[i] = orig
		if want := (up - down) / (2 * h); math.Abs(du[i]-want) > gradTol {
			t.Errorf("du[%d] = %v, want %v", i, du[i], want)
		}
	}
	for i := range v {
		orig := v[i]
		v[i] = orig + h
		up := Cosine(u, v)
		v[i] = orig - h
		down := Cosine(u, v)
		v[i] = orig
		if want := (up - down) / (2 * h); math.Abs(dv[i]-want) > gradTol {
			t.Errorf("dv[%d] = %v, want %v", i, dv[i], want)
		}
	}
	if Cosine([]float64{0, 0}, []float64{1, 1}) != 0 {
		t.Error("cosine with zero vector should be 0")
	}
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	logits := []float64{1, 2, 0.5}
	loss, probs, d := SoftmaxCrossEntropy(logits, 1, 1)
	if want := -math.Log(probs[1]); math.Abs(loss-want) > 1e-12 {
		t.Errorf("loss = %v, want %v", loss, want)
	}
	if math.Abs(floats.Sum(d)) > 1e-12 {
		t.Errorf("gradient should sum to zero, got %v", floats.Sum(d))
	}

	wloss, _, wd := SoftmaxCrossEntropy(logits, 1, 2.5)
	if math.Abs(wloss-2.5*loss) > 1e-12 {
		t.Errorf("weighted loss = %v, want %v", wloss, 2.5*loss)
	}
	if math.Abs(wd[0]-2.5*d[0]) > 1e-12 {
		t.Errorf("weighted gradient not scaled")
	}

	if l, _, _ := SoftmaxCrossEntropy(logits, -1, 1); l != 0 {
		t.Errorf("unlabelled example should have zero loss, got %v", l)
	}
}

func TestDropoutMask(t *testing.T) {
	if DropoutMask(rand.New(rand.NewSource(1)), 2, 2, 0) != nil {
		t.Error("zero rate should produce no mask")
	}
	m := DropoutMask(rand.New(rand.NewSource(1)), 50, 50, 0.5)
	for _, v := range m.RawMatrix().Data {
		if v != 0 && v != 2 {
			t.Fatalf("unexpected mask value %v", v)
		}
	}
	x := mat.NewDense(1, 2, []float64{1, 2})
	if ApplyMask(x, nil) != x {
		t.Error("nil mask should return input")
	}
}

func TestOptimizers_DescendQuadratic(t *testing.T) {
	for _, name := range []string{"adam", "adagrad", "sgd"} {
		t.Run(name, func(t *testing.T) {
			ps := NewParamSet(1)
			p := ps.Add("w", 1, 3, Constant{Value: 2}, true)
			emb := ps.Add("emb", 4, 3, Constant{Value: 1}, true)
			opt, err := NewOptimizer(name, 0.1)
			if err != nil {
				t.Fatal(err)
			}
			before := mat.Norm(p.Value, 2)
			for step := 0; step < 20; step++ {
				g := NewGrads()
				// gradient of 0.5·|w|² is w
				g.Of(p).Copy(p.Value)
				g.AddRow(emb, 2, emb.Value.RawRowView(2))
				opt.Step(ps.Trainable(), g)
			}
			if after := mat.Norm(p.Value, 2); after >= before {
				t.Errorf("%s did not descend: %v -> %v", name, before, after)
			}
			if emb.Value.At(0, 0) != 1 || emb.Value.At(3, 2) != 1 {
				t.Error("untouched embedding rows must not change")
			}
			if emb.Value.At(2, 0) >= 1 {
				t.Error("touched embedding row should move")
			}
		})
	}

	if _, err := NewOptimizer("rmsprop", 0.1); err == nil {
		t.Error("expected error for unknown optimizer")
	}
}

func TestParamSet_SnapshotRestore(t *testing.T) {
	ps := NewParamSet(9)
	p := ps.Add("a", 2, 2, GlorotUniform{}, true)
	snap := ps.Snapshot()
	orig := mat.DenseCopyOf(p.Value)

	p.Value.Scale(3, p.Value)
	if err := ps.Restore(snap); err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(p.Value, orig) {
		t.Error("restore did not bring back snapshot values")
	}

	bad := Snapshot{"a": mat.NewDense(3, 2, nil)}
	if err := ps.Restore(bad); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestGrads_MergeAndNorm(t *testing.T) {
	ps := NewParamSet(1)
	p := ps.Add("p", 1, 2, Zeros{}, true)
	a, b := NewGrads(), NewGrads()
	a.Of(p).Set(0, 0, 3)
	b.Of(p).Set(0, 1, 4)
	b.AddRow(p, 0, []float64{0, 0})
	a.Merge(b)
	if n := a.Norm(); math.Abs(n-5) > 1e-12 {
		t.Errorf("norm = %v, want 5", n)
	}
	a.Scale(0.5)
	if a.Of(p).At(0, 1) != 2 {
		t.Errorf("scale failed: %v", a.Of(p).At(0, 1))
	}
}
