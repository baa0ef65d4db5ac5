package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadShapes(t *testing.T) {
	assert.Panics(t, func() { New() })
	assert.Panics(t, func() { New(2, 0) })
	assert.Panics(t, func() { New(-1, 3) })
}

func TestAtSetRowMajor(t *testing.T) {
	m := New(2, 3)
	m.Set(1.5, 0, 2)
	m.Set(-2.0, 1, 0)

	assert.Equal(t, 1.5, m.At(0, 2))
	assert.Equal(t, -2.0, m.At(1, 0))
	assert.Equal(t, 1.5, m.Data()[2])
	assert.Equal(t, -2.0, m.Data()[3])
	assert.Panics(t, func() { m.At(0, 3) })
	assert.Panics(t, func() { m.At(2, 0) })
}

func TestReshapeSharesData(t *testing.T) {
	m := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	v := m.Reshape(3, 2)

	v.Set(42, 0, 1)
	assert.Equal(t, 42.0, m.At(0, 1))
	assert.Panics(t, func() { m.Reshape(4, 2) })
}

func TestMatMulKnownValues(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b := FromSlice([]float64{7, 8, 9, 10, 11, 12}, 3, 2)

	c := MatMul(a, b)

	require.Equal(t, []int{2, 2}, c.Shape())
	assert.Equal(t, 58.0, c.At(0, 0))
	assert.Equal(t, 64.0, c.At(0, 1))
	assert.Equal(t, 139.0, c.At(1, 0))
	assert.Equal(t, 154.0, c.At(1, 1))
}

func TestMatMulParallelMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rows := matMulParallelRows * 2
	a := NewRand(rng, 1.0, rows, 33)
	b := NewRand(rng, 1.0, 33, 17)

	got := MatMul(a, b)

	want := New(rows, 17)
	for i := 0; i < rows; i++ {
		for j := 0; j < 17; j++ {
			sum := 0.0
			for k := 0; k < 33; k++ {
				sum += a.At(i, k) * b.At(k, j)
			}
			want.Set(sum, i, j)
		}
	}

	for i := range want.Data() {
		assert.InDelta(t, want.Data()[i], got.Data()[i], 1e-9)
	}
}

func TestTranspose(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	at := Transpose(a)

	require.Equal(t, []int{3, 2}, at.Shape())
	assert.Equal(t, a.At(0, 1), at.At(1, 0))
	assert.Equal(t, a.At(1, 2), at.At(2, 1))
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 1000, 1001, 1002}, 2, 3)
	s := Softmax(a)

	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			sum += s.At(i, j)
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	// Large magnitudes must not overflow thanks to max subtraction.
	assert.False(t, math.IsNaN(s.At(1, 0)))
	assert.Greater(t, s.At(0, 2), s.At(0, 0))
}

func TestGELU(t *testing.T) {
	x := FromSlice([]float64{-10, 0, 10}, 1, 3)
	y := GELU(x)

	assert.InDelta(t, 0.0, y.At(0, 0), 1e-4)
	assert.Equal(t, 0.0, y.At(0, 1))
	assert.InDelta(t, 10.0, y.At(0, 2), 1e-4)
}

// numericalGrad approximates d loss / d t[i] by central difference.
func numericalGrad(t *Tensor, i int, loss func() float64) float64 {
	const h = 1e-5
	orig := t.Data()[i]

	t.Data()[i] = orig + h
	plus := loss()
	t.Data()[i] = orig - h
	minus := loss()
	t.Data()[i] = orig

	return (plus - minus) / (2 * h)
}

func TestMatMulBackwardNumerical(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := NewRand(rng, 0.5, 3, 4)
	b := NewRand(rng, 0.5, 4, 2)

	// loss = sum(A @ B), so upstream gradient is all ones.
	loss := func() float64 {
		c := MatMul(a, b)
		sum := 0.0
		for _, v := range c.Data() {
			sum += v
		}
		return sum
	}

	gradC := New(3, 2)
	for i := range gradC.Data() {
		gradC.Data()[i] = 1
	}
	gradA, gradB := MatMulBackward(a, b, gradC)

	for i := range a.Data() {
		assert.InDelta(t, numericalGrad(a, i, loss), gradA.Data()[i], 1e-6)
	}
	for i := range b.Data() {
		assert.InDelta(t, numericalGrad(b, i, loss), gradB.Data()[i], 1e-6)
	}
}

func TestGELUBackwardNumerical(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := NewRand(rng, 1.0, 2, 5)

	loss := func() float64 {
		y := GELU(x)
		sum := 0.0
		for _, v := range y.Data() {
			sum += v
		}
		return sum
	}

	gradY := New(2, 5)
	for i := range gradY.Data() {
		gradY.Data()[i] = 1
	}
	gradX := GELUBackward(x, gradY)

	for i := range x.Data() {
		assert.InDelta(t, numericalGrad(x, i, loss), gradX.Data()[i], 1e-5)
	}
}

func TestLayerNormBackwardNumerical(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := NewRand(rng, 1.0, 2, 6)
	gamma := FromSlice([]float64{1, 1.2, 0.8, 1, 0.9, 1.1}, 6)
	beta := FromSlice([]float64{0, 0.1, -0.1, 0, 0.2, 0}, 6)

	loss := func() float64 {
		y := LayerNorm(x, gamma, beta)
		sum := 0.0
		for i, v := range y.Data() {
			sum += v * float64(i%3+1)
		}
		return sum
	}

	gradY := New(2, 6)
	for i := range gradY.Data() {
		gradY.Data()[i] = float64(i%3 + 1)
	}

	gamma.ZeroGrad()
	beta.ZeroGrad()
	gradX := LayerNormBackward(x, gamma, beta, gradY)

	for i := range x.Data() {
		assert.InDelta(t, numericalGrad(x, i, loss), gradX.Data()[i], 1e-5)
	}
	for i := range gamma.Data() {
		assert.InDelta(t, numericalGrad(gamma, i, loss), gamma.Grad()[i], 1e-5)
	}
	for i := range beta.Data() {
		assert.InDelta(t, numericalGrad(beta, i, loss), beta.Grad()[i], 1e-5)
	}
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	logits := New(2, 8)
	loss := CrossEntropy(logits, []int{3, 5})

	assert.InDelta(t, math.Log(8), loss, 1e-9)
}

func TestCrossEntropyMasking(t *testing.T) {
	logits := FromSlice([]float64{2, 0, 0, 0, 2, 0}, 2, 3)

	full := CrossEntropy(logits, []int{0, 1})
	masked := CrossEntropy(logits, []int{0, -1})

	// Masked row drops out, leaving the (correct, low-loss) first row.
	assert.Less(t, masked, full)
	assert.Equal(t, 0.0, CrossEntropy(logits, []int{-1, -1}))
}

func TestCrossEntropyBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	logits := NewRand(rng, 1.0, 3, 5)
	targets := []int{1, -1, 4}

	loss := func() float64 { return CrossEntropy(logits, targets) }
	grad := CrossEntropyBackward(logits, targets)

	for i := range logits.Data() {
		assert.InDelta(t, numericalGrad(logits, i, loss), grad.Data()[i], 1e-6)
	}

	// Masked rows contribute nothing.
	for j := 0; j < 5; j++ {
		assert.Equal(t, 0.0, grad.At(1, j))
	}
}

func TestAccumulateGrad(t *testing.T) {
	p := New(2, 2)
	g := FromSlice([]float64{1, 2, 3, 4}, 2, 2)

	p.AccumulateGrad(g)
	p.AccumulateGrad(g)

	assert.Equal(t, []float64{2, 4, 6, 8}, p.Grad())
	p.ZeroGrad()
	assert.Equal(t, []float64{0, 0, 0, 0}, p.Grad())
}
