// Package tensor implements the dense float64 math that the training
// engine is built on: row-major tensors with gradient buffers, the
// forward ops a transformer needs, and their backward counterparts.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// Tensor is a dense row-major tensor. The gradient buffer is lazily
// allocated and always matches the data length once present.
type Tensor struct {
	data  []float64
	shape []int
	grad  []float64
}

func New(shape ...int) *Tensor {
	size := checkShape(shape)
	return &Tensor{
		data:  make([]float64, size),
		shape: append([]int(nil), shape...),
	}
}

// NewRand returns a tensor initialized from a normal distribution with
// the given standard deviation, via Box-Muller.
func NewRand(rng *rand.Rand, std float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		u1 := rng.Float64()
		u2 := rng.Float64()
		for u1 == 0 {
			u1 = rng.Float64()
		}
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
		t.data[i] = z * std
	}

	return t
}

// FromSlice wraps data in a tensor of the given shape. The slice is
// copied so the caller keeps ownership.
func FromSlice(data []float64, shape ...int) *Tensor {
	size := checkShape(shape)
	if len(data) != size {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v", len(data), shape))
	}

	t := New(shape...)
	copy(t.data, data)
	return t
}

func checkShape(shape []int) int {
	if len(shape) == 0 {
		panic("tensor: empty shape")
	}

	size := 1
	for _, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: non-positive dimension in shape %v", shape))
		}
		size *= dim
	}

	return size
}

func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *Tensor) Size() int {
	return len(t.data)
}

// Data returns the underlying storage. Optimizers and the checkpoint
// codec mutate parameters through this slice.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Grad returns the gradient buffer, allocating it on first use.
func (t *Tensor) Grad() []float64 {
	if t.grad == nil {
		t.grad = make([]float64, len(t.data))
	}

	return t.grad
}

func (t *Tensor) ZeroGrad() {
	if t.grad == nil {
		return
	}
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// AccumulateGrad adds g's data into t's gradient buffer.
func (t *Tensor) AccumulateGrad(g *Tensor) {
	if !shapeEqual(t.shape, g.shape) {
		panic(fmt.Sprintf("tensor: gradient shape %v does not match %v", g.shape, t.shape))
	}

	grad := t.Grad()
	for i, v := range g.data {
		grad[i] += v
	}
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for %d dimensions", len(indices), len(t.shape)))
	}

	idx := 0
	stride := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for dimension %d of size %d", indices[i], i, t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}

	return idx
}

func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

func (t *Tensor) Clone() *Tensor {
	clone := New(t.shape...)
	copy(clone.data, t.data)
	if t.grad != nil {
		clone.grad = append([]float64(nil), t.grad...)
	}

	return clone
}

// Reshape returns a view sharing data and grad with t.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	size := checkShape(shape)
	if size != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v into %v", t.shape, shape))
	}

	return &Tensor{
		data:  t.data,
		shape: append([]int(nil), shape...),
		grad:  t.grad,
	}
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: add shape mismatch %v vs %v", a.shape, b.shape))
	}

	out := New(a.shape...)
	for i := range a.data {
		out.data[i] = a.data[i] + b.data[i]
	}

	return out
}

func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: mul shape mismatch %v vs %v", a.shape, b.shape))
	}

	out := New(a.shape...)
	for i := range a.data {
		out.data[i] = a.data[i] * b.data[i]
	}

	return out
}

func Scale(a *Tensor, s float64) *Tensor {
	out := New(a.shape...)
	for i := range a.data {
		out.data[i] = a.data[i] * s
	}

	return out
}

// matMulParallelRows is the row count above which MatMul fans out
// across GOMAXPROCS goroutines. Each goroutine owns a disjoint row
// range so the result is deterministic.
const matMulParallelRows = 64

func MatMul(a, b *Tensor) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: matmul requires 2D tensors")
	}
	if a.shape[1] != b.shape[0] {
		panic(fmt.Sprintf("tensor: matmul inner dimensions %d vs %d", a.shape[1], b.shape[0]))
	}

	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	out := New(m, n)

	workers := runtime.GOMAXPROCS(0)
	if m < matMulParallelRows || workers < 2 {
		matMulRange(a, b, out, 0, m, k, n)
		return out
	}

	var wg sync.WaitGroup
	chunk := (m + workers - 1) / workers
	for start := 0; start < m; start += chunk {
		end := start + chunk
		if end > m {
			end = m
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			matMulRange(a, b, out, start, end, k, n)
		}(start, end)
	}
	wg.Wait()

	return out
}

func matMulRange(a, b, out *Tensor, rowStart, rowEnd, k, n int) {
	for i := rowStart; i < rowEnd; i++ {
		for kk := 0; kk < k; kk++ {
			av := a.data[i*k+kk]
			if av == 0 {
				continue
			}
			row := b.data[kk*n : (kk+1)*n]
			outRow := out.data[i*n : (i+1)*n]
			for j, bv := range row {
				outRow[j] += av * bv
			}
		}
	}
}

func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: transpose requires a 2D tensor")
	}

	rows, cols := a.shape[0], a.shape[1]
	out := New(cols, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.data[j*rows+i] = a.data[i*cols+j]
		}
	}

	return out
}

func ReLU(a *Tensor) *Tensor {
	out := New(a.shape...)
	for i, v := range a.data {
		if v > 0 {
			out.data[i] = v
		}
	}

	return out
}

const (
	geluSqrt2OverPi = 0.7978845608028654
	geluCoeff       = 0.044715
)

// GELU applies the tanh approximation used by GPT-family models.
func GELU(a *Tensor) *Tensor {
	out := New(a.shape...)
	for i, x := range a.data {
		inner := geluSqrt2OverPi * (x + geluCoeff*x*x*x)
		out.data[i] = 0.5 * x * (1 + math.Tanh(inner))
	}

	return out
}

// Softmax normalizes each row of a 2D tensor, subtracting the row max
// for stability.
func Softmax(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: softmax requires a 2D tensor")
	}

	rows, cols := a.shape[0], a.shape[1]
	out := New(rows, cols)
	for i := 0; i < rows; i++ {
		row := a.data[i*cols : (i+1)*cols]
		outRow := out.data[i*cols : (i+1)*cols]

		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}

		sum := 0.0
		for j, v := range row {
			e := math.Exp(v - max)
			outRow[j] = e
			sum += e
		}
		for j := range outRow {
			outRow[j] /= sum
		}
	}

	return out
}
