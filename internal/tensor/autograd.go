package tensor

import (
	"fmt"
	"math"
)

// MatMulBackward returns the gradients of both operands of C = A @ B
// given the upstream gradient of C: gradA = gradC @ Bᵀ and
// gradB = Aᵀ @ gradC.
func MatMulBackward(a, b, gradC *Tensor) (*Tensor, *Tensor) {
	gradA := MatMul(gradC, Transpose(b))
	gradB := MatMul(Transpose(a), gradC)
	return gradA, gradB
}

func AddBackward(gradC *Tensor) (*Tensor, *Tensor) {
	return gradC.Clone(), gradC.Clone()
}

func ScaleBackward(gradC *Tensor, s float64) *Tensor {
	return Scale(gradC, s)
}

func ReLUBackward(x, gradY *Tensor) *Tensor {
	if !shapeEqual(x.shape, gradY.shape) {
		panic(fmt.Sprintf("tensor: relu backward shape mismatch %v vs %v", x.shape, gradY.shape))
	}

	gradX := New(x.shape...)
	for i, v := range x.data {
		if v > 0 {
			gradX.data[i] = gradY.data[i]
		}
	}

	return gradX
}

func GELUBackward(x, gradY *Tensor) *Tensor {
	if !shapeEqual(x.shape, gradY.shape) {
		panic(fmt.Sprintf("tensor: gelu backward shape mismatch %v vs %v", x.shape, gradY.shape))
	}

	gradX := New(x.shape...)
	for i, v := range x.data {
		inner := geluSqrt2OverPi * (v + geluCoeff*v*v*v)
		t := math.Tanh(inner)
		sech2 := 1 - t*t
		innerDeriv := geluSqrt2OverPi * (1 + 3*geluCoeff*v*v)
		deriv := 0.5*(1+t) + 0.5*v*sech2*innerDeriv
		gradX.data[i] = gradY.data[i] * deriv
	}

	return gradX
}

// SoftmaxBackward computes the input gradient from the softmax output
// y and the upstream gradient, row by row:
// gradX = y * (gradY - Σ gradY*y).
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 || !shapeEqual(y.shape, gradY.shape) {
		panic("tensor: softmax backward requires matching 2D tensors")
	}

	rows, cols := y.shape[0], y.shape[1]
	gradX := New(rows, cols)
	for i := 0; i < rows; i++ {
		yRow := y.data[i*cols : (i+1)*cols]
		gRow := gradY.data[i*cols : (i+1)*cols]
		outRow := gradX.data[i*cols : (i+1)*cols]

		dot := 0.0
		for j := range yRow {
			dot += gRow[j] * yRow[j]
		}
		for j := range yRow {
			outRow[j] = yRow[j] * (gRow[j] - dot)
		}
	}

	return gradX
}

const layerNormEps = 1e-5

// LayerNorm normalizes each row of x to zero mean and unit variance,
// then applies the learned scale and shift.
func LayerNorm(x, gamma, beta *Tensor) *Tensor {
	rows, cols := x.shape[0], x.shape[1]
	out := New(rows, cols)
	for i := 0; i < rows; i++ {
		row := x.data[i*cols : (i+1)*cols]
		outRow := out.data[i*cols : (i+1)*cols]

		mean, variance := rowMoments(row)
		std := math.Sqrt(variance + layerNormEps)
		for j, v := range row {
			outRow[j] = gamma.data[j]*((v-mean)/std) + beta.data[j]
		}
	}

	return out
}

// LayerNormBackward recomputes the row statistics from x and returns
// the input gradient while accumulating into gamma and beta grads.
func LayerNormBackward(x, gamma, beta, gradY *Tensor) *Tensor {
	rows, cols := x.shape[0], x.shape[1]
	gradX := New(rows, cols)
	gradGamma := gamma.Grad()
	gradBeta := beta.Grad()

	for i := 0; i < rows; i++ {
		row := x.data[i*cols : (i+1)*cols]
		gRow := gradY.data[i*cols : (i+1)*cols]
		outRow := gradX.data[i*cols : (i+1)*cols]

		mean, variance := rowMoments(row)
		std := math.Sqrt(variance + layerNormEps)

		sumGradXnorm := 0.0
		sumGradXnormXnorm := 0.0
		for j, v := range row {
			xnorm := (v - mean) / std
			gradGamma[j] += gRow[j] * xnorm
			gradBeta[j] += gRow[j]

			gxn := gRow[j] * gamma.data[j]
			sumGradXnorm += gxn
			sumGradXnormXnorm += gxn * xnorm
		}

		n := float64(cols)
		for j, v := range row {
			xnorm := (v - mean) / std
			gxn := gRow[j] * gamma.data[j]
			outRow[j] = (n*gxn - sumGradXnorm - xnorm*sumGradXnormXnorm) / (n * std)
		}
	}

	return gradX
}

func rowMoments(row []float64) (mean, variance float64) {
	for _, v := range row {
		mean += v
	}
	mean /= float64(len(row))

	for _, v := range row {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(row))

	return mean, variance
}

// CrossEntropy returns the mean negative log-likelihood of the target
// IDs under the given logits, computed with the log-sum-exp trick.
// A target of -1 masks that row out of the loss.
func CrossEntropy(logits *Tensor, targets []int) float64 {
	if len(logits.shape) != 2 {
		panic("tensor: cross entropy requires 2D logits")
	}
	rows, cols := logits.shape[0], logits.shape[1]
	if len(targets) != rows {
		panic(fmt.Sprintf("tensor: %d targets for %d logit rows", len(targets), rows))
	}

	loss := 0.0
	counted := 0
	for i, target := range targets {
		if target < 0 {
			continue
		}
		if target >= cols {
			panic(fmt.Sprintf("tensor: target %d out of range for vocab %d", target, cols))
		}

		row := logits.data[i*cols : (i+1)*cols]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}

		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - max)
		}
		logSumExp := max + math.Log(sumExp)
		loss += logSumExp - row[target]
		counted++
	}

	if counted == 0 {
		return 0
	}

	return loss / float64(counted)
}

// CrossEntropyBackward returns softmax(logits) minus the one-hot
// targets, averaged over the unmasked rows. Masked rows (-1) get a
// zero gradient.
func CrossEntropyBackward(logits *Tensor, targets []int) *Tensor {
	rows, cols := logits.shape[0], logits.shape[1]

	counted := 0
	for _, target := range targets {
		if target >= 0 {
			counted++
		}
	}

	grad := New(rows, cols)
	if counted == 0 {
		return grad
	}

	probs := Softmax(logits)
	scale := 1.0 / float64(counted)
	for i, target := range targets {
		if target < 0 {
			continue
		}

		row := probs.data[i*cols : (i+1)*cols]
		outRow := grad.data[i*cols : (i+1)*cols]
		for j, p := range row {
			outRow[j] = p * scale
		}
		outRow[target] -= scale
	}

	return grad
}
