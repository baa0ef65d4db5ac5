package trainer

import (
	"fmt"
	"math"

	"github.com/ember-llm/tune-server/internal/tensor"
)

const (
	OptimizerAdamW = "adamw"
	OptimizerSGD   = "sgd"
)

type Optimizer interface {
	Step(params []*tensor.Tensor, lr float64)
}

func newOptimizer(cfg Config) (Optimizer, error) {
	switch cfg.Optimizer {
	case "", OptimizerAdamW:
		return &adamW{
			beta1:       cfg.AdamBeta1,
			beta2:       cfg.AdamBeta2,
			eps:         cfg.AdamEpsilon,
			weightDecay: cfg.WeightDecay,
		}, nil
	case OptimizerSGD:
		return &sgd{weightDecay: cfg.WeightDecay}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Optimizer)
	}
}

type sgd struct {
	weightDecay float64
}

func (s *sgd) Step(params []*tensor.Tensor, lr float64) {
	for _, p := range params {
		data := p.Data()
		grad := p.Grad()
		for i := range data {
			data[i] -= lr * (grad[i] + s.weightDecay*data[i])
		}
	}
}

// adamW keeps first and second moment estimates per parameter and
// applies weight decay decoupled from the adaptive update.
type adamW struct {
	beta1, beta2 float64
	eps          float64
	weightDecay  float64

	m, v [][]float64
	t    int
}

func (a *adamW) Step(params []*tensor.Tensor, lr float64) {
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, p.Size())
			a.v[i] = make([]float64, p.Size())
		}
	}

	a.t++
	mCorr := 1 - math.Pow(a.beta1, float64(a.t))
	vCorr := 1 - math.Pow(a.beta2, float64(a.t))

	for i, p := range params {
		data := p.Data()
		grad := p.Grad()
		m := a.m[i]
		v := a.v[i]
		for j := range data {
			g := grad[j]
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g

			mHat := m[j] / mCorr
			vHat := v[j] / vCorr
			data[j] -= lr * (mHat/(math.Sqrt(vHat)+a.eps) + a.weightDecay*data[j])
		}
	}
}

// clipGradients rescales all gradients when their global L2 norm
// exceeds maxNorm. Returns the pre-clip norm.
func clipGradients(params []*tensor.Tensor, maxNorm float64) float64 {
	sumSq := 0.0
	for _, p := range params {
		for _, g := range p.Grad() {
			sumSq += g * g
		}
	}

	norm := math.Sqrt(sumSq)
	if norm > maxNorm {
		scale := maxNorm / norm
		for _, p := range params {
			grad := p.Grad()
			for i := range grad {
				grad[i] *= scale
			}
		}
	}

	return norm
}
