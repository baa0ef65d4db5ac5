package trainer

import "math"

// lrSchedule implements linear warmup to the base rate, cosine decay
// over DecaySteps, then a floor at MinLR.
type lrSchedule struct {
	base   float64
	minLR  float64
	warmup int
	decay  int
	step   int
}

func newSchedule(cfg Config) *lrSchedule {
	return &lrSchedule{
		base:   cfg.LearningRate,
		minLR:  cfg.MinLR,
		warmup: cfg.WarmupSteps,
		decay:  cfg.DecaySteps,
	}
}

func (s *lrSchedule) next() float64 {
	s.step++

	if s.warmup > 0 && s.step <= s.warmup {
		return s.base * float64(s.step) / float64(s.warmup)
	}

	if s.decay > 0 {
		progress := float64(s.step-s.warmup) / float64(s.decay)
		if progress >= 1 {
			return s.minLR
		}
		cosine := 0.5 * (1 + math.Cos(math.Pi*progress))
		return s.minLR + (s.base-s.minLR)*cosine
	}

	return s.base
}
