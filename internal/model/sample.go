package model

import (
	"math"
	"math/rand"
	"sort"
)

// SampleConfig controls decoding. Temperature 0 is greedy; TopK and
// TopP of 0 disable their filters. Generation halts early when a
// sampled ID appears in StopTokens.
type SampleConfig struct {
	Temperature float64
	TopK        int
	TopP        float64
	StopTokens  []int
}

// Generate autoregressively extends prompt by up to maxNew tokens and
// returns only the continuation. The context window slides once the
// sequence exceeds SeqLen.
func (g *GPT) Generate(prompt []int, maxNew int, cfg SampleConfig, rng *rand.Rand) ([]int, error) {
	seq := append([]int(nil), prompt...)
	var out []int

	for i := 0; i < maxNew; i++ {
		ctx := seq
		if len(ctx) > g.config.SeqLen {
			ctx = ctx[len(ctx)-g.config.SeqLen:]
		}

		logits, err := g.Forward(ctx)
		if err != nil {
			return nil, err
		}

		last := logits.Data()[(len(ctx)-1)*g.config.VocabSize : len(ctx)*g.config.VocabSize]
		next := sample(last, cfg, rng)
		seq = append(seq, next)
		out = append(out, next)

		if containsID(cfg.StopTokens, next) {
			break
		}
	}

	return out, nil
}

func containsID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}

	return false
}

func sample(logits []float64, cfg SampleConfig, rng *rand.Rand) int {
	if cfg.Temperature <= 0 {
		return argmax(logits)
	}

	probs := make([]float64, len(logits))
	max := math.Inf(-1)
	for _, v := range logits {
		if v/cfg.Temperature > max {
			max = v / cfg.Temperature
		}
	}
	sum := 0.0
	for i, v := range logits {
		probs[i] = math.Exp(v/cfg.Temperature - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	if cfg.TopK > 0 && cfg.TopK < len(probs) {
		probs = applyTopK(probs, cfg.TopK)
	}
	if cfg.TopP > 0 && cfg.TopP < 1 {
		probs = applyTopP(probs, cfg.TopP)
	}

	r := rng.Float64()
	cdf := 0.0
	for i, p := range probs {
		cdf += p
		if r < cdf {
			return i
		}
	}

	return len(probs) - 1
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}

	return best
}

func sortedIndices(probs []float64) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	return idx
}

func applyTopK(probs []float64, k int) []float64 {
	idx := sortedIndices(probs)
	out := make([]float64, len(probs))
	sum := 0.0
	for _, i := range idx[:k] {
		out[i] = probs[i]
		sum += probs[i]
	}
	for i := range out {
		out[i] /= sum
	}

	return out
}

func applyTopP(probs []float64, p float64) []float64 {
	idx := sortedIndices(probs)
	out := make([]float64, len(probs))

	cum := 0.0
	sum := 0.0
	for _, i := range idx {
		out[i] = probs[i]
		cum += probs[i]
		sum += probs[i]
		if cum >= p {
			break
		}
	}
	for i := range out {
		out[i] /= sum
	}

	return out
}
