package model

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ember-llm/tune-server/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyConfig() Config {
	return Config{
		VocabSize: 11,
		SeqLen:    6,
		EmbedDim:  8,
		NumHeads:  2,
		NumLayers: 2,
		FFHidden:  16,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, tinyConfig().Validate())

	bad := tinyConfig()
	bad.EmbedDim = 9 // not divisible by two heads
	assert.Error(t, bad.Validate())

	bad = tinyConfig()
	bad.VocabSize = 0
	assert.Error(t, bad.Validate())
}

func TestForwardShapeAndDeterminism(t *testing.T) {
	g1, err := NewGPT(tinyConfig(), 42)
	require.NoError(t, err)
	g2, err := NewGPT(tinyConfig(), 42)
	require.NoError(t, err)

	ids := []int{1, 4, 7, 2}
	l1, err := g1.Forward(ids)
	require.NoError(t, err)
	l2, err := g2.Forward(ids)
	require.NoError(t, err)

	require.Equal(t, []int{4, 11}, l1.Shape())
	assert.Equal(t, l1.Data(), l2.Data())
}

func TestForwardRejectsBadInput(t *testing.T) {
	g, err := NewGPT(tinyConfig(), 1)
	require.NoError(t, err)

	_, err = g.Forward(nil)
	assert.Error(t, err)
	_, err = g.Forward([]int{0, 1, 2, 3, 4, 5, 6})
	assert.Error(t, err)
	_, err = g.Forward([]int{0, 11})
	assert.Error(t, err)
	_, err = g.Forward([]int{-1})
	assert.Error(t, err)
}

func TestForwardWithCacheMatchesForward(t *testing.T) {
	g, err := NewGPT(tinyConfig(), 3)
	require.NoError(t, err)

	ids := []int{5, 0, 9, 3, 1}
	plain, err := g.Forward(ids)
	require.NoError(t, err)
	cached, _, err := g.ForwardWithCache(ids)
	require.NoError(t, err)

	for i := range plain.Data() {
		assert.InDelta(t, plain.Data()[i], cached.Data()[i], 1e-12)
	}
}

// Logits at position t must not depend on tokens after t.
func TestCausalMasking(t *testing.T) {
	g, err := NewGPT(tinyConfig(), 7)
	require.NoError(t, err)

	a, err := g.Forward([]int{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := g.Forward([]int{1, 2, 3, 9})
	require.NoError(t, err)

	vocab := g.Config().VocabSize
	for pos := 0; pos < 3; pos++ {
		for v := 0; v < vocab; v++ {
			assert.InDelta(t, a.At(pos, v), b.At(pos, v), 1e-12)
		}
	}
}

func TestBackwardNumerical(t *testing.T) {
	cfg := tinyConfig()
	cfg.NumLayers = 1
	g, err := NewGPT(cfg, 11)
	require.NoError(t, err)

	ids := []int{2, 7, 1, 5}
	targets := []int{7, 1, 5, 10}

	logits, cache, err := g.ForwardWithCache(ids)
	require.NoError(t, err)
	g.ZeroGrad()
	g.Backward(cache, tensor.CrossEntropyBackward(logits, targets))

	loss := func() float64 {
		l, err := g.Forward(ids)
		require.NoError(t, err)
		return tensor.CrossEntropy(l, targets)
	}

	const h = 1e-5
	for _, p := range g.Parameters() {
		data := p.Data()
		grad := p.Grad()
		// Spot-check a strided subset; checking every scalar of every
		// parameter is needlessly slow.
		for i := 0; i < len(data); i += 5 {
			orig := data[i]
			data[i] = orig + h
			plus := loss()
			data[i] = orig - h
			minus := loss()
			data[i] = orig

			assert.InDelta(t, (plus-minus)/(2*h), grad[i], 1e-5)
		}
	}
}

func TestGenerate(t *testing.T) {
	g, err := NewGPT(tinyConfig(), 5)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	out, err := g.Generate([]int{1, 2}, 8, SampleConfig{}, rng)
	require.NoError(t, err)
	assert.Len(t, out, 8)

	// Greedy decoding is deterministic.
	again, err := g.Generate([]int{1, 2}, 8, SampleConfig{}, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	assert.Equal(t, out, again)

	// A stop token ends generation early.
	stopped, err := g.Generate([]int{1, 2}, 50, SampleConfig{StopTokens: []int{out[0]}}, rng)
	require.NoError(t, err)
	assert.Equal(t, []int{out[0]}, stopped)
}

func TestGenerateSlidesContextWindow(t *testing.T) {
	g, err := NewGPT(tinyConfig(), 5)
	require.NoError(t, err)

	prompt := []int{1, 2, 3, 4, 5, 6} // already at SeqLen
	out, err := g.Generate(prompt, 4, SampleConfig{Temperature: 0.8}, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Len(t, out, 4)
}

func TestSampleFilters(t *testing.T) {
	logits := []float64{2.0, 1.0, 0.5, -1.0}
	rng := rand.New(rand.NewSource(3))

	assert.Equal(t, 0, sample(logits, SampleConfig{}, rng))
	// TopK=1 collapses to the argmax regardless of randomness.
	for i := 0; i < 20; i++ {
		assert.Equal(t, 0, sample(logits, SampleConfig{Temperature: 1.0, TopK: 1}, rng))
	}
	// A tight TopP keeps only the dominant token.
	for i := 0; i < 20; i++ {
		assert.Equal(t, 0, sample(logits, SampleConfig{Temperature: 0.5, TopP: 0.1}, rng))
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	g, err := NewGPT(tinyConfig(), 21)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, g.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, g.Config(), loaded.Config())

	ids := []int{3, 1, 4}
	want, err := g.Forward(ids)
	require.NoError(t, err)
	got, err := loaded.Forward(ids)
	require.NoError(t, err)
	assert.Equal(t, want.Data(), got.Data())
}

func TestLoadRejectsCorruptCheckpoints(t *testing.T) {
	dir := t.TempDir()

	g, err := NewGPT(tinyConfig(), 21)
	require.NoError(t, err)
	path := filepath.Join(dir, "model.bin")
	require.NoError(t, g.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	truncated := filepath.Join(dir, "truncated.bin")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)/2], 0o644))
	_, err = Load(truncated)
	assert.Error(t, err)

	padded := filepath.Join(dir, "padded.bin")
	require.NoError(t, os.WriteFile(padded, append(data, 0x00), 0o644))
	_, err = Load(padded)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}

func TestNumParameters(t *testing.T) {
	cfg := tinyConfig()
	g, err := NewGPT(cfg, 0)
	require.NoError(t, err)

	perBlock := 4*cfg.EmbedDim*cfg.EmbedDim + // attention projections
		2*cfg.EmbedDim + // ln1
		cfg.EmbedDim*cfg.FFHidden + cfg.FFHidden + // ff in
		cfg.FFHidden*cfg.EmbedDim + cfg.EmbedDim + // ff out
		2*cfg.EmbedDim // ln2
	want := cfg.VocabSize*cfg.EmbedDim +
		cfg.SeqLen*cfg.EmbedDim +
		cfg.NumLayers*perBlock +
		2*cfg.EmbedDim +
		cfg.EmbedDim*cfg.VocabSize

	assert.Equal(t, want, g.NumParameters())
}
