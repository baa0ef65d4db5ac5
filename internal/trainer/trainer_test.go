package trainer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ember-llm/tune-server/internal/dataset"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRecorder struct {
	mu      sync.Mutex
	metrics []Metrics
}

func (r *captureRecorder) Record(_ context.Context, m Metrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	return nil
}

func tinyModel(t *testing.T) *model.GPT {
	t.Helper()
	g, err := model.NewGPT(model.Config{
		VocabSize: 8,
		SeqLen:    6,
		EmbedDim:  16,
		NumHeads:  2,
		NumLayers: 1,
		FFHidden:  32,
	}, 42)
	require.NoError(t, err)
	return g
}

// cyclicDataset yields windows of the repeating sequence 0,1,...,6.
func cyclicDataset(n int) *dataset.Dataset {
	ds := &dataset.Dataset{}
	for i := 0; i < n; i++ {
		ids := make([]int, 6)
		for j := range ids {
			ids[j] = (i + j) % 7
		}
		ds.Examples = append(ds.Examples, dataset.Example{IDs: ids})
	}
	return ds
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	cfg.Epochs = 100
	cfg.MaxSteps = 40
	cfg.LearningRate = 1e-2
	cfg.WarmupSteps = 5
	cfg.DecaySteps = 200
	cfg.LogInterval = 1
	cfg.EvalInterval = 0
	cfg.Seed = 3
	return cfg
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("rlhf", Deps{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), KindCausal)
	assert.Contains(t, err.Error(), KindSFT)
}

func TestRegisterTwicePanics(t *testing.T) {
	assert.Panics(t, func() { Register(KindCausal, NewCausal) })
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.Contains(t, kinds, KindCausal)
	assert.Contains(t, kinds, KindSFT)
	assert.IsNonDecreasing(t, kinds)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	for _, mutate := range []func(*Config){
		func(c *Config) { c.LearningRate = 0 },
		func(c *Config) { c.BatchSize = 0 },
		func(c *Config) { c.Epochs = 0 },
		func(c *Config) { c.ValFraction = 0.9 },
		func(c *Config) { c.Optimizer = "adagrad" },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate())
	}
}

func TestConstructorValidatesDeps(t *testing.T) {
	_, err := NewCausal(Deps{Train: cyclicDataset(4), Config: DefaultConfig()})
	assert.Error(t, err)

	_, err = NewCausal(Deps{Model: tinyModel(t), Train: &dataset.Dataset{}, Config: DefaultConfig()})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.LearningRate = -1
	_, err = NewCausal(Deps{Model: tinyModel(t), Train: cyclicDataset(4), Config: cfg})
	assert.Error(t, err)
}

func TestScheduleShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LearningRate = 1.0
	cfg.WarmupSteps = 10
	cfg.DecaySteps = 100
	cfg.MinLR = 0.01
	s := newSchedule(cfg)

	first := s.next()
	assert.InDelta(t, 0.1, first, 1e-9)

	var atWarmup float64
	for i := 1; i < 10; i++ {
		atWarmup = s.next()
	}
	assert.InDelta(t, 1.0, atWarmup, 1e-9)

	// Cosine decay is monotonically decreasing after warmup.
	prev := atWarmup
	for i := 0; i < 100; i++ {
		lr := s.next()
		assert.LessOrEqual(t, lr, prev+1e-12)
		prev = lr
	}
	assert.InDelta(t, 0.01, prev, 1e-9)

	// Past the decay horizon the floor holds.
	assert.Equal(t, 0.01, s.next())
}

func TestSGDStep(t *testing.T) {
	p := tensor.FromSlice([]float64{1.0, -2.0}, 2)
	copy(p.Grad(), []float64{0.5, 0.5})

	opt := &sgd{weightDecay: 0.1}
	opt.Step([]*tensor.Tensor{p}, 0.1)

	assert.InDelta(t, 1.0-0.1*(0.5+0.1*1.0), p.Data()[0], 1e-12)
	assert.InDelta(t, -2.0-0.1*(0.5+0.1*-2.0), p.Data()[1], 1e-12)
}

func TestAdamWFirstStep(t *testing.T) {
	p := tensor.FromSlice([]float64{1.0}, 1)
	copy(p.Grad(), []float64{0.2})

	opt := &adamW{beta1: 0.9, beta2: 0.999, eps: 1e-8, weightDecay: 0.0}
	opt.Step([]*tensor.Tensor{p}, 0.1)

	// With bias correction the first update moves by lr * sign(g).
	assert.InDelta(t, 1.0-0.1, p.Data()[0], 1e-6)
}

func TestClipGradients(t *testing.T) {
	p := tensor.FromSlice([]float64{0, 0}, 2)
	copy(p.Grad(), []float64{3, 4})

	norm := clipGradients([]*tensor.Tensor{p}, 1.0)
	assert.InDelta(t, 5.0, norm, 1e-12)
	assert.InDelta(t, 0.6, p.Grad()[0], 1e-12)
	assert.InDelta(t, 0.8, p.Grad()[1], 1e-12)

	small := tensor.FromSlice([]float64{0}, 1)
	copy(small.Grad(), []float64{0.5})
	clipGradients([]*tensor.Tensor{small}, 1.0)
	assert.Equal(t, 0.5, small.Grad()[0])
}

func TestCausalPair(t *testing.T) {
	input, targets := causalPair(dataset.Example{IDs: []int{1, 2, 3, 4}})
	assert.Equal(t, []int{1, 2, 3}, input)
	assert.Equal(t, []int{2, 3, 4}, targets)
}

func TestSFTPairMasksPrompt(t *testing.T) {
	input, targets := sftPair(dataset.Example{IDs: []int{1, 2, 3, 4, 2}, PromptLen: 3})

	assert.Equal(t, []int{1, 2, 3, 4}, input)
	assert.Equal(t, []int{-1, -1, 4, 2}, targets)

	// Zero prompt length behaves like causal.
	_, unmasked := sftPair(dataset.Example{IDs: []int{1, 2, 3}})
	assert.Equal(t, []int{2, 3}, unmasked)
}

func TestTrainingReducesLoss(t *testing.T) {
	rec := &captureRecorder{}
	tr, err := New(KindCausal, Deps{
		Model:    tinyModel(t),
		Train:    cyclicDataset(16),
		Config:   testConfig(),
		Recorder: rec,
	})
	require.NoError(t, err)

	summary, err := tr.Train(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 40, summary.Steps)
	require.GreaterOrEqual(t, len(rec.metrics), 2)
	first := rec.metrics[0].Loss
	assert.Less(t, summary.FinalLoss, first)
	assert.Positive(t, summary.Duration)
}

func TestTrainingEvaluates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSteps = 10
	cfg.EvalInterval = 5

	tr, err := New(KindSFT, Deps{
		Model:  tinyModel(t),
		Train:  cyclicDataset(12),
		Val:    cyclicDataset(4),
		Config: cfg,
	})
	require.NoError(t, err)

	summary, err := tr.Train(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary.FinalValLoss)
	assert.Positive(t, *summary.FinalValLoss)
}

func TestTrainingHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := New(KindCausal, Deps{
		Model:  tinyModel(t),
		Train:  cyclicDataset(8),
		Config: testConfig(),
	})
	require.NoError(t, err)

	_, err = tr.Train(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPeriodicCheckpoints(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ckpts")
	cfg := testConfig()
	cfg.MaxSteps = 6
	cfg.CheckpointInterval = 3

	tr, err := New(KindCausal, Deps{
		Model:         tinyModel(t),
		Train:         cyclicDataset(8),
		Config:        cfg,
		CheckpointDir: dir,
	})
	require.NoError(t, err)

	_, err = tr.Train(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "checkpoint-000003.bin", entries[0].Name())
	assert.Equal(t, "checkpoint-000006.bin", entries[1].Name())
}
