// Package trainer runs the optimization loop over a model and a
// prepared dataset. Trainer kinds are registered by name; the two
// built-ins are "causal" next-token training and "sft" supervised
// fine-tuning with prompt masking.
package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/ember-llm/tune-server/internal/dataset"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/tensor"

	"go.uber.org/zap"
)

type Config struct {
	LearningRate       float64 `json:"learning_rate"`
	BatchSize          int     `json:"batch_size"`
	Epochs             int     `json:"epochs"`
	MaxSteps           int     `json:"max_steps"`
	WarmupSteps        int     `json:"warmup_steps"`
	DecaySteps         int     `json:"decay_steps"`
	MinLR              float64 `json:"min_lr"`
	Optimizer          string  `json:"optimizer"`
	AdamBeta1          float64 `json:"adam_beta1"`
	AdamBeta2          float64 `json:"adam_beta2"`
	AdamEpsilon        float64 `json:"adam_epsilon"`
	WeightDecay        float64 `json:"weight_decay"`
	GradClip           float64 `json:"grad_clip"`
	ValFraction        float64 `json:"val_fraction"`
	LogInterval        int     `json:"log_interval"`
	EvalInterval       int     `json:"eval_interval"`
	CheckpointInterval int     `json:"checkpoint_interval"`
	Seed               int64   `json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		LearningRate: 3e-4,
		BatchSize:    32,
		Epochs:       10,
		WarmupSteps:  2000,
		DecaySteps:   10000,
		MinLR:        1e-5,
		Optimizer:    OptimizerAdamW,
		AdamBeta1:    0.9,
		AdamBeta2:    0.999,
		AdamEpsilon:  1e-8,
		WeightDecay:  0.01,
		GradClip:     1.0,
		ValFraction:  0.1,
		LogInterval:  100,
		EvalInterval: 500,
	}
}

func (c Config) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.ValFraction < 0 || c.ValFraction > 0.5 {
		return fmt.Errorf("val fraction must be in [0, 0.5], got %g", c.ValFraction)
	}
	switch c.Optimizer {
	case "", OptimizerAdamW, OptimizerSGD:
	default:
		return fmt.Errorf("unknown optimizer %q", c.Optimizer)
	}

	return nil
}

// Metrics is one recorded observation of the loop.
type Metrics struct {
	Step         int
	Epoch        int
	Loss         float64
	ValLoss      *float64
	LR           float64
	TokensPerSec float64
}

// Recorder receives metrics as training progresses. Implementations
// must tolerate being called from the training goroutine.
type Recorder interface {
	Record(ctx context.Context, m Metrics) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Metrics) error { return nil }

// NopRecorder discards all metrics.
func NopRecorder() Recorder { return nopRecorder{} }

type Summary struct {
	Steps        int
	Epochs       int
	FinalLoss    float64
	FinalValLoss *float64
	Duration     time.Duration
}

type Trainer interface {
	Train(ctx context.Context) (Summary, error)
}

// Deps carries everything a trainer constructor needs.
type Deps struct {
	Model    *model.GPT
	Train    *dataset.Dataset
	Val      *dataset.Dataset
	Config   Config
	Recorder Recorder
	Logger   *zap.Logger

	// CheckpointDir enables periodic checkpoints when set together
	// with Config.CheckpointInterval.
	CheckpointDir string
}

func (d *Deps) withDefaults() error {
	if d.Model == nil {
		return fmt.Errorf("trainer requires a model")
	}
	if d.Train == nil || d.Train.Len() == 0 {
		return fmt.Errorf("trainer requires a non-empty training dataset")
	}
	if err := d.Config.Validate(); err != nil {
		return err
	}
	if d.Val == nil {
		d.Val = &dataset.Dataset{}
	}
	if d.Recorder == nil {
		d.Recorder = NopRecorder()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	return nil
}

// pairFunc derives the (input, target) views of an example. Targets
// of -1 are masked out of the loss.
type pairFunc func(ex dataset.Example) (input, targets []int)

type baseTrainer struct {
	kind string
	deps Deps
	pair pairFunc
}

func (t *baseTrainer) Train(ctx context.Context) (Summary, error) {
	cfg := t.deps.Config
	opt, err := newOptimizer(cfg)
	if err != nil {
		return Summary{}, err
	}

	params := t.deps.Model.Parameters()
	sched := newSchedule(cfg)
	rng := rand.New(rand.NewSource(cfg.Seed))
	logger := t.deps.Logger.Named(t.kind)

	logger.Info("training started",
		zap.Int("examples", t.deps.Train.Len()),
		zap.Int("val_examples", t.deps.Val.Len()),
		zap.Int("parameters", t.deps.Model.NumParameters()),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("epochs", cfg.Epochs),
	)

	start := time.Now()
	summary := Summary{}
	step := 0

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		t.deps.Train.Shuffle(rng)

		for batchStart := 0; batchStart < t.deps.Train.Len(); batchStart += cfg.BatchSize {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			default:
			}

			batchEnd := batchStart + cfg.BatchSize
			if batchEnd > t.deps.Train.Len() {
				batchEnd = t.deps.Train.Len()
			}
			batch := t.deps.Train.Examples[batchStart:batchEnd]

			lr := sched.next()
			stepStart := time.Now()
			loss, tokens, err := t.step(batch, opt, params, lr)
			if err != nil {
				return summary, fmt.Errorf("step %d failed: %w", step+1, err)
			}
			step++

			tokensPerSec := float64(tokens) / time.Since(stepStart).Seconds()
			summary.Steps = step
			summary.Epochs = epoch + 1
			summary.FinalLoss = loss

			if cfg.LogInterval > 0 && step%cfg.LogInterval == 0 {
				m := Metrics{Step: step, Epoch: epoch + 1, Loss: loss, LR: lr, TokensPerSec: tokensPerSec}
				logger.Info("step",
					zap.Int("step", step),
					zap.Int("epoch", epoch+1),
					zap.Float64("loss", loss),
					zap.Float64("lr", lr),
					zap.Float64("tokens_per_sec", tokensPerSec),
				)
				if err := t.deps.Recorder.Record(ctx, m); err != nil {
					return summary, fmt.Errorf("failed to record metrics: %w", err)
				}
			}

			if cfg.EvalInterval > 0 && step%cfg.EvalInterval == 0 && t.deps.Val.Len() > 0 {
				valLoss, err := t.evaluate()
				if err != nil {
					return summary, err
				}
				summary.FinalValLoss = &valLoss
				logger.Info("eval", zap.Int("step", step), zap.Float64("val_loss", valLoss))

				m := Metrics{Step: step, Epoch: epoch + 1, Loss: loss, ValLoss: &valLoss, LR: lr, TokensPerSec: tokensPerSec}
				if err := t.deps.Recorder.Record(ctx, m); err != nil {
					return summary, fmt.Errorf("failed to record metrics: %w", err)
				}
			}

			if cfg.CheckpointInterval > 0 && t.deps.CheckpointDir != "" && step%cfg.CheckpointInterval == 0 {
				if err := t.checkpoint(step); err != nil {
					return summary, err
				}
			}

			if cfg.MaxSteps > 0 && step >= cfg.MaxSteps {
				summary.Duration = time.Since(start)
				logger.Info("max steps reached", zap.Int("steps", step))
				return t.finish(ctx, summary)
			}
		}
	}

	summary.Duration = time.Since(start)
	return t.finish(ctx, summary)
}

// finish runs a closing eval and records the terminal metrics row.
func (t *baseTrainer) finish(ctx context.Context, summary Summary) (Summary, error) {
	if t.deps.Val.Len() > 0 {
		valLoss, err := t.evaluate()
		if err != nil {
			return summary, err
		}
		summary.FinalValLoss = &valLoss
	}

	m := Metrics{
		Step:    summary.Steps,
		Epoch:   summary.Epochs,
		Loss:    summary.FinalLoss,
		ValLoss: summary.FinalValLoss,
	}
	if err := t.deps.Recorder.Record(ctx, m); err != nil {
		return summary, fmt.Errorf("failed to record metrics: %w", err)
	}

	t.deps.Logger.Named(t.kind).Info("training finished",
		zap.Int("steps", summary.Steps),
		zap.Float64("loss", summary.FinalLoss),
		zap.Duration("duration", summary.Duration),
	)

	return summary, nil
}

// step accumulates gradients over the batch, clips them by global
// norm, and applies one optimizer update. Returns the mean loss and
// the token count processed.
func (t *baseTrainer) step(batch []dataset.Example, opt Optimizer, params []*tensor.Tensor, lr float64) (float64, int, error) {
	t.deps.Model.ZeroGrad()

	totalLoss := 0.0
	tokens := 0
	scale := 1.0 / float64(len(batch))
	for _, ex := range batch {
		input, targets := t.pair(ex)
		logits, cache, err := t.deps.Model.ForwardWithCache(input)
		if err != nil {
			return 0, 0, err
		}

		totalLoss += tensor.CrossEntropy(logits, targets)
		grad := tensor.Scale(tensor.CrossEntropyBackward(logits, targets), scale)
		t.deps.Model.Backward(cache, grad)
		tokens += len(input)
	}

	if t.deps.Config.GradClip > 0 {
		clipGradients(params, t.deps.Config.GradClip)
	}
	opt.Step(params, lr)

	return totalLoss * scale, tokens, nil
}

func (t *baseTrainer) evaluate() (float64, error) {
	total := 0.0
	for _, ex := range t.deps.Val.Examples {
		input, targets := t.pair(ex)
		logits, err := t.deps.Model.Forward(input)
		if err != nil {
			return 0, fmt.Errorf("eval failed: %w", err)
		}
		total += tensor.CrossEntropy(logits, targets)
	}

	return total / float64(t.deps.Val.Len()), nil
}

func (t *baseTrainer) checkpoint(step int) error {
	if err := os.MkdirAll(t.deps.CheckpointDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	path := filepath.Join(t.deps.CheckpointDir, fmt.Sprintf("checkpoint-%06d.bin", step))
	if err := t.deps.Model.Save(path); err != nil {
		return fmt.Errorf("failed to write checkpoint at step %d: %w", step, err)
	}

	t.deps.Logger.Debug("checkpoint written", zap.String("path", path))
	return nil
}
