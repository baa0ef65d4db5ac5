package generation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/pipeline"
	"github.com/ember-llm/tune-server/internal/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// trainTinyArtifacts produces a saved checkpoint directory to sample from.
func trainTinyArtifacts(t *testing.T, outputDir string) {
	t.Helper()

	corpus := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(corpus, []byte(strings.Repeat("alpha beta gamma. ", 40)), 0o644))

	training := trainer.DefaultConfig()
	training.BatchSize = 2
	training.Epochs = 1
	training.MaxSteps = 1
	training.WarmupSteps = 1
	training.DecaySteps = 10
	training.EvalInterval = 0
	training.ValFraction = 0

	params := pipeline.Params{
		TrainerKind: trainer.KindCausal,
		DataPaths:   []string{corpus},
		OutputDir:   outputDir,
		VocabSize:   270,
		Model: model.Config{
			VocabSize: 1,
			SeqLen:    8,
			EmbedDim:  8,
			NumHeads:  2,
			NumLayers: 1,
			FFHidden:  16,
		},
		Training: training,
		Seed:     5,
	}

	_, err := pipeline.New(params).Run(context.Background())
	require.NoError(t, err)
}

func TestGenerateFromRunDir(t *testing.T) {
	runsDir := t.TempDir()
	trainTinyArtifacts(t, filepath.Join(runsDir, "my-run"))

	svc := NewService(&config.Config{RunsDir: runsDir, ModelsDir: t.TempDir()}, zap.NewNop())

	res, err := svc.Generate(context.Background(), Params{
		Model:     "my-run",
		Prompt:    "alpha",
		MaxTokens: 8,
		Seed:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, 8, res.OutputIDs)
	assert.Positive(t, res.PromptIDs)
}

func TestGenerateIsDeterministicWithSeed(t *testing.T) {
	runsDir := t.TempDir()
	trainTinyArtifacts(t, filepath.Join(runsDir, "my-run"))

	svc := NewService(&config.Config{RunsDir: runsDir, ModelsDir: t.TempDir()}, zap.NewNop())

	params := Params{Model: "my-run", Prompt: "alpha", MaxTokens: 6, Temperature: 0.8, Seed: 42}
	first, err := svc.Generate(context.Background(), params)
	require.NoError(t, err)
	second, err := svc.Generate(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
}

func TestGenerateRejectsUnknownModel(t *testing.T) {
	svc := NewService(&config.Config{RunsDir: t.TempDir(), ModelsDir: t.TempDir()}, zap.NewNop())

	_, err := svc.Generate(context.Background(), Params{Model: "missing", Prompt: "hi"})
	assert.ErrorContains(t, err, "no checkpoint found")

	_, err = svc.Generate(context.Background(), Params{Prompt: "hi"})
	assert.ErrorContains(t, err, "model is required")
}

func TestEvictForcesReload(t *testing.T) {
	runsDir := t.TempDir()
	dir := filepath.Join(runsDir, "my-run")
	trainTinyArtifacts(t, dir)

	svc := NewService(&config.Config{RunsDir: runsDir, ModelsDir: t.TempDir()}, zap.NewNop())

	_, err := svc.Generate(context.Background(), Params{Model: "my-run", Prompt: "a", MaxTokens: 2, Seed: 1})
	require.NoError(t, err)
	assert.Len(t, svc.cache, 1)

	svc.Evict(dir)
	assert.Empty(t, svc.cache)
}
