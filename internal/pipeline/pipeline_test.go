package pipeline

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ember-llm/tune-server/internal/dataset"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/tokenizer"
	"github.com/ember-llm/tune-server/internal/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallModelConfig() model.Config {
	return model.Config{
		VocabSize: 1, // overridden by the tokenizer vocabulary
		SeqLen:    8,
		EmbedDim:  8,
		NumHeads:  2,
		NumLayers: 1,
		FFHidden:  16,
	}
}

func smokeTraining() trainer.Config {
	cfg := trainer.DefaultConfig()
	cfg.BatchSize = 2
	cfg.Epochs = 1
	cfg.MaxSteps = 2
	cfg.WarmupSteps = 1
	cfg.DecaySteps = 10
	cfg.LogInterval = 1
	cfg.EvalInterval = 0
	cfg.ValFraction = 0.25
	return cfg
}

func corpusFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("the quick brown fox. ", 40)), 0o644))
	return path
}

func instructFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.jsonl")
	lines := []string{
		`{"prompt": "2+2=", "completion": "4"}`,
		`{"prompt": "3+3=", "completion": "6"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))
	return path
}

func causalParams(t *testing.T) Params {
	return Params{
		TrainerKind: trainer.KindCausal,
		DataPaths:   []string{corpusFile(t)},
		OutputDir:   filepath.Join(t.TempDir(), "out"),
		VocabSize:   280,
		Model:       smallModelConfig(),
		Training:    smokeTraining(),
		Seed:        7,
	}
}

func TestTrainBeforeSetupFails(t *testing.T) {
	p := New(causalParams(t))

	_, err := p.Train(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotSetup)
}

func TestSaveBeforeSetupFails(t *testing.T) {
	p := New(causalParams(t))

	_, err := p.Save(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotSetup)
}

func TestSetupRejectsUnknownTrainerKind(t *testing.T) {
	params := causalParams(t)
	params.TrainerKind = "dpo"

	err := New(params).Setup(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, trainer.ErrUnknownKind)
}

func TestParamsValidation(t *testing.T) {
	base := causalParams(t)

	p := base
	p.DataPaths = nil
	assert.Error(t, New(p).Setup(context.Background()))

	p = base
	p.OutputDir = ""
	assert.Error(t, New(p).Setup(context.Background()))

	p = base
	p.TrainerKind = ""
	assert.Error(t, New(p).Setup(context.Background()))
}

func TestRunCausalEndToEnd(t *testing.T) {
	params := causalParams(t)
	p := New(params)

	artifacts, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	byName := map[string]Artifact{}
	for _, a := range artifacts {
		byName[a.Name] = a
		assert.NotEmpty(t, a.Checksum)
		assert.Positive(t, a.Size)
		assert.FileExists(t, a.Path)
	}
	require.Contains(t, byName, CheckpointFile)
	require.Contains(t, byName, TokenizerFile)
	require.Contains(t, byName, ManifestFile)

	data, err := os.ReadFile(byName[ManifestFile].Path)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, trainer.KindCausal, m.TrainerKind)
	assert.Equal(t, 2, m.Steps)
	assert.Positive(t, m.FinalLoss)
	assert.Positive(t, m.Examples)

	// The saved artifacts are loadable and usable for sampling.
	g, err := model.Load(byName[CheckpointFile].Path)
	require.NoError(t, err)
	tok, err := tokenizer.Load(byName[TokenizerFile].Path)
	require.NoError(t, err)

	out, err := g.Generate(tok.Encode("the"), 4, model.SampleConfig{}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, out, 4)
}

type fakeScreener struct {
	records []dataset.Record
	err     error
}

func (f *fakeScreener) Screen(_ context.Context, records []dataset.Record) error {
	f.records = records
	return f.err
}

func TestRunSFTScreensRecords(t *testing.T) {
	params := Params{
		TrainerKind: trainer.KindSFT,
		DataPaths:   []string{instructFile(t)},
		OutputDir:   filepath.Join(t.TempDir(), "out"),
		VocabSize:   259,
		Model:       smallModelConfig(),
		Training:    smokeTraining(),
	}
	screener := &fakeScreener{}
	p := New(params, WithScreener(screener))

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, screener.records, 2)
	assert.Equal(t, "2+2=", screener.records[0].Prompt)
}

func TestSetupFailsWhenScreenerRejects(t *testing.T) {
	params := Params{
		TrainerKind: trainer.KindSFT,
		DataPaths:   []string{instructFile(t)},
		OutputDir:   filepath.Join(t.TempDir(), "out"),
		VocabSize:   259,
		Model:       smallModelConfig(),
		Training:    smokeTraining(),
	}
	screener := &fakeScreener{err: assert.AnError}

	err := New(params, WithScreener(screener)).Setup(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

type fakeFetcher struct {
	got  string
	path string
}

func (f *fakeFetcher) EnsureLocal(_ context.Context, source string) (string, error) {
	f.got = source
	return f.path, nil
}

// trainArtifacts produces a saved artifact directory for reuse as a
// base model.
func trainArtifacts(t *testing.T) string {
	t.Helper()
	params := causalParams(t)
	_, err := New(params).Run(context.Background())
	require.NoError(t, err)
	return params.OutputDir
}

func TestSetupResolvesRemoteBaseModel(t *testing.T) {
	baseDir := trainArtifacts(t)
	fetcher := &fakeFetcher{path: baseDir}

	params := causalParams(t)
	params.BaseModel = "hf:ember-llm/gpt-nano"
	p := New(params, WithFetcher(fetcher))

	require.NoError(t, p.Setup(context.Background()))
	assert.Equal(t, "hf:ember-llm/gpt-nano", fetcher.got)

	// Tokenizer and weights must come from the fetched directory.
	assert.Equal(t, p.Model().Config().VocabSize, p.Tokenizer().VocabSize())
}

func TestSetupRequiresFetcherForRemoteSources(t *testing.T) {
	params := causalParams(t)
	params.BaseModel = "hf:ember-llm/gpt-nano"

	err := New(params).Setup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model fetcher")
}

func TestSetupRejectsMissingLocalBaseModel(t *testing.T) {
	params := causalParams(t)
	params.BaseModel = filepath.Join(t.TempDir(), "missing.bin")

	assert.Error(t, New(params).Setup(context.Background()))
}

func TestSetupRejectsVocabMismatch(t *testing.T) {
	baseDir := trainArtifacts(t)

	// A differently sized tokenizer cannot drive the saved weights.
	otherTok := tokenizer.New()
	require.NoError(t, otherTok.Train(strings.Repeat("zelda zelda link ", 60), 300))
	tokPath := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, otherTok.Save(tokPath))

	params := causalParams(t)
	params.BaseModel = baseDir
	params.TokenizerPath = tokPath

	err := New(params).Setup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocab size")
}

func TestSaveWithoutTrainWritesInitialWeights(t *testing.T) {
	p := New(causalParams(t))
	require.NoError(t, p.Setup(context.Background()))

	artifacts, err := p.Save(context.Background())
	require.NoError(t, err)
	assert.Len(t, artifacts, 3)
	assert.Nil(t, p.Summary())

	data, err := os.ReadFile(filepath.Join(p.params.OutputDir, ManifestFile))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Zero(t, m.Steps)
}
