package finetune

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/trainer"
	"github.com/ember-llm/tune-server/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()

	cfg := &config.Config{
		Environment: "test",
		RunsDir:     t.TempDir(),
		ModelsDir:   t.TempDir(),
	}

	a, err := app.NewApp(cfg, app.WithMQ())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return a
}

func TestNewRequestAssignsID(t *testing.T) {
	a := newTestApp(t)

	params := &types.FinetuneParams{
		TrainerKind: trainer.KindCausal,
		DataPaths:   []string{"corpus.txt"},
	}

	id, err := NewRequest(params, a.MQ())
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	message, err := a.MQ().Receive(context.Background(), config.DefaultFinetuneTopic)
	require.NoError(t, err)
	data, err := a.MQ().GetMessageData(message)
	require.NoError(t, err)

	var decoded types.FinetuneParams
	require.NoError(t, msgpack.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded.ID)
	assert.Equal(t, trainer.KindCausal, decoded.TrainerKind)
	assert.Equal(t, []string{"corpus.txt"}, decoded.DataPaths)
}

func TestNewRequestKeepsExistingID(t *testing.T) {
	a := newTestApp(t)

	want := uuid.NewString()
	params := &types.FinetuneParams{ID: want, DataPaths: []string{"corpus.txt"}}

	id, err := NewRequest(params, a.MQ())
	require.NoError(t, err)
	assert.Equal(t, want, id)
}

func TestRecorderPublishesMetricEvents(t *testing.T) {
	a := newTestApp(t)
	runID := uuid.Must(uuid.NewRandom())

	recorder := newRunRecorder(a, runID)
	valLoss := 3.1
	require.NoError(t, recorder.Record(context.Background(), trainer.Metrics{
		Step:         7,
		Epoch:        1,
		Loss:         2.5,
		ValLoss:      &valLoss,
		LR:           0.001,
		TokensPerSec: 120,
	}))

	topic := config.DefaultProgressPrefix + runID.String()
	message, err := a.MQ().Receive(context.Background(), topic)
	require.NoError(t, err)
	data, err := a.MQ().GetMessageData(message)
	require.NoError(t, err)

	var event ProgressEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "metric", event.Type)
	assert.Equal(t, runID.String(), event.RunID)
	assert.Equal(t, 7, event.Step)
	assert.Equal(t, 2.5, event.Loss)
	require.NotNil(t, event.ValLoss)
	assert.Equal(t, 3.1, *event.ValLoss)
	assert.Equal(t, 0.001, event.LearningRate)
}

func TestBuildPipelineParams(t *testing.T) {
	a := newTestApp(t)
	cfg := a.Config()

	id := uuid.NewString()
	params := &types.FinetuneParams{
		ID:          id,
		BaseModel:   "base.bin",
		TrainerKind: trainer.KindSFT,
		DataPaths:   []string{"a.jsonl", "b.jsonl"},
		MaxSamples:  100,
	}

	p := buildPipelineParams(cfg, a, params)
	assert.Equal(t, filepath.Join(cfg.RunsDir, id), p.OutputDir)
	assert.Equal(t, "base.bin", p.BaseModel)
	assert.Equal(t, trainer.KindSFT, p.TrainerKind)
	assert.Equal(t, trainer.DefaultConfig(), p.Training)
	assert.Equal(t, model.Config{}, p.Model)

	custom := trainer.DefaultConfig()
	custom.Epochs = 3
	params.Training = &custom
	params.Model = &model.Config{NumLayers: 2, NumHeads: 2, EmbedDim: 16, SeqLen: 32, FFHidden: 32}

	p = buildPipelineParams(cfg, a, params)
	assert.Equal(t, 3, p.Training.Epochs)
	assert.Equal(t, 2, p.Model.NumLayers)
}
