// Package finetune queues fine-tuning requests and runs them. Requests
// enter through NewRequest and are picked up by RunProcessor, which
// drives the training pipeline, records metrics, and publishes progress
// events to a per-run topic until the END sentinel.
package finetune

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/mq"
	"github.com/ember-llm/tune-server/internal/pipeline"
	"github.com/ember-llm/tune-server/internal/services/fileuploader"
	"github.com/ember-llm/tune-server/internal/services/screening"
	"github.com/ember-llm/tune-server/internal/trainer"
	"github.com/ember-llm/tune-server/internal/types"
	"github.com/ember-llm/tune-server/internal/utils/webhookutil"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const MaxWebhookAttempts = 3

// ProgressEvent is the payload published to the per-run progress topic
// and forwarded verbatim over the SSE stream.
type ProgressEvent struct {
	Type         string   `json:"type"`
	RunID        string   `json:"run_id"`
	Status       string   `json:"status,omitempty"`
	Error        string   `json:"error,omitempty"`
	Step         int      `json:"step,omitempty"`
	Epoch        int      `json:"epoch,omitempty"`
	Loss         float64  `json:"loss,omitempty"`
	ValLoss      *float64 `json:"val_loss,omitempty"`
	LearningRate float64  `json:"learning_rate,omitempty"`
	TokensPerSec float64  `json:"tokens_per_sec,omitempty"`
}

type webhookPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	OutputDir string `json:"output_dir,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewRequest assigns the run an ID and publishes it to the fine-tune
// topic. The caller is responsible for persisting the run row.
func NewRequest(params *types.FinetuneParams, q mq.MQ) (string, error) {
	if params.ID == "" {
		params.ID = uuid.NewString()
	}

	data, err := msgpack.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request data: %w", err)
	}

	if err := q.Publish(context.Background(), config.DefaultFinetuneTopic, data); err != nil {
		return "", fmt.Errorf("failed to publish message to queue: %w", err)
	}

	return params.ID, nil
}

// RunProcessor consumes the fine-tune topic until the context is done
// or the queue fails. A failed run marks its row and moves on; it does
// not stop the processor.
func RunProcessor(app *app.App) error {
	ctx := app.Context()

	for {
		message, err := app.MQ().Receive(ctx, config.DefaultFinetuneTopic)
		if err != nil {
			return err
		}

		data, err := app.MQ().GetMessageData(message)
		if err != nil {
			return err
		}
		if err := app.MQ().Ack(config.DefaultFinetuneTopic, message); err != nil {
			app.Logger.Error("failed to ack message", zap.Error(err))
		}

		var params types.FinetuneParams
		if err := msgpack.Unmarshal(data, &params); err != nil {
			app.Logger.Error("failed to parse request data", zap.Error(err))
			continue
		}

		if err := processRun(app, &params); err != nil {
			app.Logger.Error("run failed", zap.String("run_id", params.ID), zap.Error(err))
		}
	}
}

func processRun(app *app.App, params *types.FinetuneParams) error {
	ctx := app.Context()
	cfg := app.Config()

	runID, err := uuid.Parse(params.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", params.ID, err)
	}

	topic := config.DefaultProgressPrefix + params.ID
	defer func() {
		if err := app.MQ().Publish(ctx, topic, []byte("END")); err != nil {
			app.Logger.Error("failed to publish end message", zap.Error(err))
		}
	}()

	if err := app.RunRepository.MarkStarted(ctx, params.ID); err != nil {
		app.Logger.Error("failed to mark run started", zap.String("run_id", params.ID), zap.Error(err))
	}
	publishStatus(ctx, app, params.ID, models.RunStatusProgress, "")

	plParams := buildPipelineParams(cfg, app, params)
	opts := []pipeline.Option{
		pipeline.WithLogger(app.Logger),
		pipeline.WithRecorder(newRunRecorder(app, runID)),
	}
	if app.ModelFetcher() != nil {
		opts = append(opts, pipeline.WithFetcher(app.ModelFetcher()))
	}
	if cfg.ScreenDataset && params.TrainerKind == trainer.KindSFT {
		opts = append(opts, pipeline.WithScreener(screening.NewScreener(cfg, app.Logger)))
	}

	artifacts, err := pipeline.New(plParams, opts...).Run(ctx)
	if err != nil {
		if dbErr := app.RunRepository.MarkFailed(ctx, params.ID, err.Error()); dbErr != nil {
			app.Logger.Error("failed to mark run failed", zap.String("run_id", params.ID), zap.Error(dbErr))
		}
		publishStatus(ctx, app, params.ID, models.RunStatusFailed, err.Error())
		notifyWebhook(ctx, app, params, models.RunStatusFailed, "", err.Error())
		return err
	}

	saveArtifacts(ctx, app, runID, params.ID, artifacts)

	if err := app.RunRepository.MarkCompleted(ctx, params.ID, plParams.OutputDir); err != nil {
		app.Logger.Error("failed to mark run completed", zap.String("run_id", params.ID), zap.Error(err))
	}
	publishStatus(ctx, app, params.ID, models.RunStatusCompleted, "")
	notifyWebhook(ctx, app, params, models.RunStatusCompleted, plParams.OutputDir, "")

	return nil
}

// buildPipelineParams maps a queued request onto pipeline parameters.
// The output directory is derived from the run ID so artifacts can be
// located by name later.
func buildPipelineParams(cfg *config.Config, app *app.App, params *types.FinetuneParams) pipeline.Params {
	p := pipeline.Params{
		BaseModel:   params.BaseModel,
		TrainerKind: params.TrainerKind,
		DataPaths:   params.DataPaths,
		MaxSamples:  params.MaxSamples,
		VocabSize:   params.VocabSize,
		OutputDir:   filepath.Join(cfg.RunsDir, params.ID),
		Training:    trainer.DefaultConfig(),
		Seed:        params.RandomSeed,
	}

	if fetcher := app.ModelFetcher(); fetcher != nil {
		p.BaseModel = fetcher.ResolveName(params.BaseModel)
	}
	if params.Model != nil {
		p.Model = *params.Model
	}
	if params.Training != nil {
		p.Training = *params.Training
	}

	return p
}

// saveArtifacts uploads each artifact and records a row for it. When no
// uploader is configured the local path is stored instead, so the run
// remains inspectable on single-node setups.
func saveArtifacts(ctx context.Context, app *app.App, runID uuid.UUID, id string, artifacts []pipeline.Artifact) {
	for _, a := range artifacts {
		url := a.Path

		if uploader := app.Uploader(); uploader != nil {
			response := make(chan fileuploader.Result, 1)
			uploader.UploadFile(ctx, a.Path, id+"/"+a.Name, response)
			if result := <-response; result.Err != nil {
				app.Logger.Warn("artifact upload failed", zap.String("name", a.Name), zap.Error(result.Err))
			} else {
				url = result.Url
			}
		}

		artifact := models.NewArtifact(runID, a.Name, a.Kind, url, a.Size, a.Checksum)
		if _, err := app.ArtifactRepository.Create(ctx, artifact); err != nil {
			app.Logger.Error("failed to record artifact", zap.String("name", a.Name), zap.Error(err))
		}
	}
}

func publishStatus(ctx context.Context, app *app.App, id string, status models.RunStatus, errMsg string) {
	event := ProgressEvent{
		Type:   "status",
		RunID:  id,
		Status: string(status),
		Error:  errMsg,
	}

	data, err := json.Marshal(event)
	if err != nil {
		app.Logger.Error("failed to marshal status event", zap.Error(err))
		return
	}

	topic := config.DefaultProgressPrefix + id
	if err := app.MQ().Publish(ctx, topic, data); err != nil {
		app.Logger.Error("failed to publish status event", zap.Error(err))
	}
}

func notifyWebhook(ctx context.Context, app *app.App, params *types.FinetuneParams, status models.RunStatus, outputDir, errMsg string) {
	if params.WebhookUrl == "" {
		return
	}

	payload := webhookPayload{
		ID:        params.ID,
		Status:    string(status),
		OutputDir: outputDir,
		Error:     errMsg,
	}
	if err := webhookutil.InvokeWithRetries(ctx, params.WebhookUrl, payload, MaxWebhookAttempts); err != nil {
		app.Logger.Error("failed to invoke webhook", zap.String("run_id", params.ID), zap.Error(err))
	}
}
