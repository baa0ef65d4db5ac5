package finetune

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/trainer"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// runRecorder persists training metrics and fans them out to the
// per-run progress topic. A DB write failure is logged but does not
// interrupt training; a publish failure does, since subscribers would
// otherwise silently fall behind.
type runRecorder struct {
	app   *app.App
	runID uuid.UUID
	topic string
}

func newRunRecorder(app *app.App, runID uuid.UUID) trainer.Recorder {
	return &runRecorder{
		app:   app,
		runID: runID,
		topic: config.DefaultProgressPrefix + runID.String(),
	}
}

func (r *runRecorder) Record(ctx context.Context, m trainer.Metrics) error {
	metric := models.NewMetric(r.runID, m.Step, m.Epoch, m.Loss, m.LR)
	metric.ValLoss = m.ValLoss
	metric.TokensPerSec = m.TokensPerSec

	if r.app.MetricRepository != nil {
		if _, err := r.app.MetricRepository.Create(ctx, metric); err != nil {
			r.app.Logger.Error("failed to record metric",
				zap.String("run_id", r.runID.String()), zap.Int("step", m.Step), zap.Error(err))
		}
	}

	event := ProgressEvent{
		Type:         "metric",
		RunID:        r.runID.String(),
		Step:         m.Step,
		Epoch:        m.Epoch,
		Loss:         m.Loss,
		ValLoss:      m.ValLoss,
		LearningRate: m.LR,
		TokensPerSec: m.TokensPerSec,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal metric event: %w", err)
	}

	return r.app.MQ().Publish(ctx, r.topic, data)
}
