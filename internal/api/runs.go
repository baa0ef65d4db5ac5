package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/mq"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RunResponse struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	TrainerKind string                 `json:"trainer_kind"`
	BaseModel   string                 `json:"base_model,omitempty"`
	Input       map[string]interface{} `json:"input"`
	OutputDir   string                 `json:"output_dir,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metrics     []MetricResponse       `json:"metrics"`
	Artifacts   []ArtifactResponse     `json:"artifacts"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

type MetricResponse struct {
	Step         int      `json:"step"`
	Epoch        int      `json:"epoch"`
	Loss         float64  `json:"loss"`
	ValLoss      *float64 `json:"val_loss,omitempty"`
	LearningRate float64  `json:"learning_rate"`
	TokensPerSec float64  `json:"tokens_per_sec,omitempty"`
}

type ArtifactResponse struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Url      string `json:"url"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

func ListRunsHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid offset"})
		return
	}

	app := c.MustGet("app").(*app.App)
	runs, err := app.RunRepository.List(app.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	responses := make([]*RunResponse, 0, len(runs))
	for i := range runs {
		responses = append(responses, toRunResponse(&runs[i]))
	}

	c.JSON(http.StatusOK, gin.H{"data": responses})
}

func GetRunHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid run id"})
		return
	}

	app := c.MustGet("app").(*app.App)
	run, err := app.RunRepository.GetFullByID(app.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toRunResponse(run)})
}

func GetRunStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid run id"})
		return
	}

	app := c.MustGet("app").(*app.App)
	run, err := app.RunRepository.GetByID(app.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": run.Status})
}

// StreamRunHandler relays progress events for a run over SSE until the
// END sentinel arrives or the client disconnects.
func StreamRunHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid run id"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	app := c.MustGet("app").(*app.App)
	topic := config.DefaultProgressPrefix + id

	for {
		select {
		case <-c.Request.Context().Done():
			return
		default:
			message, err := app.MQ().Receive(app.Context(), topic)
			if err != nil {
				if errors.Is(err, mq.ErrTopicClosed) || errors.Is(err, mq.ErrQueueClosed) {
					return
				}

				continue
			}

			messageData, err := app.MQ().GetMessageData(message)
			if err != nil {
				continue
			}
			if bytes.Equal(messageData, []byte("END")) {
				if err := app.MQ().CloseTopic(topic); err != nil {
					app.Logger.Error("failed to close progress topic", zap.Error(err))
				}

				fmt.Fprintf(c.Writer, "data: {\"type\":\"message\", \"data\":\"%s\"}\n\n", "END")
				c.Writer.Flush()
				return
			}

			if _, err = fmt.Fprintf(c.Writer, "data: %s\n\n", string(messageData)); err != nil {
				continue
			}
			c.Writer.Flush()
		}
	}
}

func toRunResponse(run *models.Run) *RunResponse {
	var decodedInput map[string]interface{}
	if err := json.Unmarshal(run.Params, &decodedInput); err != nil {
		decodedInput = map[string]interface{}{}
	}

	metrics := make([]MetricResponse, 0, len(run.Metrics))
	for _, m := range run.Metrics {
		metrics = append(metrics, MetricResponse{
			Step:         m.Step,
			Epoch:        m.Epoch,
			Loss:         m.Loss,
			ValLoss:      m.ValLoss,
			LearningRate: m.LearningRate,
			TokensPerSec: m.TokensPerSec,
		})
	}

	artifacts := make([]ArtifactResponse, 0, len(run.Artifacts))
	for _, a := range run.Artifacts {
		artifacts = append(artifacts, ArtifactResponse{
			Name:     a.Name,
			Kind:     a.Kind,
			Url:      a.Url,
			Size:     a.Size,
			Checksum: a.Checksum,
		})
	}

	resp := &RunResponse{
		ID:          run.ID.String(),
		Status:      string(run.Status),
		TrainerKind: run.TrainerKind,
		BaseModel:   run.BaseModel,
		Input:       decodedInput,
		OutputDir:   run.OutputDir,
		Error:       run.Error,
		Metrics:     metrics,
		Artifacts:   artifacts,
		CreatedAt:   run.CreatedAt.Time,
	}
	if !run.StartedAt.Time.IsZero() {
		resp.StartedAt = &run.StartedAt.Time
	}
	if !run.CompletedAt.Time.IsZero() {
		resp.CompletedAt = &run.CompletedAt.Time
	}

	return resp
}
