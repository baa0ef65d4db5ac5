package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/services/finetune"
	"github.com/ember-llm/tune-server/internal/trainer"
	"github.com/ember-llm/tune-server/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// SubmitFinetuneHandler queues a fine-tuning run. The request body can
// be JSON or msgpack; the run row is created before the response so a
// status poll right after submission finds it.
func SubmitFinetuneHandler(c *gin.Context) {
	var params = types.FinetuneParamsRequest{}
	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/json" // Default to JSON
	}

	switch contentType {
	case "application/msgpack":
		if err := c.ShouldBindWith(&params, binding.MsgPack); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse msgpack request body"})
			return
		}
	case "application/json":
		if err := c.ShouldBindWith(&params, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse json request body"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"message": "unsupported content type: " + contentType})
		return
	}

	if err := validateFinetuneRequest(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	app := c.MustGet("app").(*app.App)
	reqParams := params.WithID(uuid.NewString())

	encodedParams, err := json.Marshal(reqParams)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	id := uuid.MustParse(reqParams.ID)
	run := models.NewRun(id, reqParams.TrainerKind, reqParams.BaseModel, encodedParams)
	if _, err := app.RunRepository.Create(app.Context(), run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	if _, err := finetune.NewRequest(reqParams, app.MQ()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, types.FinetuneResponse{
		ID:     reqParams.ID,
		Input:  &params,
		Status: string(models.RunStatusQueued),
	})
}

func validateFinetuneRequest(params *types.FinetuneParamsRequest) error {
	if params.TrainerKind == "" {
		params.TrainerKind = trainer.KindCausal
	}
	if !trainer.Registered(params.TrainerKind) {
		return fmt.Errorf("unknown trainer kind %q (registered: %s)",
			params.TrainerKind, strings.Join(trainer.Kinds(), ", "))
	}
	if len(params.DataPaths) == 0 {
		return fmt.Errorf("at least one dataset path is required")
	}

	return nil
}
