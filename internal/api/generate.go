package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/services/generation"
	"github.com/ember-llm/tune-server/internal/utils/webhookutil"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const generateTimeout = 5 * time.Minute

type generateAsyncRequest struct {
	generation.Params
	WebhookUrl string `json:"webhook_url"`
}

type generateWebhookPayload struct {
	ID      string             `json:"id"`
	Status  string             `json:"status"`
	Result  *generation.Result `json:"result,omitempty"`
	Message string             `json:"message,omitempty"`
}

// GenerateTextHandler samples from a trained checkpoint and returns the
// completion in the response body.
func GenerateTextHandler(c *gin.Context) {
	data := generation.Params{}
	if err := c.BindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse request body"})
		return
	}

	app := c.MustGet("app").(*app.App)
	result, err := app.Generation().Generate(c.Request.Context(), data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GenerateTextAsync responds immediately and delivers the completion to
// the webhook URL when sampling finishes.
func GenerateTextAsync(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	data := generateAsyncRequest{}
	if err := c.BindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse request body"})
		return
	}

	if data.WebhookUrl == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "webhook_url is required"})
		return
	}

	requestId := uuid.NewString()
	go generateTextAsync(app, &data, requestId)
	c.JSON(http.StatusOK, gin.H{"status": "pending", "id": requestId})
}

func generateTextAsync(app *app.App, data *generateAsyncRequest, requestId string) {
	ctx, cancel := context.WithTimeout(app.Context(), generateTimeout)
	defer cancel()

	result, err := app.Generation().Generate(ctx, data.Params)

	payload := generateWebhookPayload{ID: requestId, Status: "success", Result: result}
	if err != nil {
		payload = generateWebhookPayload{ID: requestId, Status: "error", Message: err.Error()}
	}

	if err := webhookutil.InvokeWithRetries(ctx, data.WebhookUrl, payload, 3); err != nil {
		app.Logger.Error("failed to invoke webhook", zap.String("id", requestId), zap.Error(err))
	}
}
