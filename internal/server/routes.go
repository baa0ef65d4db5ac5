package server

import (
	"net/http"

	"github.com/ember-llm/tune-server/internal/api"
	"github.com/ember-llm/tune-server/internal/api/middleware"
	"github.com/ember-llm/tune-server/internal/app"

	"github.com/gin-gonic/gin"
)

func (s *Server) SetupRoutes(app *app.App) {
	// Health check endpoint
	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Not an API, just a simple file server endpoint. Wildcard so
	// run-scoped artifact paths like <run-id>/model.bin resolve.
	s.ginEngine.GET("/file/*filepath", handlerWrapper(app, api.GetFile))

	apiV1 := s.ginEngine.Group("/api/v1")

	// Authentication middleware
	apiV1.Use(handlerWrapper(app, middleware.AuthenticationMiddleware))

	apiV1.POST("/upload", handlerWrapper(app, api.UploadFileHandler))

	apiV1.POST("/finetune", handlerWrapper(app, api.SubmitFinetuneHandler))
	apiV1.GET("/runs", handlerWrapper(app, api.ListRunsHandler))
	apiV1.GET("/runs/:id", handlerWrapper(app, api.GetRunHandler))
	apiV1.GET("/runs/:id/status", handlerWrapper(app, api.GetRunStatus))
	apiV1.GET("/runs/:id/stream", handlerWrapper(app, api.StreamRunHandler))

	apiV1.POST("/generate", handlerWrapper(app, api.GenerateTextHandler))
	apiV1.POST("/generate_async", handlerWrapper(app, api.GenerateTextAsync))

	apiV1.GET("/models", handlerWrapper(app, api.ListBaseModelsHandler))
}

func handlerWrapper(app *app.App, f func(c *gin.Context)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set("app", app)
		f(ctx)
	}
}
