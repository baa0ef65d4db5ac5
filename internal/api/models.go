package api

import (
	"net/http"
	"sort"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/db/repository"

	"github.com/gin-gonic/gin"
)

type BaseModelResponse struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	LocalPath string `json:"local_path,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	Ready     bool   `json:"ready"`
}

// ListBaseModelsHandler returns the configured base models, merged with
// what the database knows about their local copies.
func ListBaseModelsHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	cfg := app.Config()

	names := make([]string, 0, len(cfg.BaseModels))
	for name := range cfg.BaseModels {
		names = append(names, name)
	}
	sort.Strings(names)

	known := map[string]models.BaseModel{}
	if app.DB() != nil && len(names) > 0 {
		rows, err := repository.GetBaseModels(app.Context(), app.DB(), names)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		for _, row := range rows {
			known[row.Name] = row
		}
	}

	responses := make([]BaseModelResponse, 0, len(names))
	for _, name := range names {
		resp := BaseModelResponse{
			Name:   name,
			Source: cfg.BaseModels[name],
		}
		if row, ok := known[name]; ok {
			resp.LocalPath = row.LocalPath
			resp.Size = row.Size
			resp.Checksum = row.Checksum
			resp.Ready = row.LocalPath != ""
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"data": responses})
}
