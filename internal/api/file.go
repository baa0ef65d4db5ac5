package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/services/filestorage"
	"github.com/ember-llm/tune-server/internal/services/fileuploader"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// UploadFileHandler stores an uploaded file, typically a dataset, and
// returns its URL. The object name is the blake3 hash of the content.
func UploadFileHandler(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse request body"})
		return
	}

	content, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to open file"})
		return
	}
	defer content.Close()

	fileBytes, err := io.ReadAll(content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to read file"})
		return
	}

	response := make(chan fileuploader.Result, 1)
	app := c.MustGet("app").(*app.App)
	app.Uploader().UploadBytes(app.Context(), fileBytes, filepath.Ext(file.Filename), response)

	result := <-response
	if result.Err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": result.Err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data": map[string]string{
			"url": result.Url,
		},
	})
}

func GetFile(c *gin.Context) {
	filename := strings.TrimPrefix(c.Param("filepath"), "/")
	if filename == "" || strings.Contains(filename, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid file path"})
		return
	}
	app := c.MustGet("app").(*app.App)

	storage, err := filestorage.NewFileStorage(app.Config())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	if app.Config().Filesystem == config.FilesystemLocal {
		file, err := storage.ResolveFile(filename, "", false)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"message": "file not found"})
			return
		}

		c.File(file)
		return
	} else {
		file, err := storage.GetFile(c.Request.Context(), filename)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"message": "file not found"})
			return
		}

		content := file.Content.([]byte)
		mimeType := mimetype.Detect(content).String()
		c.Data(http.StatusOK, mimeType, content)
	}
}
