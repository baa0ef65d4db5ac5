package filestorage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ember-llm/tune-server/internal/config"
)

var ErrUnknownFileKind = errors.New("unknown file kind")

type FileKind int

const (
	FileKindBytes FileKind = iota
	FileKindStream
)

type FileInfo struct {
	Name      string
	Extension string
	Kind      FileKind
	Content   interface{}
	IsTemp    bool
}

type FileStorage interface {
	Upload(ctx context.Context, file FileInfo) (string, error)
	UploadMultiple(ctx context.Context, files []FileInfo) ([]string, error)
	GetFile(ctx context.Context, filename string) (*FileInfo, error)
	ResolveFile(filename string, subfolder string, isTemp bool) (string, error)
}

func NewFileInfo(name string, extension string, content []byte, isTemp bool) FileInfo {
	return FileInfo{
		Name:      name,
		Extension: extension,
		Kind:      FileKindBytes,
		Content:   content,
		IsTemp:    isTemp,
	}
}

func NewFileStorage(cfg *config.Config) (FileStorage, error) {
	filesystem := strings.ToLower(cfg.Filesystem)

	if filesystem == config.FilesystemLocal {
		return NewLocalFileStorage(cfg)
	} else if filesystem == config.FilesystemS3 {
		return NewS3FileStorage(cfg)
	}

	return nil, fmt.Errorf("invalid filesystem type %s", cfg.Filesystem)
}
