package fileuploader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ember-llm/tune-server/internal/services/filestorage"
	"github.com/ember-llm/tune-server/internal/utils/hashutil"
	"github.com/gammazero/workerpool"
)

var ErrNoStorage = errors.New("no file storage configured")

type Result struct {
	Name string
	Url  string
	Err  error
}

type Uploader struct {
	wp          *workerpool.WorkerPool
	filestorage filestorage.FileStorage
}

func NewFileUploader(filestorage filestorage.FileStorage, maxWorkers int) *Uploader {
	wp := workerpool.New(maxWorkers)

	return &Uploader{
		wp:          wp,
		filestorage: filestorage,
	}
}

func (w *Uploader) Stop() {
	w.wp.Stop()
}

// StopWait blocks until queued uploads have drained.
func (w *Uploader) StopWait() {
	w.wp.StopWait()
}

func (w *Uploader) Upload(ctx context.Context, file filestorage.FileInfo, response chan Result) {
	w.wp.Submit(func() {
		w.upload(ctx, file, response)
	})
}

func (w *Uploader) UploadBytes(ctx context.Context, data []byte, extension string, response chan Result) {
	fileHash := hashutil.Blake3Hash(data)
	fileInfo := filestorage.NewFileInfo(fileHash, extension, data, false)

	w.Upload(ctx, fileInfo, response)
}

// UploadFile streams a file from disk under the given object name.
// The extension is taken from the path.
func (w *Uploader) UploadFile(ctx context.Context, path, name string, response chan Result) {
	w.wp.Submit(func() {
		file, err := os.Open(path)
		if err != nil {
			response <- Result{Name: name, Err: err}
			return
		}
		defer file.Close()

		ext := filepath.Ext(path)
		w.upload(ctx, filestorage.FileInfo{
			Name:      strings.TrimSuffix(name, ext),
			Extension: ext,
			Kind:      filestorage.FileKindStream,
			Content:   file,
		}, response)
	})
}

func (w *Uploader) upload(ctx context.Context, file filestorage.FileInfo, response chan Result) {
	name := file.Name + file.Extension

	if w.filestorage == nil {
		response <- Result{Name: name, Err: ErrNoStorage}
		return
	}

	url, err := w.filestorage.Upload(ctx, file)
	response <- Result{Name: name, Url: url, Err: err}
}
