package modelfetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cozy-creator/hf-hub/hub"
	"go.uber.org/zap"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/utils/hashutil"
	"github.com/ember-llm/tune-server/internal/utils/pathutil"
)

// Manager resolves checkpoint sources to local paths, downloading
// remote sources into the models cache on first use.
type Manager struct {
	cfg       *config.Config
	hubClient *hub.Client
	logger    *zap.Logger
	subs      *SubscriptionManager
}

func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		hubClient: hub.DefaultClient(),
		logger:    logger.Named("modelfetch"),
		subs:      NewSubscriptionManager(),
	}
}

// EnsureLocal returns a local path for the given source. Hugging Face
// repos resolve to their snapshot directory, direct URLs to the
// downloaded file, and file sources to the expanded path.
func (m *Manager) EnsureLocal(ctx context.Context, source string) (string, error) {
	src, err := ParseSource(source)
	if err != nil {
		return "", err
	}

	switch src.Type {
	case SourceTypeFile:
		return m.resolveLocalFile(src.Location)
	case SourceTypeHuggingface:
		return m.ensureHuggingFace(ctx, src)
	case SourceTypeDirect:
		return m.ensureDirect(ctx, src)
	default:
		return "", fmt.Errorf("unsupported source type: %s", src.Type)
	}
}

// InitializeBaseModels pre-fetches every configured base model so runs
// referencing them by name start without a download stall.
func (m *Manager) InitializeBaseModels(ctx context.Context) error {
	baseModels := m.cfg.BaseModels
	if len(baseModels) == 0 {
		m.logger.Info("No base models configured")
		return nil
	}

	var wg sync.WaitGroup
	errorChan := make(chan error, len(baseModels))

	for name, source := range baseModels {
		wg.Add(1)
		go func(name, source string) {
			defer wg.Done()

			m.logger.Info("Ensuring base model is available",
				zap.String("name", name),
				zap.String("source", source),
			)
			if _, err := m.EnsureLocal(ctx, source); err != nil {
				errorChan <- fmt.Errorf("failed to fetch base model %s: %w", name, err)
			}
		}(name, source)
	}

	wg.Wait()
	close(errorChan)

	for err := range errorChan {
		if err != nil {
			return fmt.Errorf("error during base model initialization: %w", err)
		}
	}

	return nil
}

// ResolveName maps a configured base model name to its source. Inputs
// that are not configured names pass through unchanged.
func (m *Manager) ResolveName(nameOrSource string) string {
	if source, ok := m.cfg.BaseModels[nameOrSource]; ok {
		return source
	}
	return nameOrSource
}

func (m *Manager) resolveLocalFile(location string) (string, error) {
	path, err := pathutil.ExpandPath(location)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("local checkpoint not found: %w", err)
	}

	return path, nil
}

func (m *Manager) ensureHuggingFace(ctx context.Context, src *Source) (string, error) {
	key := src.Original

	if m.subs.GetStatus(key) == StatusDownloading {
		if err := <-m.subs.Subscribe(key); err != nil {
			return "", err
		}
	}

	m.subs.SetStatus(key, StatusDownloading)
	m.logger.Info("Downloading from Hugging Face", zap.String("repo_id", src.Location))

	params := hub.DownloadParams{
		Repo: hub.NewRepo(src.Location),
	}
	path, err := m.hubClient.Download(&params)
	if err != nil {
		m.subs.SetStatus(key, StatusFailed)
		return "", fmt.Errorf("failed to download from Hugging Face: %w", err)
	}

	m.subs.SetStatus(key, StatusReady)
	return path, nil
}

func (m *Manager) ensureDirect(ctx context.Context, src *Source) (string, error) {
	destPath, err := m.directCachePath(src)
	if err != nil {
		return "", err
	}

	if m.isFileValid(destPath) {
		return destPath, nil
	}

	key := src.Original
	if m.subs.GetStatus(key) == StatusDownloading {
		if err := <-m.subs.Subscribe(key); err != nil {
			return "", err
		}
		return destPath, nil
	}

	m.subs.SetStatus(key, StatusDownloading)
	m.logger.Info("Downloading from direct URL", zap.String("url", src.Location))

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		m.subs.SetStatus(key, StatusFailed)
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := m.downloadWithProgress(ctx, src.Location, destPath); err != nil {
		m.subs.SetStatus(key, StatusFailed)
		return "", err
	}

	m.subs.SetStatus(key, StatusReady)
	return destPath, nil
}

// directCachePath derives a stable cache location from the URL so
// repeated requests reuse the same file.
func (m *Manager) directCachePath(src *Source) (string, error) {
	parsed, err := url.Parse(src.Location)
	if err != nil {
		return "", fmt.Errorf("invalid download URL: %w", err)
	}

	filename := filepath.Base(parsed.Path)
	if filename == "." || filename == "/" || filename == "" {
		filename = "model.bin"
	}

	urlHash := hashutil.Blake3Hash([]byte(src.Location))[:8]
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	return filepath.Join(m.cfg.ModelsDir, fmt.Sprintf("%s--%s", base, urlHash), filename), nil
}

func (m *Manager) isFileValid(path string) bool {
	return m.verifyFile(path) == nil
}

func (m *Manager) verifyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file does not exist: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("expected a file, found a directory: %s", path)
	}

	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", path)
	}

	return nil
}
