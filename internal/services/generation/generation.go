package generation

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/pipeline"
	"github.com/ember-llm/tune-server/internal/tokenizer"
	"github.com/ember-llm/tune-server/internal/utils/pathutil"
)

const defaultMaxTokens = 128

type Params struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
}

type Result struct {
	Text       string `json:"text"`
	PromptIDs  int    `json:"prompt_tokens"`
	OutputIDs  int    `json:"output_tokens"`
	DurationMs int64  `json:"duration_ms"`
}

type loadedModel struct {
	model *model.GPT
	tok   *tokenizer.Tokenizer
}

// Service samples text from trained checkpoints. Loaded weights are
// cached per directory so repeated requests skip the disk read.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*loadedModel
}

func NewService(cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger.Named("generation"),
		cache:  make(map[string]*loadedModel),
	}
}

func (s *Service) Generate(ctx context.Context, params Params) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	dir, err := s.resolveModelDir(params.Model)
	if err != nil {
		return nil, err
	}

	loaded, err := s.load(dir)
	if err != nil {
		return nil, err
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	promptIDs := loaded.tok.Encode(params.Prompt)
	sampleCfg := model.SampleConfig{
		Temperature: params.Temperature,
		TopK:        params.TopK,
		TopP:        params.TopP,
		StopTokens:  []int{tokenizer.EosID},
	}

	start := time.Now()
	outputIDs, err := loaded.model.Generate(promptIDs, maxTokens, sampleCfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	return &Result{
		Text:       loaded.tok.Decode(outputIDs),
		PromptIDs:  len(promptIDs),
		OutputIDs:  len(outputIDs),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// resolveModelDir accepts an artifact directory path or a run name
// relative to the runs directory.
func (s *Service) resolveModelDir(nameOrPath string) (string, error) {
	path, err := pathutil.ExpandPath(nameOrPath)
	if err != nil {
		return "", err
	}

	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = append(candidates,
			filepath.Join(s.cfg.RunsDir, path),
			filepath.Join(s.cfg.ModelsDir, path),
		)
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || !info.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(candidate, pipeline.CheckpointFile)); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no checkpoint found for model %q", nameOrPath)
}

func (s *Service) load(dir string) (*loadedModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[dir]; ok {
		return cached, nil
	}

	s.logger.Info("Loading checkpoint", zap.String("dir", dir))

	g, err := model.Load(filepath.Join(dir, pipeline.CheckpointFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	tok, err := tokenizer.Load(filepath.Join(dir, pipeline.TokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	if g.Config().VocabSize != tok.VocabSize() {
		return nil, fmt.Errorf("checkpoint vocab size %d does not match tokenizer vocab size %d",
			g.Config().VocabSize, tok.VocabSize())
	}

	loaded := &loadedModel{model: g, tok: tok}
	s.cache[dir] = loaded
	return loaded, nil
}

// Evict drops a cached model, forcing the next request to reload
// from disk. Used after a run overwrites its artifacts.
func (s *Service) Evict(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, dir)
}
