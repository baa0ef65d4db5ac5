// Package pipeline sequences a fine-tuning run end to end: load the
// tokenizer and base model, prepare the dataset, build the trainer,
// run it, and persist the artifacts. The stages are fixed; Setup must
// run before Train or Save, and an unknown trainer kind fails before
// any data or model work starts.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ember-llm/tune-server/internal/dataset"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/tokenizer"
	"github.com/ember-llm/tune-server/internal/trainer"
	"github.com/ember-llm/tune-server/internal/utils/hashutil"
	"github.com/ember-llm/tune-server/internal/utils/pathutil"

	"go.uber.org/zap"
)

// ErrNotSetup is returned when Train or Save is called before Setup
// has completed.
var ErrNotSetup = errors.New("pipeline is not set up")

// Artifact file names inside an output directory.
const (
	CheckpointFile = "model.bin"
	TokenizerFile  = "tokenizer.json"
	ManifestFile   = "manifest.json"
)

// Params mirrors the CLI surface: what to tune, on which data, with
// which hyperparameters, into which directory.
type Params struct {
	// BaseModel is a checkpoint path, an artifact directory, an
	// hf:/http(s) source, or empty to initialize fresh weights.
	BaseModel   string
	TrainerKind string
	DataPaths   []string
	MaxSamples  int
	OutputDir   string

	// TokenizerPath points at an existing tokenizer artifact. When
	// empty one is taken from the base model directory or trained
	// from the corpus.
	TokenizerPath string
	// VocabSize bounds a freshly trained tokenizer vocabulary.
	VocabSize int

	Model    model.Config
	Training trainer.Config
	Seed     int64
}

func (p Params) validate() error {
	if len(p.DataPaths) == 0 {
		return fmt.Errorf("at least one dataset path is required")
	}
	if p.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if p.TrainerKind == "" {
		return fmt.Errorf("trainer kind is required")
	}

	return p.Training.Validate()
}

// Fetcher resolves a remote model source to a local path.
type Fetcher interface {
	EnsureLocal(ctx context.Context, source string) (string, error)
}

// Screener inspects instruct records before they are used and fails
// the run when disallowed content is found.
type Screener interface {
	Screen(ctx context.Context, records []dataset.Record) error
}

// Artifact describes one file Save produced.
type Artifact struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Manifest is written next to the checkpoint and records what was
// trained and how it went.
type Manifest struct {
	BaseModel       string         `json:"base_model,omitempty"`
	TrainerKind     string         `json:"trainer_kind"`
	Model           model.Config   `json:"model"`
	Training        trainer.Config `json:"training"`
	VocabSize       int            `json:"vocab_size"`
	Examples        int            `json:"examples"`
	ValExamples     int            `json:"val_examples"`
	Steps           int            `json:"steps,omitempty"`
	FinalLoss       float64        `json:"final_loss,omitempty"`
	FinalValLoss    *float64       `json:"final_val_loss,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

type Pipeline struct {
	params   Params
	logger   *zap.Logger
	recorder trainer.Recorder
	fetcher  Fetcher
	screener Screener

	tok     *tokenizer.Tokenizer
	model   *model.GPT
	train   *dataset.Dataset
	val     *dataset.Dataset
	trainer trainer.Trainer
	summary *trainer.Summary

	setupDone bool
}

type Option func(p *Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithRecorder(r trainer.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) { p.fetcher = f }
}

func WithScreener(s Screener) Option {
	return func(p *Pipeline) { p.screener = s }
}

func New(params Params, opts ...Option) *Pipeline {
	p := &Pipeline{
		params:   params,
		logger:   zap.NewNop(),
		recorder: trainer.NopRecorder(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Setup resolves the tokenizer, base model, and dataset, then builds
// the trainer through the kind registry.
func (p *Pipeline) Setup(ctx context.Context) error {
	if err := p.params.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.params.OutputDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	basePath, err := p.resolveBaseModel(ctx)
	if err != nil {
		return err
	}

	var (
		text    string
		records []dataset.Record
	)
	if p.params.TrainerKind == trainer.KindSFT {
		records, err = dataset.ReadRecords(p.params.DataPaths, p.params.MaxSamples)
		if err != nil {
			return fmt.Errorf("failed to read dataset: %w", err)
		}
		if p.screener != nil {
			if err := p.screener.Screen(ctx, records); err != nil {
				return fmt.Errorf("dataset screening failed: %w", err)
			}
		}
	} else {
		text, err = dataset.ReadText(p.params.DataPaths)
		if err != nil {
			return fmt.Errorf("failed to read dataset: %w", err)
		}
	}

	if err := p.loadTokenizer(basePath, text, records); err != nil {
		return err
	}
	if err := p.loadModel(basePath); err != nil {
		return err
	}
	if err := p.prepareDataset(text, records); err != nil {
		return err
	}

	t, err := trainer.New(p.params.TrainerKind, trainer.Deps{
		Model:         p.model,
		Train:         p.train,
		Val:           p.val,
		Config:        p.params.Training,
		Recorder:      p.recorder,
		Logger:        p.logger,
		CheckpointDir: filepath.Join(p.params.OutputDir, "checkpoints"),
	})
	if err != nil {
		return err
	}
	p.trainer = t

	p.logger.Info("pipeline ready",
		zap.String("trainer", p.params.TrainerKind),
		zap.Int("vocab_size", p.tok.VocabSize()),
		zap.Int("examples", p.train.Len()),
		zap.Int("val_examples", p.val.Len()),
		zap.Int("parameters", p.model.NumParameters()),
	)

	p.setupDone = true
	return nil
}

// Train runs the trainer loop. Setup must have completed.
func (p *Pipeline) Train(ctx context.Context) (trainer.Summary, error) {
	if !p.setupDone {
		return trainer.Summary{}, fmt.Errorf("%w: call Setup before Train", ErrNotSetup)
	}

	summary, err := p.trainer.Train(ctx)
	if err != nil {
		return summary, err
	}
	p.summary = &summary

	return summary, nil
}

// Save writes the checkpoint, tokenizer, and manifest into the output
// directory and returns their descriptions. Setup must have completed.
func (p *Pipeline) Save(ctx context.Context) ([]Artifact, error) {
	if !p.setupDone {
		return nil, fmt.Errorf("%w: call Setup before Save", ErrNotSetup)
	}

	checkpointPath := filepath.Join(p.params.OutputDir, CheckpointFile)
	if err := p.model.Save(checkpointPath); err != nil {
		return nil, err
	}

	tokenizerPath := filepath.Join(p.params.OutputDir, TokenizerFile)
	if err := p.tok.Save(tokenizerPath); err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(p.params.OutputDir, ManifestFile)
	if err := p.writeManifest(manifestPath); err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, f := range []struct{ name, kind, path string }{
		{CheckpointFile, "checkpoint", checkpointPath},
		{TokenizerFile, "tokenizer", tokenizerPath},
		{ManifestFile, "manifest", manifestPath},
	} {
		info, err := os.Stat(f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat artifact %s: %w", f.path, err)
		}
		checksum, err := hashutil.Blake3HashFile(f.path)
		if err != nil {
			return nil, err
		}

		artifacts = append(artifacts, Artifact{
			Name:     f.name,
			Kind:     f.kind,
			Path:     f.path,
			Size:     info.Size(),
			Checksum: checksum,
		})
	}

	p.logger.Info("artifacts saved", zap.String("dir", p.params.OutputDir), zap.Int("count", len(artifacts)))
	return artifacts, nil
}

// Run executes the whole pipeline: Setup, Train, Save.
func (p *Pipeline) Run(ctx context.Context) ([]Artifact, error) {
	if err := p.Setup(ctx); err != nil {
		return nil, err
	}
	if _, err := p.Train(ctx); err != nil {
		return nil, err
	}

	return p.Save(ctx)
}

// Model returns the model once Setup has completed.
func (p *Pipeline) Model() *model.GPT { return p.model }

// Tokenizer returns the tokenizer once Setup has completed.
func (p *Pipeline) Tokenizer() *tokenizer.Tokenizer { return p.tok }

// Summary returns the result of the last Train call, if any.
func (p *Pipeline) Summary() *trainer.Summary { return p.summary }

// resolveBaseModel maps the configured source to a local path, going
// through the fetcher for remote schemes. Empty means fresh weights.
func (p *Pipeline) resolveBaseModel(ctx context.Context) (string, error) {
	source := p.params.BaseModel
	if source == "" {
		return "", nil
	}

	if strings.HasPrefix(source, "hf:") || strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if p.fetcher == nil {
			return "", fmt.Errorf("no model fetcher configured for source %q", source)
		}
		path, err := p.fetcher.EnsureLocal(ctx, source)
		if err != nil {
			return "", fmt.Errorf("failed to fetch base model: %w", err)
		}
		return path, nil
	}

	path, err := pathutil.ExpandPath(strings.TrimPrefix(source, "file:"))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("base model %s not found: %w", path, err)
	}

	return path, nil
}

func (p *Pipeline) loadTokenizer(basePath, text string, records []dataset.Record) error {
	tokPath := p.params.TokenizerPath
	if tokPath == "" && basePath != "" {
		if info, err := os.Stat(basePath); err == nil && info.IsDir() {
			candidate := filepath.Join(basePath, TokenizerFile)
			if pathutil.FileExists(candidate) {
				tokPath = candidate
			}
		}
	}

	if tokPath != "" {
		tok, err := tokenizer.Load(tokPath)
		if err != nil {
			return err
		}
		p.tok = tok
		p.logger.Debug("tokenizer loaded", zap.String("path", tokPath), zap.Int("vocab_size", tok.VocabSize()))
		return nil
	}

	corpus := text
	if corpus == "" {
		var b strings.Builder
		for _, rec := range records {
			b.WriteString(rec.Prompt)
			b.WriteString(rec.Completion)
			b.WriteString("\n")
		}
		corpus = b.String()
	}

	vocabSize := p.params.VocabSize
	if vocabSize == 0 {
		vocabSize = model.DefaultConfig().VocabSize
	}

	tok := tokenizer.New()
	if err := tok.Train(corpus, vocabSize); err != nil {
		return fmt.Errorf("failed to train tokenizer: %w", err)
	}
	p.tok = tok
	p.logger.Info("tokenizer trained", zap.Int("vocab_size", tok.VocabSize()))

	return nil
}

func (p *Pipeline) loadModel(basePath string) error {
	if basePath == "" {
		cfg := p.params.Model
		if cfg == (model.Config{}) {
			cfg = model.DefaultConfig()
		}
		cfg.VocabSize = p.tok.VocabSize()

		g, err := model.NewGPT(cfg, p.params.Seed)
		if err != nil {
			return err
		}
		p.model = g
		p.logger.Info("model initialized", zap.Int("parameters", g.NumParameters()))
		return nil
	}

	checkpointPath := basePath
	if info, err := os.Stat(basePath); err == nil && info.IsDir() {
		checkpointPath = filepath.Join(basePath, CheckpointFile)
	}

	g, err := model.Load(checkpointPath)
	if err != nil {
		return err
	}
	if g.Config().VocabSize != p.tok.VocabSize() {
		return fmt.Errorf("checkpoint vocab size %d does not match tokenizer vocab size %d",
			g.Config().VocabSize, p.tok.VocabSize())
	}

	p.model = g
	p.logger.Info("model loaded", zap.String("path", checkpointPath), zap.Int("parameters", g.NumParameters()))

	return nil
}

func (p *Pipeline) prepareDataset(text string, records []dataset.Record) error {
	blockSize := p.model.Config().SeqLen

	var (
		ds  *dataset.Dataset
		err error
	)
	if p.params.TrainerKind == trainer.KindSFT {
		ds, err = dataset.EncodeRecords(records, p.tok, blockSize)
	} else {
		ds, err = dataset.PackText(text, p.tok, blockSize, p.params.MaxSamples)
	}
	if err != nil {
		return fmt.Errorf("failed to prepare dataset: %w", err)
	}

	p.train, p.val = ds.Split(p.params.Training.ValFraction, p.params.Seed)
	return nil
}

func (p *Pipeline) writeManifest(path string) error {
	m := Manifest{
		BaseModel:   p.params.BaseModel,
		TrainerKind: p.params.TrainerKind,
		Model:       p.model.Config(),
		Training:    p.params.Training,
		VocabSize:   p.tok.VocabSize(),
		Examples:    p.train.Len(),
		ValExamples: p.val.Len(),
		CreatedAt:   time.Now().UTC(),
	}
	if p.summary != nil {
		m.Steps = p.summary.Steps
		m.FinalLoss = p.summary.FinalLoss
		m.FinalValLoss = p.summary.FinalValLoss
		m.DurationSeconds = p.summary.Duration.Seconds()
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}
