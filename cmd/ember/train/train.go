package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/pipeline"
	"github.com/ember-llm/tune-server/internal/services/modelfetch"
	"github.com/ember-llm/tune-server/internal/trainer"
	"github.com/ember-llm/tune-server/pkg/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune a model on local data without the server",
	RunE:  runTrain,
}

func init() {
	flags := Cmd.Flags()

	flags.String("model", "", "Base model: a configured name, checkpoint path, artifact directory, or hf:/http(s) source. Empty trains from scratch")
	flags.String("trainer", trainer.KindCausal, "Trainer kind: 'causal' or 'sft'")
	flags.StringSlice("data", []string{}, "Dataset file(s) to train on")
	flags.Int("max-samples", 0, "Cap on the number of training examples (0 = no cap)")
	flags.String("output", "", "Directory to write artifacts into (default: a new directory under the runs dir)")
	flags.String("tokenizer", "", "Path to an existing tokenizer file")
	flags.Int("vocab-size", 0, "Vocabulary size when training a tokenizer from the corpus")

	flags.Float64("learning-rate", 0, "Peak learning rate")
	flags.Int("batch-size", 0, "Examples per optimizer step")
	flags.Int("epochs", 0, "Passes over the training set")
	flags.Int("max-steps", 0, "Stop after this many steps (0 = run all epochs)")
	flags.Float64("val-fraction", 0, "Fraction of examples held out for validation")
	flags.Int64("seed", 0, "Seed for weight init, shuffling, and the split")

	flags.Int("n-layer", 0, "Number of transformer blocks")
	flags.Int("n-head", 0, "Number of attention heads")
	flags.Int("n-embd", 0, "Embedding dimension")
	flags.Int("seq-len", 0, "Context length in tokens")
	flags.Int("ff-hidden", 0, "Feed-forward hidden dimension")

	Cmd.MarkFlagRequired("data")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()
	flags := cmd.Flags()

	log, err := logger.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	dataPaths, _ := flags.GetStringSlice("data")
	output, _ := flags.GetString("output")
	if output == "" {
		output = filepath.Join(cfg.RunsDir, uuid.NewString())
	}

	training := trainer.DefaultConfig()
	if flags.Changed("learning-rate") {
		training.LearningRate, _ = flags.GetFloat64("learning-rate")
	}
	if flags.Changed("batch-size") {
		training.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("epochs") {
		training.Epochs, _ = flags.GetInt("epochs")
	}
	if flags.Changed("max-steps") {
		training.MaxSteps, _ = flags.GetInt("max-steps")
	}
	if flags.Changed("val-fraction") {
		training.ValFraction, _ = flags.GetFloat64("val-fraction")
	}

	var modelCfg model.Config
	if flags.Changed("n-layer") || flags.Changed("n-head") || flags.Changed("n-embd") ||
		flags.Changed("seq-len") || flags.Changed("ff-hidden") {
		modelCfg = model.DefaultConfig()
		if flags.Changed("n-layer") {
			modelCfg.NumLayers, _ = flags.GetInt("n-layer")
		}
		if flags.Changed("n-head") {
			modelCfg.NumHeads, _ = flags.GetInt("n-head")
		}
		if flags.Changed("n-embd") {
			modelCfg.EmbedDim, _ = flags.GetInt("n-embd")
		}
		if flags.Changed("seq-len") {
			modelCfg.SeqLen, _ = flags.GetInt("seq-len")
		}
		if flags.Changed("ff-hidden") {
			modelCfg.FFHidden, _ = flags.GetInt("ff-hidden")
		}
	}

	seed, _ := flags.GetInt64("seed")
	training.Seed = seed

	baseModel, _ := flags.GetString("model")
	trainerKind, _ := flags.GetString("trainer")
	maxSamples, _ := flags.GetInt("max-samples")
	tokenizerPath, _ := flags.GetString("tokenizer")
	vocabSize, _ := flags.GetInt("vocab-size")

	fetcher := modelfetch.NewManager(cfg, log)

	params := pipeline.Params{
		BaseModel:     fetcher.ResolveName(baseModel),
		TrainerKind:   trainerKind,
		DataPaths:     dataPaths,
		MaxSamples:    maxSamples,
		OutputDir:     output,
		TokenizerPath: tokenizerPath,
		VocabSize:     vocabSize,
		Model:         modelCfg,
		Training:      training,
		Seed:          seed,
	}

	pl := pipeline.New(params, pipeline.WithLogger(log), pipeline.WithFetcher(fetcher))
	artifacts, err := pl.Run(cmd.Context())
	if err != nil {
		return err
	}

	if summary := pl.Summary(); summary != nil {
		fmt.Printf("Training finished in %s (%d steps, final loss %.4f)\n",
			summary.Duration.Round(time.Millisecond), summary.Steps, summary.FinalLoss)
		if summary.FinalValLoss != nil {
			fmt.Printf("Final validation loss: %.4f\n", *summary.FinalValLoss)
		}
	}

	fmt.Printf("Artifacts written to %s\n", output)
	for _, a := range artifacts {
		fmt.Printf("  %s (%s, %d bytes)\n", a.Name, a.Kind, a.Size)
	}

	return nil
}
