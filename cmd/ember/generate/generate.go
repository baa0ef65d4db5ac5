package cmd

import (
	"fmt"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/services/generation"
	"github.com/ember-llm/tune-server/pkg/logger"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "generate",
	Short: "Sample text from a trained checkpoint",
	RunE:  runGenerate,
}

func init() {
	flags := Cmd.Flags()

	flags.String("model", "", "Run ID or artifact directory holding the checkpoint")
	flags.String("prompt", "", "Prompt to continue from")
	flags.Int("max-tokens", 128, "Maximum number of tokens to sample")
	flags.Float64("temperature", 1.0, "Sampling temperature (0 = greedy)")
	flags.Int("top-k", 0, "Keep only the k most likely tokens (0 = disabled)")
	flags.Float64("top-p", 0, "Nucleus sampling threshold (0 = disabled)")
	flags.Int64("seed", 0, "Sampling seed (0 = time-based)")

	Cmd.MarkFlagRequired("model")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()
	flags := cmd.Flags()

	log, err := logger.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	params := generation.Params{}
	params.Model, _ = flags.GetString("model")
	params.Prompt, _ = flags.GetString("prompt")
	params.MaxTokens, _ = flags.GetInt("max-tokens")
	params.Temperature, _ = flags.GetFloat64("temperature")
	params.TopK, _ = flags.GetInt("top-k")
	params.TopP, _ = flags.GetFloat64("top-p")
	params.Seed, _ = flags.GetInt64("seed")

	service := generation.NewService(cfg, log)
	result, err := service.Generate(cmd.Context(), params)
	if err != nil {
		return err
	}

	fmt.Println(result.Text)
	return nil
}
