package cmd

import (
	"fmt"

	"github.com/ember-llm/tune-server/internal/dataset"
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/tokenizer"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "tokenizer",
	Short: "Tokenizer utilities",
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a tokenizer on a text corpus",
	RunE:  runTrainTokenizer,
}

func init() {
	flags := trainCmd.Flags()

	flags.StringSlice("data", []string{}, "Corpus file(s) to train on")
	flags.Int("vocab-size", model.DefaultConfig().VocabSize, "Target vocabulary size")
	flags.String("output", "", "File to write the tokenizer to")

	trainCmd.MarkFlagRequired("data")
	trainCmd.MarkFlagRequired("output")

	Cmd.AddCommand(trainCmd)
}

func runTrainTokenizer(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	dataPaths, _ := flags.GetStringSlice("data")
	vocabSize, _ := flags.GetInt("vocab-size")
	output, _ := flags.GetString("output")

	corpus, err := dataset.ReadText(dataPaths)
	if err != nil {
		return err
	}

	tok := tokenizer.New()
	if err := tok.Train(corpus, vocabSize); err != nil {
		return err
	}

	if err := tok.Save(output); err != nil {
		return err
	}

	fmt.Printf("Tokenizer with %d tokens written to %s\n", tok.VocabSize(), output)
	return nil
}
