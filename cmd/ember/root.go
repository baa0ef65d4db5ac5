package cmd

import (
	"fmt"
	"os"
	"strings"

	// Subcommands
	apiKey "github.com/ember-llm/tune-server/cmd/ember/apikey"
	db "github.com/ember-llm/tune-server/cmd/ember/db"
	download "github.com/ember-llm/tune-server/cmd/ember/download"
	generate "github.com/ember-llm/tune-server/cmd/ember/generate"
	run "github.com/ember-llm/tune-server/cmd/ember/run"
	tokenizer "github.com/ember-llm/tune-server/cmd/ember/tokenizer"
	train "github.com/ember-llm/tune-server/cmd/ember/train"
	"github.com/ember-llm/tune-server/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const emberPrefix = "EMBER"

var Cmd = &cobra.Command{
	Use:   "ember",
	Short: "Ember tune-server CLI",
	Long:  "A fine-tuning server for small GPT-style language models: train on your own data, track runs, and sample from the result, locally or through a queue-backed server",

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set global viper options
		viper.SetEnvPrefix(emberPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(
			`-`, `_`, // convert hyphens to underscores
			`.`, `_`, // convert dots to underscores
		))
		viper.AutomaticEnv()

		// Bind all flags from the current command persistent parent flags
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}

		// Load config and env files
		if err := config.InitConfig(); err != nil {
			return err
		}

		return nil
	},
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pflags := Cmd.PersistentFlags()

	pflags.String("ember-home", "", "Path to the ember home directory")
	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")

	// Bind flags to viper
	viper.BindPFlag("ember_home", pflags.Lookup("ember-home"))
	viper.BindPFlag("config_file", pflags.Lookup("config-file"))
	viper.BindPFlag("env_file", pflags.Lookup("env-file"))

	// Add subcommands
	Cmd.AddCommand(run.Cmd, train.Cmd, generate.Cmd, download.Cmd, tokenizer.Cmd, db.Cmd, apiKey.Cmd)
	Cmd.CompletionOptions.HiddenDefaultCmd = true
}
