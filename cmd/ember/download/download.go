package cmd

import (
	"fmt"
	"os"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/db"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/db/repository"
	"github.com/ember-llm/tune-server/internal/services/modelfetch"
	"github.com/ember-llm/tune-server/internal/utils/hashutil"
	"github.com/ember-llm/tune-server/pkg/logger"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "download [source]",
	Short: "Download a base model into the local cache",
	Long:  "Fetches a checkpoint from a hf:owner/repo or http(s) source into the models cache. With --name the model is also registered so runs can reference it by name.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	Cmd.Flags().String("name", "", "Register the model in the database under this name")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	source := args[0]

	log, err := logger.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	fetcher := modelfetch.NewManager(cfg, log)
	path, err := fetcher.EnsureLocal(cmd.Context(), source)
	if err != nil {
		return err
	}

	fmt.Println("Download complete: ", path)

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		return nil
	}

	driver, err := db.NewConnection(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	database := driver.GetDB()
	defer database.Close()

	if _, err := database.NewCreateTable().
		Model((*models.BaseModel)(nil)).
		IfNotExists().
		Exec(cmd.Context()); err != nil {
		return fmt.Errorf("failed to create base_models table: %w", err)
	}

	row := models.NewBaseModel(name, source)
	row.LocalPath = path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		row.Size = info.Size()
		if sum, err := hashutil.Blake3HashFile(path); err == nil {
			row.Checksum = sum
		}
	}

	if err := repository.UpsertBaseModel(cmd.Context(), database, row); err != nil {
		return fmt.Errorf("failed to register base model: %w", err)
	}

	fmt.Printf("Registered as %q\n", name)
	return nil
}
