package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/db/repository"
	"github.com/ember-llm/tune-server/internal/server"
	"github.com/ember-llm/tune-server/internal/services/finetune"
	"github.com/ember-llm/tune-server/internal/utils/hashutil"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var Cmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ember tune-server",
	RunE:  runApp,
}

func init() {
	flags := Cmd.Flags()

	flags.Int("port", 8881, "Port to run the server on")
	flags.String("host", "localhost", "Host to run the server on")
	flags.String("environment", "dev", "Environment configuration")
	flags.Bool("disable-auth", false, "Disable authentication when receiving requests")
	flags.Bool("screen-dataset", false, "Screen chat datasets for disallowed content before training")
	flags.String("filesystem-type", "local", "Filesystem type: 'local' or 's3'")

	flags.String("db-dsn", "file:~/.ember/ember.db", "Database DSN (Connection URL or Path)")
	flags.String("pulsar-url", "", "URL of the pulsar broker. Example: pulsar+ssl://my-cluster.streamnative.cloud:6651")

	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.String("s3-region-name", "", "S3 region name")
	flags.String("s3-bucket-name", "", "S3 bucket name")
	flags.String("s3-folder", "", "S3 folder")
	flags.String("s3-vanity-url", "", "Public URL for S3 files")
	flags.String("s3-endpoint-url", "", "S3 endpoint URL")

	viper.BindPFlags(flags)

	bindFlags(flags)
	bindEnvs()
}

// Hyphenated and nested config keys do not line up with their flag
// names, so they are bound by hand.
func bindFlags(flags *pflag.FlagSet) {
	viper.BindPFlag("disable_auth", flags.Lookup("disable-auth"))
	viper.BindPFlag("screen_dataset", flags.Lookup("screen-dataset"))
	viper.BindPFlag("filesystem_type", flags.Lookup("filesystem-type"))

	// Database
	viper.BindPFlag("db.dsn", flags.Lookup("db-dsn"))

	// Message queue
	viper.BindPFlag("pulsar.url", flags.Lookup("pulsar-url"))

	// S3 Credentials
	viper.BindPFlag("s3.access_key", flags.Lookup("s3-access-key"))
	viper.BindPFlag("s3.secret_key", flags.Lookup("s3-secret-key"))
	viper.BindPFlag("s3.region_name", flags.Lookup("s3-region-name"))
	viper.BindPFlag("s3.bucket_name", flags.Lookup("s3-bucket-name"))
	viper.BindPFlag("s3.folder", flags.Lookup("s3-folder"))
	viper.BindPFlag("s3.vanity_url", flags.Lookup("s3-vanity-url"))
	viper.BindPFlag("s3.endpoint_url", flags.Lookup("s3-endpoint-url"))
}

func bindEnvs() {
	// Core settings (will use EMBER_ prefix)
	// Example: EMBER_PORT
	viper.BindEnv("port")
	viper.BindEnv("host")
	viper.BindEnv("environment")
	viper.BindEnv("disable_auth")
	viper.BindEnv("screen_dataset")
	viper.BindEnv("filesystem_type")

	viper.BindEnv("db.dsn")
	viper.BindEnv("pulsar.url")

	// S3 environment bindings (will automatically use EMBER_ prefix)
	// example: EMBER_S3_ACCESS_KEY
	viper.BindEnv("s3.access_key")
	viper.BindEnv("s3.secret_key")
	viper.BindEnv("s3.region_name")
	viper.BindEnv("s3.bucket_name")
	viper.BindEnv("s3.folder")
	viper.BindEnv("s3.vanity_url")
	viper.BindEnv("s3.endpoint_url")

	// External API services (does NOT use EMBER_ prefix)
	viper.BindEnv("openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("hf_token", "HF_TOKEN")
}

func runApp(_ *cobra.Command, _ []string) error {
	errc := make(chan error, 1)
	signalc := make(chan os.Signal, 1)

	app, err := createNewApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := app.Context()

	server, err := runServer(app)
	if err != nil {
		return err
	}

	go func() {
		if err := finetune.RunProcessor(app); err != nil {
			errc <- err
		}
	}()

	go initializeBaseModels(app)

	signal.Notify(signalc, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case <-signalc:
		server.Stop(ctx)
		return nil
	}
}

func createNewApp() (*app.App, error) {
	return app.NewApp(
		config.GetConfig(),
		app.WithMQ(),
		app.WithDBInitialization(),
		app.WithFileUploader(),
		app.WithModelFetcher(),
		app.WithGeneration(),
	)
}

// initializeBaseModels pre-fetches the configured base models and
// records them in the registry. Failures are logged rather than fatal
// so the server still starts when a source is unreachable.
func initializeBaseModels(app *app.App) {
	ctx := app.Context()
	fetcher := app.ModelFetcher()

	if err := fetcher.InitializeBaseModels(ctx); err != nil {
		app.Logger.Error("Failed to initialize base models", zap.Error(err))
	}

	if app.DB() == nil {
		return
	}

	for name, source := range app.Config().BaseModels {
		path, err := fetcher.EnsureLocal(ctx, source)
		if err != nil {
			continue
		}

		row := models.NewBaseModel(name, source)
		row.LocalPath = path
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			row.Size = info.Size()
			if sum, err := hashutil.Blake3HashFile(path); err == nil {
				row.Checksum = sum
			}
		}

		if err := repository.UpsertBaseModel(ctx, app.DB(), row); err != nil {
			app.Logger.Error("Failed to register base model",
				zap.String("name", name),
				zap.Error(err),
			)
		}
	}
}

func runServer(app *app.App) (*server.Server, error) {
	server, err := server.NewServer(app.Config())
	if err != nil {
		return nil, err
	}

	// Setup the server routes
	server.SetupRoutes(app)

	errc := make(chan error, 1)
	go func() {
		app.Logger.Info("Tune-server started", zap.Int("port", app.Config().Port))
		errc <- server.Start()
	}()

	select {
	case err := <-errc:
		return nil, err
	default:
		return server, nil
	}
}
