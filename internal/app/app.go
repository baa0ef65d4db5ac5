package app

import (
	"context"
	"fmt"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/db"
	"github.com/ember-llm/tune-server/internal/db/drivers"
	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/ember-llm/tune-server/internal/db/repository"
	"github.com/ember-llm/tune-server/internal/mq"
	"github.com/ember-llm/tune-server/internal/services/filestorage"
	"github.com/ember-llm/tune-server/internal/services/fileuploader"
	"github.com/ember-llm/tune-server/internal/services/generation"
	"github.com/ember-llm/tune-server/internal/services/modelfetch"
	"github.com/ember-llm/tune-server/pkg/logger"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type App struct {
	mq           mq.MQ
	db           *bun.DB
	config       *config.Config
	ctx          context.Context
	cancelFunc   context.CancelFunc
	fileuploader *fileuploader.Uploader
	generation   *generation.Service
	modelFetcher *modelfetch.Manager

	Logger *zap.Logger

	APIKeyRepository   repository.IAPIKeyRepository
	RunRepository      repository.IRunRepository
	MetricRepository   repository.IMetricRepository
	ArtifactRepository repository.IArtifactRepository
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithDB(driver drivers.Driver) OptionFunc {
	return func(app *App) error {
		app.db = driver.GetDB()
		app.initRepositories()
		return nil
	}
}

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(app *App) error {
		app.Logger = logger
		return nil
	}
}

func WithMQ() OptionFunc {
	return func(app *App) error {
		mq, err := mq.NewMQ(app.config)
		if err != nil {
			return err
		}
		app.mq = mq
		return nil
	}
}

// WithDBInitialization connects to the database and ensures the tables
// exist before wiring the repositories.
func WithDBInitialization() OptionFunc {
	return func(app *App) error {
		dbConn, err := db.NewConnection(app.ctx, app.config)
		if err != nil {
			return err
		}
		app.db = dbConn.GetDB()

		// Ensure tables exist
		err = app.db.RunInTx(app.ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			tables := []interface{}{
				(*models.APIKey)(nil),
				(*models.Run)(nil),
				(*models.Metric)(nil),
				(*models.Artifact)(nil),
				(*models.BaseModel)(nil),
			}

			for _, table := range tables {
				if _, err := tx.NewCreateTable().
					Model(table).
					IfNotExists().
					Exec(ctx); err != nil {
					return fmt.Errorf("failed to create table: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		app.initRepositories()
		return nil
	}
}

func WithFileUploader() OptionFunc {
	return func(app *App) error {
		filestorage, err := filestorage.NewFileStorage(app.Config())
		if err != nil {
			return err
		}
		app.fileuploader = fileuploader.NewFileUploader(filestorage, 10)
		return nil
	}
}

func WithModelFetcher() OptionFunc {
	return func(app *App) error {
		app.modelFetcher = modelfetch.NewManager(app.config, app.Logger)
		return nil
	}
}

func WithGeneration() OptionFunc {
	return func(app *App) error {
		app.generation = generation.NewService(app.config, app.Logger)
		return nil
	}
}

func NewApp(config *config.Config, options ...OptionFunc) (*App, error) {
	logger, err := logger.InitLogger(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:        ctx,
		config:     config,
		Logger:     logger,
		cancelFunc: cancel,
	}

	for _, opt := range options {
		if err := opt(app); err != nil {
			app.Close()
			return nil, err
		}
	}

	return app, nil
}

func (app *App) initRepositories() {
	app.APIKeyRepository = repository.NewAPIKeyRepository(app.db)
	app.RunRepository = repository.NewRunRepository(app.db)
	app.MetricRepository = repository.NewMetricRepository(app.db)
	app.ArtifactRepository = repository.NewArtifactRepository(app.db)
}

func (app *App) Close() {
	app.cancelFunc()

	if app.fileuploader != nil {
		app.fileuploader.StopWait()
	}
	if app.mq != nil {
		app.mq.Close()
	}
	if app.db != nil {
		app.db.Close()
	}

	app.Logger.Sync()
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) MQ() mq.MQ {
	return app.mq
}

func (app *App) DB() *bun.DB {
	return app.db
}

func (app *App) Uploader() *fileuploader.Uploader {
	return app.fileuploader
}

func (app *App) Generation() *generation.Service {
	return app.generation
}

func (app *App) ModelFetcher() *modelfetch.Manager {
	return app.modelFetcher
}
