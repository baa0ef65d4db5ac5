package db

import (
	"context"
	"fmt"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/db/drivers"
)

func NewConnection(ctx context.Context, config *config.Config) (drivers.Driver, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("database is not configured")
	}

	driver := config.DB.Driver
	switch driver {
	case "sqlite":
		return drivers.NewSQLiteDriver(ctx, config.DB.DSN)
	case "pg":
		return drivers.NewPGDriver(ctx, config.DB.DSN)
	}

	return nil, fmt.Errorf("invalid database driver: %s", driver)
}
