package migrations

import (
	"context"

	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewCreateTable().Model((*models.BaseModel)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}

		if _, err := db.NewCreateIndex().
			Model((*models.Metric)(nil)).
			Index("idx_metrics_run_id_step").
			Column("run_id", "step").
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewDropIndex().Index("idx_metrics_run_id_step").IfExists().Exec(ctx); err != nil {
			return err
		}

		if _, err := db.NewDropTable().Model((*models.BaseModel)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}
