package migrations

import (
	"context"

	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewCreateTable().Model((*models.Run)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}

		if _, err := db.NewCreateTable().Model((*models.Metric)(nil)).
			IfNotExists().
			ForeignKey(`(run_id) REFERENCES runs (id) ON DELETE CASCADE`).
			Exec(ctx); err != nil {
			return err
		}

		if _, err := db.NewCreateTable().Model((*models.Artifact)(nil)).
			IfNotExists().
			ForeignKey(`(run_id) REFERENCES runs (id) ON DELETE CASCADE`).
			Exec(ctx); err != nil {
			return err
		}

		if _, err := db.NewCreateTable().Model((*models.APIKey)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		for _, model := range []any{
			(*models.Artifact)(nil),
			(*models.Metric)(nil),
			(*models.Run)(nil),
			(*models.APIKey)(nil),
		} {
			if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
