package repository

import (
	"context"

	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/uptrace/bun"
)

func GetBaseModels(ctx context.Context, db *bun.DB, names []string) ([]models.BaseModel, error) {
	var baseModels []models.BaseModel
	err := db.NewSelect().
		Model(&baseModels).
		Where("name IN (?)", bun.In(names)).
		Scan(ctx)
	return baseModels, err
}

func UpsertBaseModel(ctx context.Context, db *bun.DB, m *models.BaseModel) error {
	_, err := db.NewInsert().
		Model(m).
		On("CONFLICT (name) DO UPDATE").
		Set("source = EXCLUDED.source").
		Set("local_path = EXCLUDED.local_path").
		Set("size = EXCLUDED.size").
		Set("checksum = EXCLUDED.checksum").
		Exec(ctx)
	return err
}
