package repository

import (
	"context"
	"fmt"

	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/uptrace/bun"
)

type IArtifactRepository interface {
	Repository[models.Artifact]
	WithTx(tx *bun.Tx) IArtifactRepository
	WithDB(db *bun.DB) IArtifactRepository
	ListByRunID(ctx context.Context, runID string) ([]models.Artifact, error)
}

type ArtifactRepository struct {
	db bun.IDB
}

func NewArtifactRepository(db *bun.DB) IArtifactRepository {
	return &ArtifactRepository{db: db}
}

func (r *ArtifactRepository) Create(ctx context.Context, artifact *models.Artifact) (*models.Artifact, error) {
	if artifact == nil {
		return nil, fmt.Errorf("artifact model is nil")
	}

	if err := r.db.NewInsert().Model(artifact).Returning("*").Scan(ctx); err != nil {
		return nil, err
	}

	return artifact, nil
}

func (r *ArtifactRepository) GetByID(ctx context.Context, id string) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := r.db.NewSelect().Model(&artifact).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &artifact, nil
}

func (r *ArtifactRepository) UpdateByID(ctx context.Context, id string, artifact *models.Artifact) (*models.Artifact, error) {
	if artifact == nil {
		return nil, fmt.Errorf("artifact model is nil")
	}

	if err := r.db.NewUpdate().Model(artifact).Where("id = ?", id).Returning("*").Scan(ctx); err != nil {
		return nil, err
	}

	return artifact, nil
}

func (r *ArtifactRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model(&models.Artifact{}).Where("id = ?", id).Exec(ctx)
	return err
}

func (r *ArtifactRepository) ListByRunID(ctx context.Context, runID string) ([]models.Artifact, error) {
	var artifacts []models.Artifact
	if err := r.db.NewSelect().Model(&artifacts).Where("run_id = ?", runID).Order("name ASC").Scan(ctx); err != nil {
		return nil, err
	}

	return artifacts, nil
}

func (r *ArtifactRepository) WithTx(tx *bun.Tx) IArtifactRepository {
	return &ArtifactRepository{db: tx}
}

func (r *ArtifactRepository) WithDB(db *bun.DB) IArtifactRepository {
	return &ArtifactRepository{db: db}
}
