package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/uptrace/bun"
)

type IRunRepository interface {
	Repository[models.Run]
	WithTx(tx *bun.Tx) IRunRepository
	WithDB(db *bun.DB) IRunRepository
	GetFullByID(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, limit, offset int) ([]models.Run, error)
	UpdateRunStatusByID(ctx context.Context, id string, status models.RunStatus) error
	MarkStarted(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, outputDir string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

type RunRepository struct {
	db bun.IDB
}

func NewRunRepository(db *bun.DB) IRunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.Run) (*models.Run, error) {
	if run == nil {
		return nil, fmt.Errorf("run model is nil")
	}

	if err := r.db.NewInsert().Model(run).Returning("*").Scan(ctx); err != nil {
		return nil, err
	}

	return run, nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := r.db.NewSelect().Model(&run).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &run, nil
}

func (r *RunRepository) GetFullByID(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := r.db.NewSelect().Model(&run).Relation("Metrics").Relation("Artifacts").Where("run.id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &run, nil
}

func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]models.Run, error) {
	var runs []models.Run
	if err := r.db.NewSelect().Model(&runs).Order("created_at DESC").Limit(limit).Offset(offset).Scan(ctx); err != nil {
		return nil, err
	}

	return runs, nil
}

func (r *RunRepository) UpdateByID(ctx context.Context, id string, run *models.Run) (*models.Run, error) {
	if run == nil {
		return nil, fmt.Errorf("run model is nil")
	}

	if err := r.db.NewUpdate().Model(run).Where("id = ?", id).Returning("*").Scan(ctx); err != nil {
		return nil, err
	}

	return run, nil
}

func (r *RunRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model(&models.Run{}).Where("id = ?", id).Exec(ctx)
	return err
}

func (r *RunRepository) UpdateRunStatusByID(ctx context.Context, id string, status models.RunStatus) error {
	_, err := r.db.NewUpdate().Model(&models.Run{}).Where("id = ?", id).Set("status = ?", status).Exec(ctx)
	return err
}

func (r *RunRepository) MarkStarted(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().Model(&models.Run{}).
		Where("id = ?", id).
		Set("status = ?", models.RunStatusProgress).
		Set("started_at = ?", time.Now()).
		Exec(ctx)
	return err
}

func (r *RunRepository) MarkCompleted(ctx context.Context, id, outputDir string) error {
	_, err := r.db.NewUpdate().Model(&models.Run{}).
		Where("id = ?", id).
		Set("status = ?", models.RunStatusCompleted).
		Set("output_dir = ?", outputDir).
		Set("completed_at = ?", time.Now()).
		Exec(ctx)
	return err
}

func (r *RunRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.NewUpdate().Model(&models.Run{}).
		Where("id = ?", id).
		Set("status = ?", models.RunStatusFailed).
		Set("error = ?", errMsg).
		Set("completed_at = ?", time.Now()).
		Exec(ctx)
	return err
}

func (r *RunRepository) WithTx(tx *bun.Tx) IRunRepository {
	return &RunRepository{db: tx}
}

func (r *RunRepository) WithDB(db *bun.DB) IRunRepository {
	return &RunRepository{db: db}
}
