package repository

import (
	"context"
	"fmt"

	"github.com/ember-llm/tune-server/internal/db/models"
	"github.com/uptrace/bun"
)

type IMetricRepository interface {
	Repository[models.Metric]
	WithTx(tx *bun.Tx) IMetricRepository
	WithDB(db *bun.DB) IMetricRepository
	ListByRunID(ctx context.Context, runID string) ([]models.Metric, error)
	ListByRunIDSince(ctx context.Context, runID string, afterStep int) ([]models.Metric, error)
}

type MetricRepository struct {
	db bun.IDB
}

func NewMetricRepository(db *bun.DB) IMetricRepository {
	return &MetricRepository{db: db}
}

func (r *MetricRepository) Create(ctx context.Context, metric *models.Metric) (*models.Metric, error) {
	if metric == nil {
		return nil, fmt.Errorf("metric model is nil")
	}

	if err := r.db.NewInsert().Model(metric).Returning("*").Scan(ctx); err != nil {
		return nil, err
	}

	return metric, nil
}

func (r *MetricRepository) GetByID(ctx context.Context, id string) (*models.Metric, error) {
	var metric models.Metric
	if err := r.db.NewSelect().Model(&metric).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &metric, nil
}

func (r *MetricRepository) UpdateByID(ctx context.Context, id string, metric *models.Metric) (*models.Metric, error) {
	if metric == nil {
		return nil, fmt.Errorf("metric model is nil")
	}

	if err := r.db.NewUpdate().Model(metric).Where("id = ?", id).Returning("*").Scan(ctx); err != nil {
		return nil, err
	}

	return metric, nil
}

func (r *MetricRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model(&models.Metric{}).Where("id = ?", id).Exec(ctx)
	return err
}

func (r *MetricRepository) ListByRunID(ctx context.Context, runID string) ([]models.Metric, error) {
	var metrics []models.Metric
	if err := r.db.NewSelect().Model(&metrics).Where("run_id = ?", runID).Order("step ASC").Scan(ctx); err != nil {
		return nil, err
	}

	return metrics, nil
}

func (r *MetricRepository) ListByRunIDSince(ctx context.Context, runID string, afterStep int) ([]models.Metric, error) {
	var metrics []models.Metric
	if err := r.db.NewSelect().Model(&metrics).
		Where("run_id = ?", runID).
		Where("step > ?", afterStep).
		Order("step ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	return metrics, nil
}

func (r *MetricRepository) WithTx(tx *bun.Tx) IMetricRepository {
	return &MetricRepository{db: tx}
}

func (r *MetricRepository) WithDB(db *bun.DB) IMetricRepository {
	return &MetricRepository{db: db}
}
