package models

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RunStatus string

const (
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusQueued    RunStatus = "IN_QUEUE"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusProgress  RunStatus = "IN_PROGRESS"
)

type Run struct {
	bun.BaseModel `bun:"table:runs"`

	ID          uuid.UUID       `bun:",type:uuid,pk"`
	Status      RunStatus       `bun:",notnull"`
	TrainerKind string          `bun:",notnull"`
	BaseModel   string          `bun:",nullzero"`
	Params      json.RawMessage `bun:",type:jsonb,notnull"`
	OutputDir   string          `bun:",nullzero"`
	Error       string          `bun:",nullzero"`
	Metrics     []*Metric       `bun:"rel:has-many,join:id=run_id"`
	Artifacts   []*Artifact     `bun:"rel:has-many,join:id=run_id"`
	StartedAt   bun.NullTime    `bun:",nullzero"`
	CompletedAt bun.NullTime    `bun:",nullzero"`
	UpdatedAt   bun.NullTime    `bun:",nullzero,notnull,default:current_timestamp"`
	CreatedAt   bun.NullTime    `bun:",nullzero,notnull,default:current_timestamp"`
}

func NewRun(id uuid.UUID, trainerKind, baseModel string, params json.RawMessage) *Run {
	return &Run{
		ID:          id,
		Status:      RunStatusQueued,
		TrainerKind: trainerKind,
		BaseModel:   baseModel,
		Params:      params,
	}
}
