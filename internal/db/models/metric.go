package models

import (
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Metric struct {
	bun.BaseModel `bun:"table:metrics,alias:m"`

	ID           uuid.UUID    `bun:",type:uuid,pk"`
	RunID        uuid.UUID    `bun:",type:uuid,notnull"`
	Step         int          `bun:",notnull"`
	Epoch        int          `bun:",notnull"`
	Loss         float64      `bun:",notnull"`
	ValLoss      *float64     `bun:",nullzero"`
	LearningRate float64      `bun:",notnull"`
	TokensPerSec float64      `bun:",nullzero"`
	Run          *Run         `bun:"rel:belongs-to,join:run_id=id"`
	CreatedAt    bun.NullTime `bun:",nullzero,notnull,default:current_timestamp"`
}

func NewMetric(runID uuid.UUID, step, epoch int, loss, lr float64) *Metric {
	return &Metric{
		ID:           uuid.Must(uuid.NewRandom()),
		RunID:        runID,
		Step:         step,
		Epoch:        epoch,
		Loss:         loss,
		LearningRate: lr,
	}
}
