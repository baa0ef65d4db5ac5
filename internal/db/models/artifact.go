package models

import (
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Artifact struct {
	bun.BaseModel `bun:"table:artifacts"`

	ID        uuid.UUID    `bun:",type:uuid,pk"`
	RunID     uuid.UUID    `bun:",type:uuid,notnull"`
	Name      string       `bun:",notnull"`
	Kind      string       `bun:",notnull"`
	Url       string       `bun:",notnull"`
	Size      int64        `bun:",notnull"`
	Checksum  string       `bun:",nullzero"`
	Run       *Run         `bun:"rel:belongs-to,join:run_id=id"`
	UpdatedAt bun.NullTime `bun:",nullzero,notnull,default:current_timestamp"`
	CreatedAt bun.NullTime `bun:",nullzero,notnull,default:current_timestamp"`
}

func NewArtifact(runID uuid.UUID, name, kind, url string, size int64, checksum string) *Artifact {
	return &Artifact{
		ID:       uuid.Must(uuid.NewRandom()),
		RunID:    runID,
		Name:     name,
		Kind:     kind,
		Url:      url,
		Size:     size,
		Checksum: checksum,
	}
}
