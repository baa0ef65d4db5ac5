package models

import (
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BaseModel records a pretrained checkpoint known to this server,
// either downloaded from a remote source or registered locally.
type BaseModel struct {
	bun.BaseModel `bun:"table:base_models"`

	ID        uuid.UUID    `bun:",type:uuid,pk"`
	Name      string       `bun:",unique,notnull"`
	Source    string       `bun:",notnull"`
	LocalPath string       `bun:",nullzero"`
	Size      int64        `bun:",nullzero"`
	Checksum  string       `bun:",nullzero"`
	CreatedAt bun.NullTime `bun:",nullzero,default:current_timestamp"`
	UpdatedAt bun.NullTime `bun:",nullzero,default:current_timestamp"`
}

func NewBaseModel(name, source string) *BaseModel {
	return &BaseModel{
		ID:     uuid.Must(uuid.NewRandom()),
		Name:   name,
		Source: source,
	}
}
