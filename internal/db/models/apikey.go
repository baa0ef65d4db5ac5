package models

import (
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type APIKey struct {
	bun.BaseModel `bun:"table:api_keys"`

	ID        uuid.UUID    `bun:",type:uuid,pk"`
	Name      string       `bun:",nullzero"`
	KeyHash   string       `bun:",notnull"`
	KeyMask   string       `bun:",notnull"`
	IsRevoked bool         `bun:",notnull,default:false"`
	CreatedAt bun.NullTime `bun:",notnull,default:current_timestamp"`
	UpdatedAt bun.NullTime `bun:",notnull,nullzero,default:current_timestamp"`
}

func NewAPIKey(name, keyHash, keyMask string) *APIKey {
	return &APIKey{
		ID:      uuid.Must(uuid.NewRandom()),
		Name:    name,
		KeyHash: keyHash,
		KeyMask: keyMask,
	}
}
