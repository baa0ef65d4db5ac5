package types

import (
	"github.com/ember-llm/tune-server/internal/model"
	"github.com/ember-llm/tune-server/internal/trainer"
)

// Request from client - no ID field
type FinetuneParamsRequest struct {
	BaseModel   string          `json:"base_model,omitempty" msgpack:"base_model,omitempty"`
	TrainerKind string          `json:"trainer_kind" msgpack:"trainer_kind"`
	DataPaths   []string        `json:"data_paths" msgpack:"data_paths"`
	MaxSamples  int             `json:"max_samples,omitempty" msgpack:"max_samples,omitempty"`
	VocabSize   int             `json:"vocab_size,omitempty" msgpack:"vocab_size,omitempty"`
	Model       *model.Config   `json:"model,omitempty" msgpack:"model,omitempty"`
	Training    *trainer.Config `json:"training,omitempty" msgpack:"training,omitempty"`
	RandomSeed  int64           `json:"random_seed,omitempty" msgpack:"random_seed,omitempty"`
	WebhookUrl  string          `json:"webhook_url,omitempty" msgpack:"webhook_url,omitempty"`
}

// Internal type with server-generated ID
type FinetuneParams struct {
	ID          string          `json:"id" msgpack:"id"`
	BaseModel   string          `json:"base_model,omitempty" msgpack:"base_model,omitempty"`
	TrainerKind string          `json:"trainer_kind" msgpack:"trainer_kind"`
	DataPaths   []string        `json:"data_paths" msgpack:"data_paths"`
	MaxSamples  int             `json:"max_samples,omitempty" msgpack:"max_samples,omitempty"`
	VocabSize   int             `json:"vocab_size,omitempty" msgpack:"vocab_size,omitempty"`
	Model       *model.Config   `json:"model,omitempty" msgpack:"model,omitempty"`
	Training    *trainer.Config `json:"training,omitempty" msgpack:"training,omitempty"`
	RandomSeed  int64           `json:"random_seed,omitempty" msgpack:"random_seed,omitempty"`
	WebhookUrl  string          `json:"webhook_url,omitempty" msgpack:"webhook_url,omitempty"`
}

// WithID copies the request into the queue payload form.
func (r *FinetuneParamsRequest) WithID(id string) *FinetuneParams {
	return &FinetuneParams{
		ID:          id,
		BaseModel:   r.BaseModel,
		TrainerKind: r.TrainerKind,
		DataPaths:   r.DataPaths,
		MaxSamples:  r.MaxSamples,
		VocabSize:   r.VocabSize,
		Model:       r.Model,
		Training:    r.Training,
		RandomSeed:  r.RandomSeed,
		WebhookUrl:  r.WebhookUrl,
	}
}

type FinetuneResponse struct {
	ID     string                 `json:"id"`
	Status string                 `json:"status"`
	Input  *FinetuneParamsRequest `json:"input,omitempty"`
}
