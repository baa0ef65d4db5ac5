package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/ember-llm/tune-server/internal/dataset"
)

const screenBatchSize = 20

var ErrRecordsRejected = errors.New("dataset records rejected")

type RecordVerdict struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type screenResponse struct {
	Verdicts []RecordVerdict `json:"verdicts"`
}

type batchRecord struct {
	Index      int    `json:"index"`
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// Screener reviews instruction records before they are used for
// training. Rejected records fail the whole dataset so the caller
// can surface which examples were refused.
type Screener struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewScreener(cfg *config.Config, logger *zap.Logger) *Screener {
	return &Screener{
		cfg:    cfg,
		logger: logger.Named("screening"),
	}
}

func (s *Screener) Screen(ctx context.Context, records []dataset.Record) error {
	if s.cfg.OpenAIAPIKey == "" {
		return errors.New("OpenAI API key not configured")
	}

	var rejected []RecordVerdict
	for start := 0; start < len(records); start += screenBatchSize {
		end := start + screenBatchSize
		if end > len(records) {
			end = len(records)
		}

		verdicts, err := s.invokeBatch(ctx, records[start:end], start)
		if err != nil {
			return fmt.Errorf("failed to screen records %d-%d: %w", start, end-1, err)
		}

		for _, v := range verdicts {
			if v.Status == "rejected" {
				rejected = append(rejected, v)
			}
		}
	}

	if len(rejected) > 0 {
		s.logger.Warn("Dataset records rejected", zap.Int("count", len(rejected)))
		return fmt.Errorf("%w: %s", ErrRecordsRejected, describeRejections(rejected))
	}

	return nil
}

func (s *Screener) invokeBatch(ctx context.Context, records []dataset.Record, offset int) ([]RecordVerdict, error) {
	batch := make([]batchRecord, len(records))
	for i, r := range records {
		batch[i] = batchRecord{
			Index:      offset + i,
			Prompt:     r.Prompt,
			Completion: r.Completion,
		}
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(option.WithAPIKey(s.cfg.OpenAIAPIKey))
	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(GetRecordScreenTemplate()),
			openai.UserMessage(string(payload)),
		}),
		ResponseFormat: openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONObjectParam{
				Type: openai.F(openai.ResponseFormatJSONObjectTypeJSONObject),
			},
		),
		Seed:        openai.F(int64(time.Now().Unix())),
		Model:       openai.F(openai.ChatModelGPT4o),
		Temperature: openai.F(0.2),
	})
	if err != nil {
		return nil, err
	}

	if len(completion.Choices) == 0 || len(completion.Choices[0].Message.Content) == 0 {
		return nil, fmt.Errorf("could not screen records")
	}

	var response screenResponse
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &response); err != nil {
		return nil, fmt.Errorf("could not parse response: %w", err)
	}

	if len(response.Verdicts) != len(records) {
		return nil, fmt.Errorf("expected %d verdicts, got %d", len(records), len(response.Verdicts))
	}

	return response.Verdicts, nil
}

// describeRejections lists the first few rejected records so errors
// stay readable for large datasets.
func describeRejections(rejected []RecordVerdict) string {
	const maxListed = 3

	parts := make([]string, 0, maxListed+1)
	for i, v := range rejected {
		if i == maxListed {
			parts = append(parts, fmt.Sprintf("and %d more", len(rejected)-maxListed))
			break
		}
		parts = append(parts, fmt.Sprintf("record %d (%s)", v.Index, v.Reason))
	}

	return strings.Join(parts, ", ")
}
