package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ember-llm/tune-server/internal/tokenizer"
)

// Record is one prompt/completion pair from a JSONL instruct file.
type Record struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// instruct files can run to long lines; give the scanner headroom.
const maxLineBytes = 1 << 20

// ReadRecords parses JSONL instruct files. Blank lines are skipped,
// malformed lines fail with their location. maxSamples of 0 means
// unlimited.
func ReadRecords(paths []string, maxSamples int) ([]Record, error) {
	var records []Record
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var rec Record
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				file.Close()
				return nil, fmt.Errorf("%s:%d: malformed record: %w", path, lineNo, err)
			}
			if rec.Completion == "" {
				file.Close()
				return nil, fmt.Errorf("%s:%d: record has no completion", path, lineNo)
			}

			records = append(records, rec)
			if maxSamples > 0 && len(records) >= maxSamples {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to scan %s: %w", path, err)
		}
		file.Close()

		if maxSamples > 0 && len(records) >= maxSamples {
			break
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no instruct records found in %v", paths)
	}

	return records, nil
}

// EncodeRecords tokenizes prompt+completion with a trailing EOS and
// records the prompt token count. Sequences longer than blockSize+1
// are truncated from the end, never into the prompt's first token.
func EncodeRecords(records []Record, tok *tokenizer.Tokenizer, blockSize int) (*Dataset, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	ds := &Dataset{}
	window := blockSize + 1
	for i, rec := range records {
		promptIDs := tok.Encode(rec.Prompt)
		completionIDs := tok.Encode(rec.Completion)

		ids := make([]int, 0, len(promptIDs)+len(completionIDs)+1)
		ids = append(ids, promptIDs...)
		ids = append(ids, completionIDs...)
		ids = append(ids, tokenizer.EosID)
		if len(ids) > window {
			ids = ids[:window]
		}
		if len(ids) < 2 {
			return nil, fmt.Errorf("record %d tokenized to %d ids; need at least 2", i, len(ids))
		}

		promptLen := len(promptIDs)
		if promptLen > len(ids)-1 {
			promptLen = len(ids) - 1
		}

		ds.Examples = append(ds.Examples, Example{IDs: ids, PromptLen: promptLen})
	}

	return ds, nil
}
