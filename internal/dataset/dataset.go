// Package dataset turns raw corpora into token sequences the trainers
// consume. Plain text is packed into fixed-size blocks for causal
// training; JSONL prompt/completion records keep their prompt length
// so supervised fine-tuning can mask it out of the loss.
package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/ember-llm/tune-server/internal/tokenizer"
)

// Example is one training sequence. IDs holds block+1 tokens at most;
// trainers shift by one to build input and target. PromptLen is zero
// for plain-text blocks.
type Example struct {
	IDs       []int
	PromptLen int
}

type Dataset struct {
	Examples []Example
}

func (d *Dataset) Len() int {
	return len(d.Examples)
}

// Shuffle permutes the examples in place.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.Examples), func(i, j int) {
		d.Examples[i], d.Examples[j] = d.Examples[j], d.Examples[i]
	})
}

// Split partitions the dataset into train and validation parts after a
// seeded shuffle, so the split is reproducible per run. valFraction is
// clamped to [0, 0.5]; the train side always keeps at least one
// example.
func (d *Dataset) Split(valFraction float64, seed int64) (train, val *Dataset) {
	if valFraction < 0 {
		valFraction = 0
	}
	if valFraction > 0.5 {
		valFraction = 0.5
	}

	shuffled := &Dataset{Examples: append([]Example(nil), d.Examples...)}
	shuffled.Shuffle(rand.New(rand.NewSource(seed)))

	nVal := int(float64(len(shuffled.Examples)) * valFraction)
	if nVal >= len(shuffled.Examples) {
		nVal = len(shuffled.Examples) - 1
	}

	split := len(shuffled.Examples) - nVal
	return &Dataset{Examples: shuffled.Examples[:split]},
		&Dataset{Examples: shuffled.Examples[split:]}
}

// ReadText concatenates the contents of every path. Directories are
// walked recursively; hidden entries are skipped.
func ReadText(paths []string) (string, error) {
	var parts []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if !info.IsDir() {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("failed to read %s: %w", path, err)
			}
			parts = append(parts, string(data))
			continue
		}

		err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			name := fi.Name()
			if strings.HasPrefix(name, ".") {
				if fi.IsDir() && p != path {
					return filepath.SkipDir
				}
				return nil
			}
			if fi.IsDir() {
				return nil
			}

			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", p, err)
			}
			parts = append(parts, string(data))
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	text := strings.Join(parts, "\n")
	if len(text) == 0 {
		return "", fmt.Errorf("no text found in %v", paths)
	}

	return text, nil
}

// PackText tokenizes text and slices it into non-overlapping blocks of
// blockSize+1 IDs. A trailing remainder shorter than two IDs is
// dropped. maxSamples of 0 means unlimited.
func PackText(text string, tok *tokenizer.Tokenizer, blockSize, maxSamples int) (*Dataset, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	ids := tok.Encode(text)
	ids = append(ids, tokenizer.EosID)
	if len(ids) < 2 {
		return nil, fmt.Errorf("corpus tokenized to %d ids; need at least 2", len(ids))
	}

	window := blockSize + 1
	ds := &Dataset{}
	for start := 0; start < len(ids); start += window {
		if maxSamples > 0 && len(ds.Examples) >= maxSamples {
			break
		}

		end := start + window
		if end > len(ids) {
			end = len(ids)
		}
		if end-start < 2 {
			break
		}

		ds.Examples = append(ds.Examples, Example{
			IDs: append([]int(nil), ids[start:end]...),
		})
	}

	return ds, nil
}
