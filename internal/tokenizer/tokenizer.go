// Package tokenizer implements the byte-level BPE tokenizer used for
// both pretraining corpora and instruct datasets. Vocabularies are
// persisted as JSON artifacts next to the model checkpoint.
package tokenizer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

const (
	PadToken = "<|pad|>"
	UnkToken = "<|unk|>"
	EosToken = "<|endoftext|>"
)

const (
	PadID = 0
	UnkID = 1
	EosID = 2
)

// numSpecial is the count of reserved IDs before the 256 byte tokens.
const numSpecial = 3

// baseVocabSize is specials plus one token per byte value.
const baseVocabSize = numSpecial + 256

type mergePair struct {
	First  string
	Second string
}

// Tokenizer maps text to token IDs and back. IDs are assigned
// deterministically: specials, then raw bytes, then merges in the
// order they were learned.
type Tokenizer struct {
	vocab    map[string]int
	vocabInv map[int]string
	merges   []mergePair
	special  map[string]int
}

// New returns a tokenizer with only the special and byte-level tokens.
func New() *Tokenizer {
	t := &Tokenizer{
		vocab:    make(map[string]int),
		vocabInv: make(map[int]string),
		special: map[string]int{
			PadToken: PadID,
			UnkToken: UnkID,
			EosToken: EosID,
		},
	}

	for tok, id := range t.special {
		t.vocab[tok] = id
		t.vocabInv[id] = tok
	}
	for b := 0; b < 256; b++ {
		tok := string([]byte{byte(b)})
		id := numSpecial + b
		t.vocab[tok] = id
		t.vocabInv[id] = tok
	}

	return t
}

func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// Train learns merges from text until the vocabulary reaches
// vocabSize or no adjacent pair repeats. Ties between equally frequent
// pairs break lexicographically so training is reproducible.
func (t *Tokenizer) Train(text string, vocabSize int) error {
	if vocabSize < baseVocabSize {
		return fmt.Errorf("vocab size %d is below the %d byte-level minimum", vocabSize, baseVocabSize)
	}
	if len(text) == 0 {
		return fmt.Errorf("empty training text")
	}

	tokens := make([]string, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = text[i : i+1]
	}

	for t.VocabSize() < vocabSize {
		counts := make(map[mergePair]int)
		for i := 0; i+1 < len(tokens); i++ {
			counts[mergePair{tokens[i], tokens[i+1]}]++
		}

		best := mergePair{}
		bestCount := 0
		for pair, count := range counts {
			if count > bestCount || (count == bestCount && lessPair(pair, best)) {
				best = pair
				bestCount = count
			}
		}
		if bestCount < 2 {
			break
		}

		merged := best.First + best.Second
		id := len(t.vocab)
		t.vocab[merged] = id
		t.vocabInv[id] = merged
		t.merges = append(t.merges, best)
		tokens = applyMerge(tokens, best)
	}

	return nil
}

func lessPair(a, b mergePair) bool {
	if a.First != b.First {
		return a.First < b.First
	}
	return a.Second < b.Second
}

func applyMerge(tokens []string, pair mergePair) []string {
	out := tokens[:0]
	i := 0
	for i < len(tokens) {
		if i+1 < len(tokens) && tokens[i] == pair.First && tokens[i+1] == pair.Second {
			out = append(out, pair.First+pair.Second)
			i += 2
		} else {
			out = append(out, tokens[i])
			i++
		}
	}

	return out
}

// Encode converts text to token IDs by replaying the learned merges.
func (t *Tokenizer) Encode(text string) []int {
	if len(text) == 0 {
		return nil
	}

	tokens := make([]string, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = text[i : i+1]
	}
	for _, pair := range t.merges {
		tokens = applyMerge(tokens, pair)
	}

	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		if id, ok := t.vocab[tok]; ok {
			ids[i] = id
		} else {
			ids[i] = UnkID
		}
	}

	return ids
}

// Decode reconstructs text from IDs, dropping special tokens.
func (t *Tokenizer) Decode(ids []int) string {
	var out []byte
	for _, id := range ids {
		tok, ok := t.vocabInv[id]
		if !ok {
			continue
		}
		if _, isSpecial := t.special[tok]; isSpecial {
			continue
		}
		out = append(out, tok...)
	}

	return string(out)
}

// artifact is the on-disk JSON form. Merge halves are hex encoded
// because raw byte tokens are not generally valid UTF-8.
type artifact struct {
	SpecialTokens map[string]int `json:"special_tokens"`
	Merges        [][2]string    `json:"merges"`
}

func (t *Tokenizer) Save(path string) error {
	a := artifact{
		SpecialTokens: t.special,
		Merges:        make([][2]string, len(t.merges)),
	}
	for i, pair := range t.merges {
		a.Merges[i] = [2]string{
			hex.EncodeToString([]byte(pair.First)),
			hex.EncodeToString([]byte(pair.Second)),
		}
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tokenizer: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write tokenizer file: %w", err)
	}

	return nil
}

// Load reads a tokenizer artifact and rebuilds the vocabulary by
// replaying its merges over the byte-level base.
func Load(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer file: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer file: %w", err)
	}

	t := New()
	for tok, id := range a.SpecialTokens {
		if want, ok := t.special[tok]; !ok || want != id {
			return nil, fmt.Errorf("unexpected special token %q with id %d", tok, id)
		}
	}

	for i, pair := range a.Merges {
		first, err := hex.DecodeString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("bad merge %d: %w", i, err)
		}
		second, err := hex.DecodeString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("bad merge %d: %w", i, err)
		}

		mp := mergePair{string(first), string(second)}
		merged := mp.First + mp.Second
		id := len(t.vocab)
		t.vocab[merged] = id
		t.vocabInv[id] = merged
		t.merges = append(t.merges, mp)
	}

	return t, nil
}
