package tokenizer

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainText = "the quick brown fox jumps over the lazy dog. " +
	"the quick brown fox jumps over the lazy dog. " +
	"pack my box with five dozen liquor jugs."

func TestNewHasByteLevelBase(t *testing.T) {
	tok := New()

	assert.Equal(t, baseVocabSize, tok.VocabSize())
	assert.Equal(t, PadID, tok.vocab[PadToken])
	assert.Equal(t, UnkID, tok.vocab[UnkToken])
	assert.Equal(t, EosID, tok.vocab[EosToken])
	assert.Equal(t, numSpecial, tok.vocab["\x00"])
}

func TestTrainLearnsMerges(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(trainText, baseVocabSize+32))

	assert.Greater(t, len(tok.merges), 0)
	assert.LessOrEqual(t, tok.VocabSize(), baseVocabSize+32)

	// "the " repeats often enough that it must encode to fewer IDs
	// than raw bytes.
	ids := tok.Encode("the quick brown fox")
	assert.Less(t, len(ids), len("the quick brown fox"))
}

func TestTrainRejectsTinyVocab(t *testing.T) {
	tok := New()
	assert.Error(t, tok.Train(trainText, 100))
	assert.Error(t, tok.Train("", baseVocabSize+10))
}

func TestTrainIsDeterministic(t *testing.T) {
	a := New()
	b := New()
	require.NoError(t, a.Train(trainText, baseVocabSize+50))
	require.NoError(t, b.Train(trainText, baseVocabSize+50))

	require.Equal(t, a.merges, b.merges)
	assert.Equal(t, a.Encode(trainText), b.Encode(trainText))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(trainText, baseVocabSize+64))

	for _, text := range []string{
		"the quick brown fox",
		"completely unseen text with w0rds & symbols!",
		"bytes outside ascii: héllo wörld ✓",
	} {
		assert.Equal(t, text, tok.Decode(tok.Encode(text)))
	}
}

func TestDecodeSkipsSpecialAndUnknownIDs(t *testing.T) {
	tok := New()
	ids := append([]int{EosID, PadID}, tok.Encode("ok")...)
	ids = append(ids, 99999)

	assert.Equal(t, "ok", tok.Decode(ids))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(trainText, baseVocabSize+48))

	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, tok.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, tok.VocabSize(), loaded.VocabSize())
	assert.Equal(t, tok.merges, loaded.merges)

	text := strings.Repeat("quick jugs ", 3)
	assert.Equal(t, tok.Encode(text), loaded.Encode(text))
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
