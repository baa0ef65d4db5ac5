package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ember-llm/tune-server/internal/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadTextFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	single := writeFile(t, dir, "single.txt", "alpha")
	corpus := filepath.Join(dir, "corpus")
	writeFile(t, corpus, "a.txt", "beta")
	writeFile(t, corpus, "nested/b.txt", "gamma")
	writeFile(t, corpus, ".hidden", "nope")
	writeFile(t, corpus, ".git/config", "nope")

	text, err := ReadText([]string{single, corpus})
	require.NoError(t, err)

	assert.Contains(t, text, "alpha")
	assert.Contains(t, text, "beta")
	assert.Contains(t, text, "gamma")
	assert.NotContains(t, text, "nope")
}

func TestReadTextErrors(t *testing.T) {
	_, err := ReadText([]string{filepath.Join(t.TempDir(), "missing.txt")})
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, dir, "empty.txt", "")
	_, err = ReadText([]string{filepath.Join(dir, "empty.txt")})
	assert.Error(t, err)
}

func TestPackText(t *testing.T) {
	tok := tokenizer.New()
	text := strings.Repeat("abcd", 8) // 32 byte tokens + EOS

	ds, err := PackText(text, tok, 7, 0)
	require.NoError(t, err)

	// 33 ids in windows of 8: four full blocks plus one len-1 remainder
	// that gets dropped.
	require.Equal(t, 4, ds.Len())
	for _, ex := range ds.Examples {
		assert.Len(t, ex.IDs, 8)
		assert.Equal(t, 0, ex.PromptLen)
	}

	capped, err := PackText(text, tok, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, capped.Len())

	_, err = PackText(text, tok, 0, 0)
	assert.Error(t, err)
}

func TestPackTextAppendsEos(t *testing.T) {
	tok := tokenizer.New()
	ds, err := PackText("xy", tok, 7, 0)
	require.NoError(t, err)

	require.Equal(t, 1, ds.Len())
	ids := ds.Examples[0].IDs
	assert.Equal(t, tokenizer.EosID, ids[len(ids)-1])
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "train.jsonl", strings.Join([]string{
		`{"prompt": "2+2=", "completion": "4"}`,
		``,
		`{"prompt": "capital of france?", "completion": "paris"}`,
	}, "\n"))

	records, err := ReadRecords([]string{path}, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2+2=", records[0].Prompt)
	assert.Equal(t, "paris", records[1].Completion)

	capped, err := ReadRecords([]string{path, path}, 3)
	require.NoError(t, err)
	assert.Len(t, capped, 3)
}

func TestReadRecordsErrors(t *testing.T) {
	dir := t.TempDir()

	malformed := writeFile(t, dir, "bad.jsonl", `{"prompt": `)
	_, err := ReadRecords([]string{malformed}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jsonl:1")

	noCompletion := writeFile(t, dir, "empty.jsonl", `{"prompt": "hi"}`)
	_, err = ReadRecords([]string{noCompletion}, 0)
	assert.Error(t, err)

	blank := writeFile(t, dir, "blank.jsonl", "\n\n")
	_, err = ReadRecords([]string{blank}, 0)
	assert.Error(t, err)
}

func TestEncodeRecords(t *testing.T) {
	tok := tokenizer.New()
	records := []Record{{Prompt: "ab", Completion: "cd"}}

	ds, err := EncodeRecords(records, tok, 16)
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())

	ex := ds.Examples[0]
	assert.Len(t, ex.IDs, 5) // 2 prompt + 2 completion + EOS
	assert.Equal(t, 2, ex.PromptLen)
	assert.Equal(t, tokenizer.EosID, ex.IDs[4])
}

func TestEncodeRecordsTruncates(t *testing.T) {
	tok := tokenizer.New()
	records := []Record{{Prompt: "abcdefgh", Completion: "ijklmnop"}}

	ds, err := EncodeRecords(records, tok, 9)
	require.NoError(t, err)

	ex := ds.Examples[0]
	assert.Len(t, ex.IDs, 10)
	assert.Equal(t, 8, ex.PromptLen)

	// Prompt longer than the window leaves at least one target.
	tight, err := EncodeRecords(records, tok, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, tight.Examples[0].PromptLen)
	assert.Len(t, tight.Examples[0].IDs, 5)
}

func TestSplit(t *testing.T) {
	ds := &Dataset{}
	for i := 0; i < 10; i++ {
		ds.Examples = append(ds.Examples, Example{IDs: []int{i, i + 1}})
	}

	train, val := ds.Split(0.3, 5)
	assert.Equal(t, 7, train.Len())
	assert.Equal(t, 3, val.Len())

	// Same seed, same partition.
	train2, val2 := ds.Split(0.3, 5)
	assert.Equal(t, train.Examples, train2.Examples)
	assert.Equal(t, val.Examples, val2.Examples)

	// Clamped fraction and the one-example floor.
	train3, _ := ds.Split(0.9, 1)
	assert.Equal(t, 5, train3.Len())

	tiny := &Dataset{Examples: []Example{{IDs: []int{1, 2}}}}
	train4, val4 := tiny.Split(0.5, 1)
	assert.Equal(t, 1, train4.Len())
	assert.Equal(t, 0, val4.Len())
}

func TestShuffleDeterministic(t *testing.T) {
	mk := func() *Dataset {
		ds := &Dataset{}
		for i := 0; i < 8; i++ {
			ds.Examples = append(ds.Examples, Example{IDs: []int{i}})
		}
		return ds
	}

	a, b := mk(), mk()
	a.Shuffle(rand.New(rand.NewSource(9)))
	b.Shuffle(rand.New(rand.NewSource(9)))

	assert.Equal(t, a.Examples, b.Examples)
}
