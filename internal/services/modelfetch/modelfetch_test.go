package modelfetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ember-llm/tune-server/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseSource(t *testing.T) {
	src, err := ParseSource("hf:ember-llm/gpt-nano")
	require.NoError(t, err)
	assert.Equal(t, SourceTypeHuggingface, src.Type)
	assert.Equal(t, "ember-llm/gpt-nano", src.Location)
	assert.Equal(t, "hf:ember-llm/gpt-nano", src.Original)

	src, err = ParseSource("file:~/models/gpt.bin")
	require.NoError(t, err)
	assert.Equal(t, SourceTypeFile, src.Type)
	assert.Equal(t, "~/models/gpt.bin", src.Location)

	src, err = ParseSource("https://example.com/weights/gpt.bin")
	require.NoError(t, err)
	assert.Equal(t, SourceTypeDirect, src.Type)

	_, err = ParseSource("")
	assert.Error(t, err)

	_, err = ParseSource("s3://bucket/gpt.bin")
	assert.Error(t, err)
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.Config{
		ModelsDir: t.TempDir(),
		BaseModels: map[string]string{
			"gpt-nano": "hf:ember-llm/gpt-nano",
		},
	}
	return NewManager(cfg, zap.NewNop())
}

func TestEnsureLocalFileSource(t *testing.T) {
	m := testManager(t)

	path := filepath.Join(t.TempDir(), "gpt.bin")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))

	got, err := m.EnsureLocal(context.Background(), "file:"+path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = m.EnsureLocal(context.Background(), "file:"+filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestResolveName(t *testing.T) {
	m := testManager(t)

	assert.Equal(t, "hf:ember-llm/gpt-nano", m.ResolveName("gpt-nano"))
	assert.Equal(t, "hf:other/repo", m.ResolveName("hf:other/repo"))
}

func TestDirectCachePathIsStable(t *testing.T) {
	m := testManager(t)

	src, err := ParseSource("https://example.com/weights/gpt.bin")
	require.NoError(t, err)

	first, err := m.directCachePath(src)
	require.NoError(t, err)
	second, err := m.directCachePath(src)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, m.cfg.ModelsDir))
	assert.Equal(t, "gpt.bin", filepath.Base(first))

	// Same filename at a different URL must not collide.
	other, err := ParseSource("https://example.com/v2/gpt.bin")
	require.NoError(t, err)
	otherPath, err := m.directCachePath(other)
	require.NoError(t, err)
	assert.NotEqual(t, first, otherPath)
}

func TestSubscriptionNotifiesWaiters(t *testing.T) {
	sm := NewSubscriptionManager()
	source := "https://example.com/gpt.bin"

	sm.SetStatus(source, StatusDownloading)
	done := sm.Subscribe(source)

	sm.SetStatus(source, StatusReady)
	assert.NoError(t, <-done)

	// Subscribing after completion resolves immediately.
	assert.NoError(t, <-sm.Subscribe(source))
}

func TestSubscriptionPropagatesFailure(t *testing.T) {
	sm := NewSubscriptionManager()
	source := "https://example.com/gpt.bin"

	sm.SetStatus(source, StatusDownloading)
	done := sm.Subscribe(source)

	sm.SetStatus(source, StatusFailed)
	assert.ErrorIs(t, <-done, ErrDownloadFailed)
	assert.ErrorIs(t, <-sm.Subscribe(source), ErrDownloadFailed)
}
