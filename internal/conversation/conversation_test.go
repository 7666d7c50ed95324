package conversation

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileModeAppends(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(ModeFile, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

	l.Record(Entry{Model: "gpt-4", ProviderType: "openai-custom", Prompt: "hello", Response: "hi", Duration: time.Second})
	l.Record(Entry{Model: "gpt-4", ProviderType: "openai-custom", Prompt: "again", Error: "upstream returned status 500"})

	matches, err := filepath.Glob(filepath.Join(dir, "conversations-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello")
	assert.Contains(t, string(content), "again")
	assert.Contains(t, string(content), "upstream returned status 500")
}

func TestNoneModeWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(ModeNone, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

	l.Record(Entry{Model: "gpt-4", Prompt: "hello"})

	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDefaultModeIsNone(t *testing.T) {
	l := NewLogger("", t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, ModeNone, l.mode)
}
