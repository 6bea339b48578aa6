package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("loud"))
}

func TestApplyLevelFrom(t *testing.T) {
	t.Cleanup(func() { SetLevel(zapcore.InfoLevel) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=error\nOTHER=1\n"), 0o600))

	applyLevelFrom(path)
	assert.Equal(t, zapcore.ErrorLevel, Level())
}

func TestWatchLevelPicksUpChanges(t *testing.T) {
	t.Cleanup(func() { SetLevel(zapcore.InfoLevel) })
	SetLevel(zapcore.InfoLevel)

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=info\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchLevel(ctx, path) }()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\n"), 0o600))

	assert.Eventually(t, func() bool { return Level() == zapcore.DebugLevel }, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchLevelMissingFile(t *testing.T) {
	err := WatchLevel(context.Background(), filepath.Join(t.TempDir(), "nope.env"))
	assert.NoError(t, err)
}
