package logging

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDir points the package at a temporary log directory and resets global state
func setupTestDir(t *testing.T) {
	t.Helper()

	origLogDir := logDir
	origInitErr := initErr
	origSessionID := sessionID

	logDir = t.TempDir()
	initErr = nil
	initOnce = sync.Once{}
	sessionID = ""
	sessionIDOnce = sync.Once{}

	t.Cleanup(func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		sessionID = origSessionID
		sessionIDOnce = sync.Once{}
	})
}

func TestNewLogger(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("background")
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, "background", logger.component)
	assert.NotEmpty(t, logger.SessionID())
	assert.NotEmpty(t, logger.LogPath())

	_, statErr := os.Stat(logger.LogPath())
	assert.NoError(t, statErr, "log file should exist")
}

func TestLoggerFormatting(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("popup")
	require.NoError(t, err)

	logger.Debugf("Debug message")
	logger.Infof("Info message %d", 123)
	logger.Warnf("Warning message")
	logger.Errorf("Error message")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)

	for _, pattern := range []string{
		"[popup] [DEBUG] Debug message",
		"[popup] [INFO] Info message 123",
		"[popup] [WARN] Warning message",
		"[popup] [ERROR] Error message",
	} {
		assert.Contains(t, string(content), pattern)
	}
}

func TestLoggersShareSessionFile(t *testing.T) {
	setupTestDir(t)

	first, err := NewLogger("background")
	require.NoError(t, err)
	defer first.Close()
	second, err := NewLogger("panel")
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, first.LogPath(), second.LogPath())
	assert.Equal(t, first.SessionID(), GetSessionID())
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("store", &buf)
	logger.SetLevel(LevelWarn)

	logger.Debugf("hidden")
	logger.Infof("hidden too")
	logger.Warnf("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[store] [WARN] shown")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("background", &buf)

	logger.With("bridge").Infof("connected")

	assert.Contains(t, buf.String(), "[background.bridge] [INFO] connected")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    Level
		wantErr bool
	}{
		{name: "debug", want: LevelDebug},
		{name: "INFO", want: LevelInfo},
		{name: "", want: LevelInfo},
		{name: "warning", want: LevelWarn},
		{name: " error ", want: LevelError},
		{name: "verbose", want: LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConcurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("concurrent", &buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Infof("goroutine %d", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 10)
}

func TestCloseIsIdempotent(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("close")
	require.NoError(t, err)

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}
