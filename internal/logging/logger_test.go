package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	logger := NewLogger(nil)
	assert.NotNil(t, logger)
	assert.Equal(t, LevelInfo, logger.level)
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	assert.Empty(t, buf.String())

	logger.Warn("this one should appear")
	assert.Contains(t, buf.String(), "this one should appear")
}

func TestLoggerWithQueue(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.WithQueue(3).Info("chunk retained")
	assert.Contains(t, buf.String(), "queue=3")
	assert.Contains(t, buf.String(), "chunk retained")
}

func TestLoggerWithLane(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.WithLane(42).Debug("submitting action chain")
	assert.Contains(t, buf.String(), "lane=42")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.WithError(errors.New("cancelled")).Error("drive failed")
	output := buf.String()
	assert.True(t, strings.Contains(output, `error="cancelled"`))
}

func TestLoggerArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debug("wake", "cookie", uint64(7))
	assert.Contains(t, buf.String(), "cookie=7")
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	t.Cleanup(func() { SetDefault(NewLogger(nil)) })

	Debug("debug message", "key", "value")
	assert.Contains(t, buf.String(), "debug message")
	assert.Contains(t, buf.String(), "key=value")

	buf.Reset()
	Info("info message")
	assert.Contains(t, buf.String(), "info message")

	buf.Reset()
	Warn("warning message")
	assert.Contains(t, buf.String(), "warning message")

	buf.Reset()
	Error("error message")
	assert.Contains(t, buf.String(), "error message")
}
