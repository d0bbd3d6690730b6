package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternforth/vantage/internal/config"
)

func jsonLogger(t *testing.T, level string) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: "json"}, buf)
	return logger, buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestNewLoggerLevels(t *testing.T) {
	logger, buf := jsonLogger(t, "warn")

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	entry := lastLine(t, buf)
	assert.Equal(t, "shown", entry["msg"])
}

func TestNewLoggerTextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, buf)

	logger.Info("hello", slog.String("service", "examplesvc"))
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service=examplesvc")
}

func TestRedactsCredentialFields(t *testing.T) {
	logger, buf := jsonLogger(t, "info")

	type login struct {
		Username string
		Password string
	}
	logger.Info("authenticating", slog.Any("credential", login{Username: "alice", Password: "hunter2"}))

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "alice")
}

func TestRedactsTaggedFields(t *testing.T) {
	logger, buf := jsonLogger(t, "info")

	type request struct {
		URL    string
		APIKey string `masq:"secret"`
	}
	logger.Info("calling remote", slog.Any("request", request{URL: "https://r.example.com", APIKey: "abc123"}))

	out := buf.String()
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, "r.example.com")
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
}

func TestWithHelpers(t *testing.T) {
	logger, buf := jsonLogger(t, "info")

	WithError(WithService(WithComponent(logger, "remote"), "examplesvc"), errors.New("boom")).Info("failed")

	entry := lastLine(t, buf)
	assert.Equal(t, "remote", entry["component"])
	assert.Equal(t, "examplesvc", entry["service"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithErrorNil(t *testing.T) {
	logger, buf := jsonLogger(t, "info")
	WithError(logger, nil).Info("fine")
	entry := lastLine(t, buf)
	_, hasError := entry["error"]
	assert.False(t, hasError)
}

func TestContextLogger(t *testing.T) {
	logger, _ := jsonLogger(t, "info")

	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))

	// Falls back to the default logger when unset.
	assert.NotNil(t, LoggerFromContext(context.Background()))
}

func TestContextRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestTimedOperationWithError(t *testing.T) {
	logger, buf := jsonLogger(t, "debug")

	var err error
	done := TimedOperationWithError(context.Background(), logger, "get_titles", &err)
	err = errors.New("upstream 500")
	done()

	entry := lastLine(t, buf)
	assert.Equal(t, "operation failed", entry["msg"])
	assert.Equal(t, "get_titles", entry["operation"])
	assert.Equal(t, "upstream 500", entry["error"])
}

func TestTimedOperationSuccess(t *testing.T) {
	logger, buf := jsonLogger(t, "debug")

	done := TimedOperation(context.Background(), logger, "search")
	done()

	entry := lastLine(t, buf)
	assert.Equal(t, "operation completed", entry["msg"])
	assert.Equal(t, "search", entry["operation"])
}
