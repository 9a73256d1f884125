package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level, format string) (*StructuredLogger, *bytes.Buffer) {
	logger := NewStructuredLogger(LoggingConfig{Level: level, Format: format})
	buf := &bytes.Buffer{}
	logger.output = buf
	return logger, buf
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger("warn", "text")

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept too")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "kept too")
}

func TestLoggerJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger("debug", "json")

	logger.Info("pipeline built",
		String("url", "file:///a.flac"),
		Int("elements", 11),
		Bool("gapless", true),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "pipeline built", entry["message"])

	fields, ok := entry["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "file:///a.flac", fields["url"])
	assert.Equal(t, 11.0, fields["elements"])
	assert.Equal(t, true, fields["gapless"])
}

func TestLoggerWith(t *testing.T) {
	logger, buf := newBufferLogger("debug", "text")

	child := logger.With(String("pipeline_id", "abc"))
	child.Info("hello")

	assert.Contains(t, buf.String(), "pipeline_id=abc")

	// The parent stays untouched.
	buf.Reset()
	logger.Info("hello")
	assert.NotContains(t, buf.String(), "pipeline_id")
}

func TestErrorField(t *testing.T) {
	f := Error(errors.New("boom"))
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, "boom", f.Value)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, InfoLevel, parseLogLevel("bogus"))
}

func TestNullLoggerDiscards(t *testing.T) {
	logger := NullLogger()
	logger.Error("nobody hears this", String("k", "v"))
	logger.With(String("k", "v")).Error("still silent")
}

func TestLogLevelString(t *testing.T) {
	for level, want := range map[LogLevel]string{
		DebugLevel: "DEBUG",
		InfoLevel:  "INFO",
		WarnLevel:  "WARN",
		ErrorLevel: "ERROR",
	} {
		assert.Equal(t, want, level.String())
	}
	assert.True(t, strings.HasPrefix(LogLevel(99).String(), "UNKNOWN"))
}
