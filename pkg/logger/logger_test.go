package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureEntry(t *testing.T, log func(l *Logger)) LogEntry {
	t.Helper()
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelDebug, AddCaller: false})
	log(l)

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDomainFieldsAppearInOutput(t *testing.T) {
	entry := captureEntry(t, func(l *Logger) {
		l.Info("launch recorded",
			ActivityID(42),
			UserID(7),
			Registration("550e8400-e29b-41d4-a716-446655440000"),
		)
	})

	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "launch recorded", entry.Message)
	assert.EqualValues(t, 42, entry.Fields["activity_id"])
	assert.EqualValues(t, 7, entry.Fields["user_id"])
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", entry.Fields["registration"])
}

func TestRequestFields(t *testing.T) {
	entry := captureEntry(t, func(l *Logger) {
		l.Info("http request",
			Component("http"),
			Latency(250*time.Millisecond),
		)
	})

	assert.Equal(t, "http", entry.Fields["component"])
	assert.Equal(t, "250ms", entry.Fields["latency"])
}

func TestErrField(t *testing.T) {
	entry := captureEntry(t, func(l *Logger) {
		l.Error("boom", Err(errors.New("lrs down")))
	})
	assert.Equal(t, "lrs down", entry.Fields["error"])

	entry = captureEntry(t, func(l *Logger) {
		l.Error("boom", Err(nil))
	})
	assert.Nil(t, entry.Fields["error"])
}

func TestWithAddsBaseFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelInfo, AddCaller: false}).
		With(Component("worker"))
	l.Info("sweep started", ActivityID(3))

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "worker", entry.Fields["component"])
	assert.EqualValues(t, 3, entry.Fields["activity_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelWarn, AddCaller: false})
	l.Debug("hidden")
	l.Info("hidden too")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
