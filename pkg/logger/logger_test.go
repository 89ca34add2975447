package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo}).With(Component("refresher"))

	log.Info("user refreshed", UserID("u1"), Score(52.6), Solved(3), Err(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "user refreshed", lines[0]["message"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "refresher", lines[0]["component"])
	assert.Equal(t, "u1", lines[0]["user_id"])
	assert.Equal(t, 52.6, lines[0]["score"])
	assert.Equal(t, float64(3), lines[0]["solved"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Contains(t, lines[0], "timestamp")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn})

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Errorf("shown %d", 2)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown", lines[0]["message"])
	assert.Equal(t, "shown 2", lines[1]["message"])
}

func TestLogger_WithLevelDoesNotAffectParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Options{Output: &buf, Level: LevelError}).With(Component("job"))
	child := parent.WithLevel(LevelDebug)

	parent.Info("parent hidden")
	child.Debug("child shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "child shown", lines[0]["message"])
	assert.Equal(t, "job", lines[0]["component"])
}

func TestLogger_TextFormatAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Format: FormatText}).With(RequestID("req-1"))

	log.Info("hello", Duration("wait", 1500*time.Millisecond))

	line := buf.String()
	assert.Contains(t, line, "msg=hello")
	assert.Contains(t, line, "request_id=req-1")
	assert.Contains(t, line, "wait=1.5s")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(9).String())
}
