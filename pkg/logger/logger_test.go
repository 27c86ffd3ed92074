package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_PromotesKnownFields(t *testing.T) {
	var buf bytes.Buffer
	log := New("booking-service", Options{Out: &buf, Level: LevelDebug})

	log.WithFields(LogFields{
		"trip_id":    "t-1",
		"booking_id": "b-1",
		"seats":      2,
	}).Info("booking_requested", "Booking created")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "booking-service", lines[0]["service"])
	assert.Equal(t, "t-1", lines[0]["trip_id"])
	assert.Equal(t, "b-1", lines[0]["booking_id"])
	assert.Equal(t, map[string]interface{}{"seats": float64(2)}, lines[0]["fields"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("svc", Options{Out: &buf, Level: LevelInfo})

	log.Debug("noise", "dropped")
	log.Info("kept", "kept")
	log.Error("failed", errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "kept", lines[0]["action"])
	assert.Equal(t, "boom", lines[1]["message"])
	assert.NotNil(t, lines[1]["error"])
}

func TestLogger_ChildDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	parent := New("svc", Options{Out: &buf})
	_ = parent.WithFields(LogFields{"trip_id": "t-1"})

	parent.Info("plain", "no fields")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	_, ok := lines[0]["trip_id"]
	assert.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
