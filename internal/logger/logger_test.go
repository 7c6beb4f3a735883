package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestWithSessionTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("debug", &buf)
	t.Cleanup(func() { InitWithWriter("info", &bytes.Buffer{}) })

	WithSession("session", "abc123").Info().Str("path", "/tmp/a.mp4").Msg("Recording started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session", entry["component"])
	assert.Equal(t, "abc123", entry["session_id"])
	assert.Equal(t, "/tmp/a.mp4", entry["path"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Recording started", entry["message"])
}

func TestLevelFiltersEntries(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("warn", &buf)
	t.Cleanup(func() { InitWithWriter("info", &bytes.Buffer{}) })

	WithComponent("api").Info().Msg("hidden")
	Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "shown")
}
