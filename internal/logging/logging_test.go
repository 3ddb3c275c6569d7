package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/dyluth/chalk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, &buf), "tasks")

	l.Info().Str("task_id", "t1").Msg("claimed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "tasks", entry["component"])
	assert.Equal(t, "t1", entry["task_id"])
	assert.Equal(t, "claimed", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	l.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestConsoleFormatAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.LogConfig{Level: "chatty"}, &buf)

	l.Debug().Msg("hidden")
	l.Info().Msg("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
