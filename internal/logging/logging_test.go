package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", DefaultLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"bogus", DefaultLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestInit_JSONComponent(t *testing.T) {
	t.Cleanup(func() { Init(Config{}) })

	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	logger := Component("driver")
	logger.Debug().Int("index", 3).Msg("tick")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "driver", event["component"])
	assert.Equal(t, "tick", event["message"])
	assert.Equal(t, "debug", event["level"])
	assert.EqualValues(t, 3, event["index"])
}

func TestInit_LevelFilters(t *testing.T) {
	t.Cleanup(func() { Init(Config{}) })

	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})

	logger := Component("x")
	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger = Component("x")
	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWith_TagsLaterLoggers(t *testing.T) {
	t.Cleanup(func() { Init(Config{}) })

	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	With("session", "abc")

	logger := Component("cli")
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"session":"abc"`)
}

func TestInit_ConsoleNoColor(t *testing.T) {
	t.Cleanup(func() { Init(Config{}) })

	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf, NoColor: true})
	logger := Component("shell")
	logger.Info().Msg("launching")

	out := buf.String()
	assert.Contains(t, out, "launching")
	assert.Contains(t, out, "component=shell")
	assert.NotContains(t, out, "\x1b[")
}
