package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "WARN", ServiceName: "docflow", Version: "1.2.3", Output: &buf})

	log.Info().Msg("dropped")
	log.Component("dispatcher").Warn().Str("job", "notify").Msg("queue full")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "docflow", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "queue full", entry["message"])
}

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "verbose", Output: &buf})
	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
