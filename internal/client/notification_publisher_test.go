package client

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-docflow/internal/logger"
)

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(logger.New(logger.Config{Level: "info", ServiceName: "docflow", Output: &buf}))

	ctx := context.Background()
	require.NoError(t, pub.Notify(ctx, "adm1", "document_pending_approval", map[string]any{"documentId": "d1"}))
	require.NoError(t, pub.Publish(ctx, "admissions", "new-document", map[string]any{"documentId": "d1"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "adm1", first["recipient"])
	assert.Equal(t, "document_pending_approval", first["event_kind"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "admissions", second["room"])
	assert.Equal(t, map[string]any{"documentId": "d1"}, second["payload"])
}

func TestEventEnvelope(t *testing.T) {
	data, err := json.Marshal(Event{EventKind: "document-updated", Room: "s1"})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "document-updated", m["event_kind"])
	assert.Equal(t, "s1", m["room"])
	assert.NotContains(t, m, "recipient")
	assert.NotContains(t, m, "payload")
}
