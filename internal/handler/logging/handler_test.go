package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsync/internal/trigger"
)

func TestHandleLogsRequest(t *testing.T) {
	var buf bytes.Buffer
	h := New("agent-publish", slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, h.Handle(context.Background(), trigger.Request{
		ID: "req-1", Action: trigger.ActionAdd, Paths: []string{"/content/a"},
	}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "replication request", line["msg"])
	assert.Equal(t, "agent-publish", line["handler"])
	assert.Equal(t, "ADD", line["action"])
	assert.Equal(t, []any{"/content/a"}, line["paths"])
}
