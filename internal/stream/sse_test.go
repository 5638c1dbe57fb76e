package stream

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_EmitsSSEFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Emit(Event{Type: EventMessageStop}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"type":"message_stop"`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data: "))
}

func TestRawChunkWriter_WriteDone(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewRawChunkWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteChunk(map[string]string{"hello": "world"}))
	require.NoError(t, w.WriteDone())

	assert.Contains(t, rec.Body.String(), `"hello":"world"`)
	assert.Contains(t, rec.Body.String(), "data: [DONE]")
}
