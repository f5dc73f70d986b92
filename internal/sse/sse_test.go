package sse

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatSSE(t *testing.T) {
	data, err := FormatSSE(Event{Type: "js", Data: map[string]string{"chunk": "a\n"}})

	require.NoError(t, err)
	require.Equal(t, "event: js\ndata: {\"chunk\":\"a\\n\"}\n\n", string(data))
}

func TestFormatSSE_MarshalError(t *testing.T) {
	_, err := FormatSSE(Event{Type: "bad", Data: make(chan int)})

	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to marshal event data")
}

func TestWriter_Send(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(Event{Type: "main", Data: map[string]string{"chunk": "hi"}}))
	require.NoError(t, w.Send(Event{Type: "done", Data: struct{}{}}))

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.True(t, rec.Flushed)
	require.Equal(t, "event: main\ndata: {\"chunk\":\"hi\"}\n\nevent: done\ndata: {}\n\n", rec.Body.String())
}

type noFlushWriter struct {
	http.ResponseWriter
}

func TestNewWriter_RequiresFlusher(t *testing.T) {
	_, err := NewWriter(noFlushWriter{httptest.NewRecorder()})

	require.Error(t, err)
}
