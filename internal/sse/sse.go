package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Event represents an SSE event to send to clients
type Event struct {
	Type string      // Event type (e.g., "main", "js", "done", "error")
	Data interface{} // Event data (will be JSON encoded)
}

// FormatSSE formats an event for Server-Sent Events protocol
func FormatSSE(event Event) ([]byte, error) {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	// event: <type>\ndata: <json>\n\n
	output := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, string(dataJSON))
	return []byte(output), nil
}

// Writer sends events on an HTTP response, flushing after every event so the
// client sees them immediately. Send may be called from several goroutines.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the event-stream headers on w. The headers are written with
// the first event.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported: response writer cannot flush")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it.
func (sw *Writer) Send(event Event) error {
	data, err := FormatSSE(event)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := sw.w.Write(data); err != nil {
		return fmt.Errorf("failed to write event %q: %w", event.Type, err)
	}
	sw.flusher.Flush()
	return nil
}
