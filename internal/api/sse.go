package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openbridge/openbridge/internal/protocol"
)

// sseWriter renders bridge events in SSE framing, flushing after every event
// so deltas reach the client as they happen.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter commits the response to event-stream mode. After it returns,
// errors can no longer change the status line; they become stream events.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteEvent frames and flushes one event. An error means the client is gone.
func (s *sseWriter) WriteEvent(event protocol.StreamEvent) error {
	data, err := jsonFast.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
