package sse

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Writer frames events on an open text/event-stream response
type Writer struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// Open sends the stream headers and lifts the server write deadline.
// Nothing has been written when it returns an error.
func Open(w http.ResponseWriter) (*Writer, error) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return nil, fmt.Errorf("clear write deadline: %w", err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("stream not supported: %w", err)
	}
	return &Writer{w: w, rc: rc}, nil
}

// WriteEvent writes one named event with a JSON payload and flushes it
func (s *Writer) WriteEvent(event string, id uint64, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %d\ndata: %s\n\n", event, id, payload); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	return s.rc.Flush()
}

// WriteKeepAlive writes an SSE comment line and flushes it
func (s *Writer) WriteKeepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	return s.rc.Flush()
}
