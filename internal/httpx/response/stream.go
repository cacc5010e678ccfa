package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Stream writes server-sent events
type Stream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewStream sends the event stream headers and lifts the server write
// deadline for the rest of the response. It fails when w cannot flush.
func NewStream(w http.ResponseWriter) (*Stream, error) {
	rc := http.NewResponseController(w)
	// not every writer supports deadlines; the stream still works without
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("streaming is not supported: %w", err)
	}

	return &Stream{w: w, rc: rc}, nil
}

// Event writes one named event with a JSON payload and flushes it
func (s *Stream) Event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Comment writes a keep-alive comment line
func (s *Stream) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}
