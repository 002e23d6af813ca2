package inference

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/pkg/errors"
)

// SSESink writes every event as one Server-Sent Events frame:
//
//	event: <type>
//	data: <json>
//
// and flushes after each frame so deltas reach the client without batching.
type SSESink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

func NewSSESink(w io.Writer) *SSESink {
	s := &SSESink{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// PrepareSSEHeaders sets the response headers of an event stream.
func PrepareSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (s *SSESink) PublishEvent(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "could not marshal event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type(), payload); err != nil {
		return errors.Wrap(err, "could not write event")
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

var _ events.EventSink = (*SSESink)(nil)
