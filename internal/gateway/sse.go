package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/praxisworks/praxis/internal/chat"
)

// sseStream writes named events to one client in Server-Sent Events framing.
// Writes are serialized; the orchestrator emits from multiple goroutines.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

// newSSEStream prepares the response for event streaming. Returns an error
// when the connection cannot flush, which SSE requires.
func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, nil
}

// Send implements chat.Sink. A dead connection makes further sends no-ops;
// the run itself continues so the transcript is still persisted.
func (s *sseStream) Send(event chat.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		data = []byte(`{}`)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		s.failed = true
		return
	}
	s.flusher.Flush()
}
