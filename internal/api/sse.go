package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/weave/internal/streaming"
)

// handleSSEGlobal streams all run events via Server-Sent Events.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{})
}

// handleSSEExecution streams events for a single execution.
func (s *Server) handleSSEExecution(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")
	s.serveSSE(w, r, streaming.EventFilter{ExecutionID: executionID})
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	writeEvent := func(event streaming.StreamEvent) {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			// The client is gone, but events already buffered in the
			// subscription still belong to this stream. Drain them so a
			// disconnect racing the final events does not drop them.
			for {
				select {
				case event, ok := <-ch:
					if !ok {
						return
					}
					writeEvent(event)
				default:
					return
				}
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(event)
		}
	}
}
