package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/hostbridge/pkg/model"
)

// handleSSEOperation streams operation updates via Server-Sent Events.
// GET /api/v1/sse/operations/{id}
func (s *Server) handleSSEOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}

	op, err := s.store.GetOperation(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if op == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("operation", id))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	if err := sendSSEEvent(w, flusher, "init", op); err != nil {
		s.logger.Debug("sse client disconnected", "id", id, "error", err)
		return
	}
	if op.Status.IsTerminal() {
		sendSSEEvent(w, flusher, "complete", op)
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	lastStatus, lastAttempts := op.Status, op.Attempts

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			op, err = s.store.GetOperation(r.Context(), id)
			if err != nil {
				s.logger.Error("sse fetch error", "id", id, "error", err)
				continue
			}
			if op == nil {
				// Purged from the journal.
				return
			}

			if op.Status != lastStatus || op.Attempts != lastAttempts {
				if err := sendSSEEvent(w, flusher, "update", op); err != nil {
					s.logger.Debug("sse client disconnected", "id", id)
					return
				}
				lastStatus, lastAttempts = op.Status, op.Attempts
			} else {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
			}

			if op.Status.IsTerminal() {
				sendSSEEvent(w, flusher, "complete", op)
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
