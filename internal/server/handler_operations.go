package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/hostbridge/pkg/model"
)

type statusResponse struct {
	Scheduler *model.Status          `json:"scheduler"`
	Journal   *model.OperationCounts `json:"journal,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var resp statusResponse
	if s.scheduler != nil {
		st := s.scheduler.Status()
		resp.Scheduler = &st
	}
	if s.store != nil {
		counts, err := s.store.CountOperations(r.Context())
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
		resp.Journal = &counts
	}
	respondOK(w, reqID, resp)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}

	q := r.URL.Query()
	opts := model.DefaultListOptions()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("limit must be an integer"))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("offset must be an integer"))
			return
		}
		opts.Offset = n
	}
	if v := q.Get("status"); v != "" {
		if _, ok := model.ParseOperationStatus(v); !ok {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("status must be one of pending, running, completed, failed"))
			return
		}
		opts.Status = v
	}
	opts.Kind = q.Get("kind")
	opts.Clamp()

	ops, total, err := s.store.ListOperations(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if ops == nil {
		ops = []*model.Operation{}
	}

	respondList(w, reqID, ops, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	op, err := s.store.GetOperation(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if op == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("operation", id))
		return
	}
	respondOK(w, reqID, op)
}

func (s *Server) requireStore(w http.ResponseWriter, reqID string) bool {
	if s.store != nil {
		return true
	}
	respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
		Code:    model.ErrUnavailable,
		Message: "operation journal is not configured",
	})
	return false
}
