package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	GoVersion string   `json:"go_version"`
	Uptime    string   `json:"uptime"`
	Scheduler string   `json:"scheduler"`
	Store     string   `json:"store"`
	Executors []string `json:"executors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	health := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: "not_configured",
		Store:     "none",
		Executors: s.kinds,
	}
	if s.store != nil {
		health.Store = "sqlite"
	}
	if s.scheduler != nil {
		st := s.scheduler.Status()
		switch {
		case st.Degraded:
			health.Scheduler = "degraded"
			health.Status = "degraded"
		case st.Running:
			health.Scheduler = "running"
		default:
			health.Scheduler = "stopped"
		}
	}
	respondOK(w, reqID, health)
}
