package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "hostbridge admin API",
		Version:     "v1",
		Description: "Read-only view of the hostbridge scheduler and its operation journal",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/api/v1/status", []string{"GET"}, "Scheduler lifecycle snapshot and journal counts"},
			{"/api/v1/operations", []string{"GET"}, "Journaled operations, newest first. Accepts limit, offset, status, kind"},
			{"/api/v1/operations/{id}", []string{"GET"}, "Single operation detail"},
			{"/api/v1/sse/operations/{id}", []string{"GET"}, "Stream operation state changes until it is terminal"},
		},
	})
}
