package httpserver

import (
	"net/http"
)

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Tabs        int    `json:"tabs"`
	ActiveDemos int    `json:"activeDemos"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
	}
	if s.tabs != nil {
		resp.Tabs = s.tabs.Count()
		resp.ActiveDemos = s.tabs.ActiveCount()
	}

	writeJSON(w, http.StatusOK, resp)
}
