package server

import (
	"encoding/json"
	"net/http"
	"os"
)

// registerRoutes sets up routes that are not part of the API surface.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ready", s.handleReady)
}

// ReadyResponse is the response for the readiness check.
type ReadyResponse struct {
	Status   string `json:"status"`
	SavePath string `json:"save_path"`
	Library  string `json:"library"`
}

// handleReady returns OK only if the save root exists and is a directory.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ok", SavePath: s.configMgr.Get().SavePath, Library: "ok"}

	info, err := os.Stat(resp.SavePath)
	switch {
	case err != nil:
		resp.Status = "degraded"
		resp.Library = "missing"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	case !info.IsDir():
		resp.Status = "degraded"
		resp.Library = "not_a_directory"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
