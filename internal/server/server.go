// Package server wires the read-only admin HTTP surface for the bridge:
// health probes and session status projections. All session mutation goes
// through the lifecycle manager's API, not HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/txn2/msgbridge/pkg/health"
	"github.com/txn2/msgbridge/pkg/manager"
)

// Version is set at build time.
var Version = "dev"

// Server serves the admin endpoints.
type Server struct {
	manager *manager.Manager
	checker *health.Checker
}

// New creates the admin server.
func New(m *manager.Manager, c *health.Checker) *Server {
	return &Server{manager: m, checker: c}
}

// Handler returns the admin route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	return mux
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ListAll())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	view := s.manager.GetStatus(id)
	if view == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing admin response failed", "error", err)
	}
}
