package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Server renders a Monitor's state as liveness/readiness HTTP endpoints.
// Grounded on a thin-delegation HTTPHealthServer: a plain http.Handler, no
// business logic, so it composes into any mux the same way.
type Server struct {
	monitor *Monitor
	mux     *http.ServeMux
}

// NewServer builds a handler exposing /healthz and /readyz for monitor.
func NewServer(monitor *Monitor) *Server {
	s := &Server{monitor: monitor, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.handleLiveness)
	s.mux.HandleFunc("/readyz", s.handleReadiness)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alive":  true,
		"uptime": s.monitor.Uptime().String(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready, reason := s.monitor.Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{
		"ready":      ready,
		"components": s.monitor.Components(),
		"timestamp":  time.Now(),
	}
	if reason != "" {
		body["reason"] = reason
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
