// Package api exposes the HTTP API (C8): a small JSON surface over the
// controller Supervisor, plus liveness and Prometheus scrape endpoints,
// grounded on the teacher's pkg/api/health.go (stdlib net/http.ServeMux,
// JSON encode, no framework).
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nsscheduler/pkg/controller"
	"github.com/cuemby/nsscheduler/pkg/metrics"
)

// Server serves the environment query/command API alongside /healthz and
// /metrics.
type Server struct {
	supervisor *controller.Supervisor
	mux        *http.ServeMux
	logger     zerolog.Logger
}

// NewServer registers every route and returns a Server ready to Start.
func NewServer(supervisor *controller.Supervisor, logger zerolog.Logger) *Server {
	s := &Server{
		supervisor: supervisor,
		mux:        http.NewServeMux(),
		logger:     logger,
	}

	s.mux.HandleFunc("GET /healthz", withRequestLogging("/healthz", s.healthzHandler))
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /state_all", withRequestLogging("/state_all", s.stateAllHandler))
	s.mux.HandleFunc("GET /state/{env}", withRequestLogging("/state/{env}", s.stateHandler))
	s.mux.HandleFunc("POST /up/{env}", withRequestLogging("/up/{env}", s.upHandler))
	s.mux.HandleFunc("POST /down/{env}", withRequestLogging("/down/{env}", s.downHandler))

	return s
}

// Handler returns the HTTP handler for embedding in another server or a
// test harness.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves the API on addr until the process exits or ListenAndServe
// otherwise returns.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// healthzHandler is a liveness probe: it reports healthy as soon as the
// process is up, independent of controller/driver state.
func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "healthy", Timestamp: time.Now()})
}
