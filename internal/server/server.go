// Package server exposes the sync agent's health, status and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/flatshare/internal/client"
	"github.com/vietddude/flatshare/internal/core/domain"
)

// SystemStatus represents the overall health state of the agent.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Agent is the request client as seen by the server.
type Agent interface {
	OfflineStatus() client.OfflineStatus
	RetryOfflineRequests(ctx context.Context) (int, error)
}

// StateSource reports connectivity.
type StateSource interface {
	State() domain.ConnectivityState
}

// ErrorSource returns recent classified errors.
type ErrorSource interface {
	Recent(n int) []*domain.AppError
}

// StatusReport is the body of /status.
type StatusReport struct {
	Status       SystemStatus             `json:"status"`
	Connectivity domain.ConnectivityState `json:"connectivity"`
	Offline      client.OfflineStatus     `json:"offline"`
	RecentErrors []ErrorSummary           `json:"recent_errors,omitempty"`
}

// ErrorSummary is the public view of an AppError.
type ErrorSummary struct {
	Kind      domain.ErrorKind `json:"kind"`
	Severity  domain.Severity  `json:"severity"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
}

const recentErrorLimit = 10

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	agent  Agent
	state  StateSource
	errors ErrorSource
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a new status server. errs may be nil.
func NewServer(agent Agent, state StateSource, errs ErrorSource, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		agent:  agent,
		state:  state,
		errors: errs,
		log:    slog.Default().With("component", "server"),
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /replay", s.handleReplay)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) report() StatusReport {
	offline := s.agent.OfflineStatus()
	rep := StatusReport{
		Status:       StatusHealthy,
		Connectivity: s.state.State(),
		Offline:      offline,
	}

	switch {
	case offline.QueueDisabled:
		rep.Status = StatusCritical
	case !offline.Online:
		rep.Status = StatusDegraded
	}

	if s.errors != nil {
		for _, e := range s.errors.Recent(recentErrorLimit) {
			rep.RecentErrors = append(rep.RecentErrors, ErrorSummary{
				Kind:      e.Kind,
				Severity:  e.Severity,
				Message:   e.Message,
				Timestamp: e.Timestamp.Format(time.RFC3339),
			})
		}
	}
	return rep
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.report().Status

	response := map[string]string{"status": string(status)}
	w.Header().Set("Content-Type", "application/json")

	if status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.report())
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	n, err := s.agent.RetryOfflineRequests(r.Context())
	if err != nil {
		s.log.Error("Manual replay failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	json.NewEncoder(w).Encode(map[string]int{
		"replayed":  n,
		"remaining": s.agent.OfflineStatus().PendingRequests,
	})
}
