// Package opshttp exposes operational endpoints: health, per-gateway
// detail, speed comparisons and Prometheus metrics.
package opshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/gatehealth"
	"github.com/velora-io/dispatch/internal/dispatch/speed"
)

// Server provides HTTP endpoints for operational monitoring.
type Server struct {
	health *gatehealth.Manager
	speed  *speed.Manager
	server *http.Server
}

// NewServer creates a new ops server.
func NewServer(health *gatehealth.Manager, spd *speed.Manager, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		health: health,
		speed:  spd,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/gateways", s.handleGateways)
	mux.HandleFunc("/speed", s.handleSpeed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Report()
	status := domain.StatusOnline

	// Aggregate status (worst case wins)
	for _, g := range report {
		if g.Status == domain.StatusOffline {
			status = domain.StatusOffline
			break
		}
		if g.Status == domain.StatusDegraded {
			status = domain.StatusDegraded
		}
	}

	response := map[string]string{"status": string(status)}
	w.Header().Set("Content-Type", "application/json")

	if status == domain.StatusOffline {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleGateways(w http.ResponseWriter, r *http.Request) {
	report := s.health.Report()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	gateway := r.URL.Query().Get("gateway")
	if gateway == "" {
		http.Error(w, "missing gateway parameter", http.StatusBadRequest)
		return
	}

	estimates := s.speed.Comparison(r.Context(), domain.GatewayID(gateway))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(estimates)
}
