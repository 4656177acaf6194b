// Package http exposes the commitment engine as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"

	"impegni/internal/middleware/trace"
	"impegni/internal/services"
)

type Server struct {
	http.Server
	service *services.CommitmentService

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, service *services.CommitmentService) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr: addr,
		},
		service: service,
	}
	s.Server.Handler = trace.Middleware(mux)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("/api/commitments", s.handleOverview)
	mux.HandleFunc("/api/commitments/trend", s.handleTrend)
	mux.HandleFunc("/api/commitments/status", s.handleSetStatus)
	mux.HandleFunc("/api/commitments/override", s.handleSetOverride)
	mux.HandleFunc("/api/commitments/merge", s.handleMerge)
	mux.HandleFunc("/api/commitments/split", s.handleSplit)
	mux.HandleFunc("/api/transactions/exclude", s.handleExcludeTransaction)
	mux.HandleFunc("/api/transactions/restore", s.handleRestoreTransaction)

	return s
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
