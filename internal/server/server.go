// Package server implements the local status API the host UI polls.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/AnvinX1/qkd-LAB/internal/journal"
	"github.com/AnvinX1/qkd-LAB/pkg/models"
)

// BackendSupervisor is the slice of the supervisor the API needs.
type BackendSupervisor interface {
	Ready() bool
	WaitReady(ctx context.Context) error
	Status() models.BackendStatus
}

// Server serves the status API over HTTP.
type Server struct {
	supervisor BackendSupervisor
	journal    journal.Journal
	addr       string
	version    string
	commit     string
	httpServer *http.Server
}

// Config holds server configuration.
type Config struct {
	Addr       string
	Supervisor BackendSupervisor
	Journal    journal.Journal
	Version    string
	Commit     string
}

// New creates a new status API server.
func New(cfg Config) *Server {
	s := &Server{
		supervisor: cfg.Supervisor,
		journal:    cfg.Journal,
		addr:       cfg.Addr,
		version:    cfg.Version,
		commit:     cfg.Commit,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.corsMiddleware(s.newGinEngine()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Status server starting on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
