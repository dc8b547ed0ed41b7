package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server exposes /metrics plus the health endpoints on one listener.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP server for addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", HealthHandler())
	mux.HandleFunc("/readyz", ReadyHandler())
	mux.HandleFunc("/livez", LivenessHandler())

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background. Errors other than a clean close are
// reported through errCh exactly once.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if errCh != nil {
				errCh <- err
			}
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
