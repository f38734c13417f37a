// Package web serves the read-only HTML front-end over the station store.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmoreau/hydrod/internal/store"
)

// Server is the front-end HTTP server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer creates a server with all routes registered.
func NewServer(s store.Store, flow FlowSource, logger *slog.Logger, gatherer prometheus.Gatherer) *Server {
	h := &Handlers{
		Store:     s,
		Flow:      flow,
		Logger:    logger,
		StartTime: time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("GET /region/{code}", h.RegionPage)
	mux.HandleFunc("GET /departement/{code}", h.DepartmentPage)
	mux.HandleFunc("GET /station/{code}", h.StationPage)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Apply middleware (outermost runs first).
	var handler http.Handler = mux
	handler = SecurityHeaders(handler)
	handler = Logger(handler)
	handler = RequestID(handler)
	handler = Recovery(handler)

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, handlers: h}
}

// ListenAndServe starts the HTTP server. Blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer.Addr = addr
	slog.Info("web server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("web server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetVersion sets the version string reported by the health endpoint.
func (s *Server) SetVersion(v string) { s.handlers.Version = v }
