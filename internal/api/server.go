package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Server is the localhost status listener.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the listener bound to addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: slog.Default().With("component", "api"),
	}
}

// Start serves in the background. Listen failures are logged, not
// fatal: the appliance keeps capturing without its status surface.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Status listener starting", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Status listener error", "error", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Status listener shutdown error", "error", err)
	}
}
