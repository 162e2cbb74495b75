package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is the status HTTP server
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	errc     chan error
}

// NewServer creates a server for handler; it does not listen yet
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		logger: logger,
		errc:   make(chan error, 1),
	}
}

// Start binds the address and serves in the background. Binding errors are
// returned synchronously so a bad --status-addr fails the command early.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorContext(ctx, "status_server_error", slog.String("error", err.Error()))
			s.errc <- err
		}
		close(s.errc)
	}()

	s.logger.InfoContext(ctx, "status_server_started", slog.String("address", s.Addr()))
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	if err, ok := <-s.errc; ok && err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "status_server_stopped")
	return nil
}
