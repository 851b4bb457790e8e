package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Server represents an HTTP server
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// New creates a new server instance listening on port. WriteTimeout stays
// zero so long-lived WebSocket streams are not cut.
func New(handler http.Handler, port int) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Addr returns the bound address once Listen succeeded, else the
// configured one
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.srv.Addr
}

// Listen binds the port without serving yet, so callers can start work that
// depends on the server being reachable.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Run serves until ctx is done, then shuts down gracefully within
// shutdownTimeout. It binds first when Listen was not called.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
