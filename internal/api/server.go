package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

// Server is the HTTP front of the optimizer.
type Server struct {
	srv *http.Server
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{srv: &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then drains connections for up to
// 30 seconds.
func (s *Server) Run(ctx context.Context) error {
	log := logger.Component("server")
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
