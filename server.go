package scimcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server wraps an Engine's router in an http.Server with sensible
// timeouts and graceful shutdown.
type Server struct {
	engine *Engine
	server *http.Server
}

// NewServer binds the engine's router to addr ("host:port").
func NewServer(engine *Engine, addr string) *Server {
	return &Server{
		engine: engine,
		server: &http.Server{
			Addr:              addr,
			Handler:           engine.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// ListenAndServe serves until the context is canceled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.engine.log.Info().Str("addr", s.server.Addr).Msg("listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.engine.log.Info().Msg("server stopped")
	return nil
}
