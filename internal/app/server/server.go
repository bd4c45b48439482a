package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"parley/internal/app/registry"
	"parley/internal/app/server/handlers"
	"parley/internal/config"
	"parley/internal/core/domain"
	"parley/internal/core/services"
	"parley/pkg/middleware"
)

type Server struct {
	mux             *http.ServeMux
	httpServer      *http.Server
	cfg             config.ServiceConfig
	log             *slog.Logger
	wsHandler       *handlers.WSHandler
	presenceHandler *handlers.PresenceHandler
	verifier        domain.TokenVerifier
}

func NewServer(
	log *slog.Logger,
	cfg config.ServiceConfig,
	wsCfg config.WSConfig,
	verifier domain.TokenVerifier,
	conns *services.ConnectionService,
	hub *registry.Registry,
) *Server {
	s := &Server{
		mux:             http.NewServeMux(),
		cfg:             cfg,
		log:             log,
		wsHandler:       handlers.NewWSHandler(conns, wsCfg),
		presenceHandler: handlers.NewPresenceHandler(conns, hub),
		verifier:        verifier,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	auth := middleware.AuthMiddleware(s.verifier)

	s.mux.HandleFunc("GET /healthz", s.presenceHandler.Health)
	// The socket authenticates itself so it can report failures in-band.
	s.mux.HandleFunc("GET /ws/connect", s.wsHandler.Handler)
	s.mux.Handle("GET /presence/{userID}", auth(http.HandlerFunc(s.presenceHandler.Presence)))
}

// Handler returns the routed handler wrapped in tracing and request logging.
func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.cfg.Name, "/healthz")(middleware.RequestLogger(s.log)(s.mux))
}

// Start serves until ctx is done, then drains within the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Add,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server - start - listening", "addr", s.cfg.Add)
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("server - shutdown - draining")
	return s.httpServer.Shutdown(shutdownCtx)
}
