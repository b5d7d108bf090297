package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"facecam-server/internal/utils"
)

// ServerConfig stores the settings of a dedicated websocket listener.
type ServerConfig struct {
	Addr             string
	Path             string
	HandshakeTimeout time.Duration
}

// Server exposes a Router on its own port.
type Server struct {
	cfg     ServerConfig
	hub     *Hub
	router  *Router
	logger  *utils.Logger
	httpSrv *http.Server
}

func NewServer(cfg ServerConfig, router *Router, logger *utils.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	return &Server{
		cfg:    cfg,
		router: router,
		hub:    router.Hub(),
		logger: logger,
	}
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.httpSrv != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.router.Handle)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
	}

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.logger.InfoTag("WebSocket", "listening on %s%s", s.cfg.Addr, s.cfg.Path)

	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the listener and active sessions.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, ErrSessionShutdown)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	s.hub.CloseAll(ErrSessionShutdown)
	return nil
}

func (s *Server) Count() int {
	return s.hub.Count()
}
