// Package api exposes the relay over HTTP: synchronous chat, manual sends,
// message history, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"relaybot/internal/chat"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/transport"
)

const (
	defaultMaxSendLength = 1000
	shutdownTimeout      = 10 * time.Second
)

type Config struct {
	Chat          *chat.Service
	Store         domain.ConversationStore
	Transport     domain.Transport
	Address       string // the relay's own address, reported by /health
	MaxSendLength int
	MetricsPath   string // empty disables /metrics
	Logger        *slog.Logger
}

type Server struct {
	chat          *chat.Service
	store         domain.ConversationStore
	transport     domain.Transport
	address       string
	maxSendLength int
	metricsPath   string
	logger        *slog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.MaxSendLength <= 0 {
		cfg.MaxSendLength = defaultMaxSendLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		chat:          cfg.Chat,
		store:         cfg.Store,
		transport:     cfg.Transport,
		address:       cfg.Address,
		maxSendLength: cfg.MaxSendLength,
		metricsPath:   cfg.MetricsPath,
		logger:        cfg.Logger,
	}
}

// Router wires the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Post("/transport/send", s.handleSend)
	r.Get("/messages", s.handleMessages)
	r.Get("/health", s.handleHealth)

	if s.metricsPath != "" {
		r.Get(s.metricsPath, metrics.Collector.Handler())
	}
	if in, ok := s.transport.(transport.InboundHandler); ok {
		r.Post(in.Path(), in.Handler())
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}
