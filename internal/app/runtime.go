// Package app assembles the relay's collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"relaybot/internal/api"
	"relaybot/internal/chat"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/persona"
	"relaybot/internal/provider"
	"relaybot/internal/relay"
	"relaybot/internal/store"
	"relaybot/internal/transport"
)

// Runtime holds the long-lived collaborators shared by the worker, the API
// server and the CLI commands. It is built once per process.
type Runtime struct {
	Config    *config.Config
	Store     domain.ConversationStore
	Completer *provider.Completer
	Transport domain.Transport
	Persona   *persona.Persona
	Logger    *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p, err := persona.Load(cfg.Relay.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("persona: %w", err)
	}

	tr, err := transport.New(cfg.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	completer, err := provider.NewFactory(cfg, logger).Completer(ctx)
	if err != nil {
		return nil, fmt.Errorf("completion provider: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, store.Options{
		MaxOpenConns: cfg.Store.MaxOpenConns,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	logger.Info("runtime ready",
		"transport", tr.Name(),
		"provider", completer.Name(),
		"persona", p.Name,
		"db", cfg.Store.DBPath,
	)
	return &Runtime{
		Config:    cfg,
		Store:     st,
		Completer: completer,
		Transport: tr,
		Persona:   p,
		Logger:    logger,
	}, nil
}

func (r *Runtime) Worker() (*relay.Worker, error) {
	return relay.NewWorker(relay.Config{
		Transport: r.Transport,
		Completer: r.Completer,
		Store:     r.Store,
		Persona:   r.Persona,
		Interval:  time.Duration(r.Config.Relay.PollIntervalSeconds) * time.Second,
		AllowFrom: r.Config.Relay.AllowFrom,
		Logger:    r.Logger.With("component", "relay"),
	})
}

func (r *Runtime) ChatService() *chat.Service {
	return chat.NewService(chat.Config{
		Completer:        r.Completer,
		Store:            r.Store,
		Persona:          r.Persona,
		MaxMessageLength: r.Config.API.MaxMessageLength,
		Logger:           r.Logger.With("component", "chat"),
	})
}

func (r *Runtime) APIServer() *api.Server {
	metricsPath := ""
	if r.Config.Metrics.Enabled {
		metricsPath = r.Config.Metrics.Endpoint
	}
	return api.NewServer(api.Config{
		Chat:          r.ChatService(),
		Store:         r.Store,
		Transport:     r.Transport,
		Address:       transport.Address(r.Transport),
		MaxSendLength: r.Config.API.MaxSendLength,
		MetricsPath:   metricsPath,
		Logger:        r.Logger.With("component", "api"),
	})
}

// ListenAddr is the host:port the API server binds.
func (r *Runtime) ListenAddr() string {
	return net.JoinHostPort(r.Config.API.Host, strconv.Itoa(r.Config.API.Port))
}

// Close releases the transport, when it holds resources, and then the store.
func (r *Runtime) Close() error {
	var errs []error
	if c, ok := r.Transport.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	if err := r.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
