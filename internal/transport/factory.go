package transport

import (
	"fmt"
	"log/slog"
	"net/http"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// InboundHandler is implemented by transports that receive messages over
// HTTP and need a route on the API server.
type InboundHandler interface {
	Path() string
	Handler() http.HandlerFunc
}

// New builds the transport selected by cfg.Kind.
func New(cfg config.TransportConfig, logger *slog.Logger) (domain.Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Kind {
	case config.TransportSignalCLI, "":
		return NewSignalCLI(SignalCLIConfig{
			Account:        cfg.Signal.Account,
			Binary:         cfg.Signal.Binary,
			ReceiveTimeout: cfg.Signal.ReceiveTimeoutSeconds,
			Logger:         logger.With("transport", "signal-cli"),
		})
	case config.TransportTelegram:
		return NewTelegram(TelegramConfig{
			Token:  cfg.Telegram.Token,
			Logger: logger.With("transport", "telegram"),
		})
	case config.TransportWebhook:
		return NewWebhook(WebhookConfig{
			Path:        cfg.Webhook.Path,
			Secret:      cfg.Webhook.Secret,
			OutboundURL: cfg.Webhook.OutboundURL,
			BufferSize:  cfg.Webhook.BufferSize,
			Logger:      logger.With("transport", "webhook"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// Address reports the identity the transport speaks as, when it has one.
func Address(t domain.Transport) string {
	if s, ok := t.(*SignalCLI); ok {
		return s.Account()
	}
	return ""
}
