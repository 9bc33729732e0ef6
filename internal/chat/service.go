// Package chat answers synchronous chat requests with the persona's chat
// prompt and records each exchange.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/persona"
)

const DefaultMaxMessageLength = 4000

// Reply is the outcome of one chat turn.
type Reply struct {
	Text       string `json:"reply"`
	ExchangeID string `json:"exchange_id"`
	Fallback   bool   `json:"fallback"`
}

type Config struct {
	Completer        domain.Completer
	Store            domain.ExchangeStore
	Persona          *persona.Persona
	MaxMessageLength int
	Logger           *slog.Logger
}

type Service struct {
	completer domain.Completer
	store     domain.ExchangeStore
	persona   *persona.Persona
	maxLen    int
	logger    *slog.Logger
}

func NewService(cfg Config) *Service {
	if cfg.Persona == nil {
		cfg.Persona = persona.Default()
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		completer: cfg.Completer,
		store:     cfg.Store,
		persona:   cfg.Persona,
		maxLen:    cfg.MaxMessageLength,
		logger:    cfg.Logger,
	}
}

// Chat validates text, completes it and stores the exchange. A failed
// completion is answered with the persona's fallback text, which is stored
// like any other reply. The completion runs before the store transaction
// opens.
func (s *Service) Chat(ctx context.Context, text string) (Reply, error) {
	metrics.ChatRequests.Inc()

	if strings.TrimSpace(text) == "" {
		return Reply{}, domain.NewError(domain.KindValidation, "message is required", nil)
	}
	if n := utf8.RuneCountInString(text); n > s.maxLen {
		return Reply{}, domain.NewError(domain.KindValidation,
			fmt.Sprintf("message is %d characters, limit is %d", n, s.maxLen), nil)
	}

	reply := Reply{}
	out, err := s.completer.Complete(ctx, s.persona.ChatPrompt(text))
	if err != nil {
		s.logger.Warn("completion failed, using fallback", "err", err)
		metrics.ChatFallbacks.Inc()
		out = s.persona.Fallback
		reply.Fallback = true
	}
	reply.Text = out

	ex, err := s.store.AppendExchange(ctx, domain.ExchangeInput{
		UserContent:      text,
		AssistantContent: out,
		Source:           domain.SourceChat,
	})
	if err != nil {
		return Reply{}, err
	}
	reply.ExchangeID = ex.ID
	return reply, nil
}
