package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Completer adapts a chat provider to the single prompt → text contract
// used by the relay worker and the chat service. It is safe for concurrent
// use as long as the underlying provider is.
type Completer struct {
	provider    domain.Provider
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

type CompleterConfig struct {
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

func NewCompleter(p domain.Provider, cfg CompleterConfig) *Completer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Completer{
		provider:    p,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

func (c *Completer) Name() string { return c.provider.Name() }

func (c *Completer) Healthy(ctx context.Context) error { return c.provider.Healthy(ctx) }

// Complete sends prompt as a single user turn and returns the text reply.
// Every failure, including an empty reply, is a completion error.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	metrics.CompletionRequests.Inc()
	start := time.Now()

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages:    []domain.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompletionFailures.Inc()
		return "", domain.NewError(domain.KindCompletion, c.provider.Name(), err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		metrics.CompletionFailures.Inc()
		return "", domain.NewError(domain.KindCompletion, c.provider.Name(), fmt.Errorf("empty completion"))
	}

	c.logger.Debug("completion done",
		"provider", c.provider.Name(),
		"latency_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
	)
	return text, nil
}
