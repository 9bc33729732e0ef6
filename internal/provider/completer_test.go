package provider

import (
	"context"
	"errors"
	"testing"

	"relaybot/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestCompleter_SendsPromptAsSingleUserTurn(t *testing.T) {
	p := &mockProvider{name: "mock", chatResp: &domain.ChatResponse{Content: "  All clear.\n"}}
	c := NewCompleter(p, CompleterConfig{MaxTokens: 512, Logger: testLogger()})

	out, err := c.Complete(context.Background(), "status update?")
	require.NoError(t, err)
	require.Equal(t, "All clear.", out)

	require.Len(t, p.lastReq.Messages, 1)
	require.Equal(t, "user", p.lastReq.Messages[0].Role)
	require.Equal(t, "status update?", p.lastReq.Messages[0].Content)
	require.Equal(t, 512, p.lastReq.MaxTokens)
}

func TestCompleter_ProviderErrorIsCompletionFailure(t *testing.T) {
	p := &mockProvider{name: "mock", chatErr: errors.New("503")}
	c := NewCompleter(p, CompleterConfig{Logger: testLogger()})

	_, err := c.Complete(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrCompletion)
}

func TestCompleter_EmptyReplyIsCompletionFailure(t *testing.T) {
	p := &mockProvider{name: "mock", chatResp: &domain.ChatResponse{Content: "   "}}
	c := NewCompleter(p, CompleterConfig{Logger: testLogger()})

	_, err := c.Complete(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrCompletion)
}

func TestCompleter_DefaultMaxTokens(t *testing.T) {
	p := &mockProvider{name: "mock", chatResp: &domain.ChatResponse{Content: "ok"}}
	c := NewCompleter(p, CompleterConfig{Logger: testLogger()})

	_, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, defaultMaxTokens, p.lastReq.MaxTokens)
}
