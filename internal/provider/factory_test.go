package provider

import (
	"context"
	"log/slog"
	"testing"

	"relaybot/internal/config"
	"relaybot/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestFactory_GetCachesInstances(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	p1, err := f.Get(context.Background(), "")
	require.NoError(t, err)
	p2, err := f.Get(context.Background(), "claude")
	require.NoError(t, err)
	require.Same(t, p1, p2)
	require.Equal(t, "claude", p1.Name())
}

func TestFactory_DisabledAndUnknown(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	_, err := f.Get(context.Background(), "ollama")
	require.ErrorContains(t, err, "disabled")

	_, err = f.Get(context.Background(), "nope")
	require.ErrorContains(t, err, "unknown provider")
}

func TestFactory_UnknownNameWithAPIBaseIsOpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://example.invalid/v1", APIKey: "k"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get(context.Background(), "groq")
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())
}

func TestFactory_RateLimitWrapper(t *testing.T) {
	cfg := config.Defaults()
	pc := cfg.Providers["claude"]
	pc.RateLimitPerMin = 30
	cfg.Providers["claude"] = pc
	f := NewFactory(cfg, testLogger())

	p, err := f.Get(context.Background(), "claude")
	require.NoError(t, err)
	_, ok := p.(*RateLimited)
	require.True(t, ok, "expected rate-limited wrapper, got %T", p)
}

func TestFactory_CompleterWithFailoverChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["primary"] = config.ProviderConfig{Enabled: true}
	cfg.Providers["backup"] = config.ProviderConfig{Enabled: true}
	cfg.General.FailoverChain = []string{"primary", "missing-ctor", "backup"}
	cfg.Providers["missing-ctor"] = config.ProviderConfig{Enabled: true}

	primary := &mockProvider{name: "primary", chatErr: context.DeadlineExceeded}
	backup := &mockProvider{name: "backup", chatResp: &domain.ChatResponse{Content: "from backup"}}

	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("primary", func(context.Context, config.ProviderConfig, *slog.Logger) (domain.Provider, error) {
		return primary, nil
	})
	f.RegisterConstructor("backup", func(context.Context, config.ProviderConfig, *slog.Logger) (domain.Provider, error) {
		return backup, nil
	})

	c, err := f.Completer(context.Background())
	require.NoError(t, err)
	require.Equal(t, "failover(primary→backup)", c.Name())

	out, err := c.Complete(context.Background(), "ping")
	require.NoError(t, err)
	require.Equal(t, "from backup", out)
}
