package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/config"
	"relaybot/internal/relay"
	"relaybot/internal/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "relay.db")
	cfg.Transport.Kind = config.TransportWebhook
	cfg.Transport.Webhook.OutboundURL = "http://127.0.0.1:1/out"
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Assembles(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer rt.Close()

	require.Equal(t, "webhook", rt.Transport.Name())
	require.Equal(t, "claude", rt.Completer.Name())
	require.NoError(t, rt.Store.Ping(context.Background()))
	require.Equal(t, "0.0.0.0:3000", rt.ListenAddr())

	w, err := rt.Worker()
	require.NoError(t, err)
	require.Equal(t, relay.StateIdle, w.State())
	require.NotNil(t, rt.ChatService())
	require.NotNil(t, rt.APIServer().Router())
}

func TestClose_StopsWebhookIntake(t *testing.T) {
	rt, err := New(context.Background(), testConfig(t), testLogger())
	require.NoError(t, err)
	wh, ok := rt.Transport.(*transport.Webhook)
	require.True(t, ok)

	require.NoError(t, rt.Close())

	req := httptest.NewRequest(http.MethodPost, wh.Path(), strings.NewReader(`{"from":"alice","message":"late"}`))
	rec := httptest.NewRecorder()
	wh.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNew_FailsOnBadPersonaFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay_template: \"no placeholder\"\n"), 0o644))
	cfg.Relay.PersonaFile = path

	_, err := New(context.Background(), cfg, testLogger())
	require.Error(t, err)
}

func TestNew_FailsOnUnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport.Kind = "carrier-pigeon"

	_, err := New(context.Background(), cfg, testLogger())
	require.Error(t, err)
}

func TestWorker_StopsWhenContextEnds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.PollIntervalSeconds = 1
	rt, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer rt.Close()

	w, err := rt.Worker()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Run(ctx)
	require.Equal(t, relay.StateIdle, w.State())
}
