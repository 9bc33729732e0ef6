package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	stdout []byte
	stderr []byte
	err    error
	calls  []call
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return f.stdout, f.stderr, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSignal(t *testing.T, r *fakeRunner) *SignalCLI {
	t.Helper()
	s, err := NewSignalCLI(SignalCLIConfig{Account: "+2", Runner: r, Logger: testLogger()})
	require.NoError(t, err)
	return s
}

func TestSignalCLI_RequiresAccount(t *testing.T) {
	_, err := NewSignalCLI(SignalCLIConfig{})
	require.Error(t, err)
}

func TestSignalCLI_SendArgs(t *testing.T) {
	r := &fakeRunner{}
	s := newTestSignal(t, r)

	require.NoError(t, s.Send(context.Background(), "+1", "All clear."))
	require.Len(t, r.calls, 1)
	require.Equal(t, "signal-cli", r.calls[0].name)
	require.Equal(t, []string{"-a", "+2", "send", "+1", "-m", "All clear."}, r.calls[0].args)
}

func TestSignalCLI_SendFailureCarriesStderr(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("Unregistered user\n")}
	s := newTestSignal(t, r)

	err := s.Send(context.Background(), "+1", "hello")
	require.ErrorIs(t, err, domain.ErrTransportUnavailable)
	require.Contains(t, err.Error(), "Unregistered user")
}

func TestSignalCLI_PollParsesOutput(t *testing.T) {
	r := &fakeRunner{stdout: []byte("not json\n" + `{"envelope":{"source":"+1","dataMessage":{"message":"status update?"}}}`)}
	s := newTestSignal(t, r)

	events, err := s.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.InboundEvent{{Sender: "+1", Recipient: "+2", Content: "status update?"}}, events)
	require.Equal(t, []string{"-a", "+2", "receive", "--json", "--timeout", "5"}, r.calls[0].args)
}

func TestSignalCLI_PollFailureIsNotEmptyBatch(t *testing.T) {
	r := &fakeRunner{err: errors.New("exec: not found")}
	s := newTestSignal(t, r)

	events, err := s.Poll(context.Background())
	require.Nil(t, events)
	require.Equal(t, domain.KindTransportUnavailable, domain.KindOf(err))
}

func TestSignalCLI_Healthy(t *testing.T) {
	r := &fakeRunner{}
	s := newTestSignal(t, r)
	require.NoError(t, s.Healthy(context.Background()))
	require.Equal(t, []string{"--version"}, r.calls[0].args)

	r.err = errors.New("missing")
	require.Error(t, s.Healthy(context.Background()))
}

func TestSignalCLI_ValidateAddress(t *testing.T) {
	s := newTestSignal(t, &fakeRunner{})
	require.NoError(t, s.ValidateAddress("+15551234567"))
	require.ErrorIs(t, s.ValidateAddress("15551234567"), domain.ErrValidation)
	require.ErrorIs(t, s.ValidateAddress("+"), domain.ErrValidation)
}
