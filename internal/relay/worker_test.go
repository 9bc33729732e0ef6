package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
	"relaybot/internal/persona"
)

type sent struct {
	address string
	text    string
}

type fakeTransport struct {
	mu       sync.Mutex
	batches  [][]domain.InboundEvent
	pollErr  error
	polls    int
	sendErr  error
	sent     []sent
	sendHook func()
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Poll(ctx context.Context) ([]domain.InboundEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeTransport) Send(ctx context.Context, address, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendHook != nil {
		f.sendHook()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sent{address, text})
	return nil
}

func (f *fakeTransport) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	fail    map[string]bool // prompts containing these contents fail
	panicOn string
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.panicOn != "" && prompt == f.panicOn {
		panic("boom")
	}
	for content := range f.fail {
		if prompt == content {
			return "", domain.NewError(domain.KindCompletion, "fake", errors.New("upstream 500"))
		}
	}
	return f.reply, nil
}

type fakeStore struct {
	mu      sync.Mutex
	err     error
	inputs  []domain.ExchangeInput
	onWrite func()
}

func (f *fakeStore) AppendExchange(ctx context.Context, in domain.ExchangeInput) (*domain.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &domain.Exchange{ID: "ex-1"}, nil
}

// fakeClock never advances on its own; After records the requested wait
// and signals waits.
type fakeClock struct {
	now   time.Time
	mu    sync.Mutex
	durs  []time.Duration
	waits chan time.Duration
	fire  chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		waits: make(chan time.Duration, 16),
		fire:  make(chan time.Time),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.durs = append(c.durs, d)
	c.mu.Unlock()
	c.waits <- d
	return c.fire
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	transport *fakeTransport
	completer *fakeCompleter
	store     *fakeStore
	clock     *fakeClock
	persona   *persona.Persona
	worker    *Worker
}

func newHarness(t *testing.T, allowFrom ...string) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		completer: &fakeCompleter{reply: "All clear."},
		store:     &fakeStore{},
		clock:     newFakeClock(),
		persona:   persona.Default(),
	}
	w, err := NewWorker(Config{
		Transport: h.transport,
		Completer: h.completer,
		Store:     h.store,
		Persona:   h.persona,
		Interval:  10 * time.Second,
		AllowFrom: allowFrom,
		Clock:     h.clock,
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	h.worker = w
	return h
}

func TestNewWorker_RequiresCollaborators(t *testing.T) {
	_, err := NewWorker(Config{})
	require.Error(t, err)
	_, err = NewWorker(Config{Transport: &fakeTransport{}})
	require.Error(t, err)
	_, err = NewWorker(Config{Transport: &fakeTransport{}, Completer: &fakeCompleter{}})
	require.Error(t, err)

	w, err := NewWorker(Config{Transport: &fakeTransport{}, Completer: &fakeCompleter{}, Store: &fakeStore{}})
	require.NoError(t, err)
	require.Equal(t, DefaultInterval, w.interval)
	require.Equal(t, StateIdle, w.State())
}

func TestRunOnce_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.transport.batches = [][]domain.InboundEvent{{{Sender: "+1", Recipient: "+2", Content: "status update?"}}}

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Received: 1, Processed: 1}, res)

	require.Equal(t, []string{h.persona.RelayPrompt("status update?")}, h.completer.prompts)
	require.Equal(t, []domain.ExchangeInput{{
		UserContent:      "status update?",
		AssistantContent: "All clear.",
		Source:           domain.SourceRelay,
		Address:          "+1",
	}}, h.store.inputs)
	require.Equal(t, []sent{{"+1", "All clear."}}, h.transport.sent)
	require.Equal(t, StateIdle, h.worker.State())
}

func TestRunOnce_PersistFailureSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.store.err = domain.NewError(domain.KindPersistence, "append exchange", errors.New("disk full"))
	h.transport.batches = [][]domain.InboundEvent{{{Sender: "+1", Content: "hello"}}}

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.PersistFailed)
	require.Zero(t, res.Processed)
	require.Empty(t, h.transport.sent)
}

func TestRunOnce_CompletionFailureContinuesBatch(t *testing.T) {
	h := newHarness(t)
	h.completer.fail = map[string]bool{h.persona.RelayPrompt("first"): true}
	h.transport.batches = [][]domain.InboundEvent{{
		{Sender: "+1", Content: "first"},
		{Sender: "+3", Content: "second"},
	}}

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Received: 2, Processed: 1, CompletionFailed: 1}, res)

	require.Len(t, h.store.inputs, 1)
	require.Equal(t, "second", h.store.inputs[0].UserContent)
	require.Equal(t, []sent{{"+3", "All clear."}}, h.transport.sent)
}

func TestRunOnce_SendFailureKeepsExchange(t *testing.T) {
	h := newHarness(t)
	h.transport.sendErr = domain.NewError(domain.KindTransportUnavailable, "send", errors.New("exit 1"))
	h.transport.batches = [][]domain.InboundEvent{{{Sender: "+1", Content: "hello"}}}

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Received: 1, SendFailed: 1}, res)
	require.Len(t, h.store.inputs, 1)
}

func TestRunOnce_PersistBeforeSend(t *testing.T) {
	h := newHarness(t)
	var order []string
	h.store.onWrite = func() { order = append(order, "persist") }
	h.transport.sendHook = func() { order = append(order, "send") }
	h.transport.batches = [][]domain.InboundEvent{{{Sender: "+1", Content: "hello"}}}

	_, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"persist", "send"}, order)
}

func TestRunOnce_EmptyPollDoesNothing(t *testing.T) {
	h := newHarness(t)

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{}, res)
	require.Empty(t, h.completer.prompts)
	require.Empty(t, h.store.inputs)
	require.Empty(t, h.transport.sent)
}

func TestRunOnce_PollFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.transport.pollErr = domain.NewError(domain.KindTransportUnavailable, "receive", errors.New("exec: not found"))

	_, err := h.worker.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrTransportUnavailable)
	require.Equal(t, StateIdle, h.worker.State())
}

func TestRunOnce_AllowFrom(t *testing.T) {
	h := newHarness(t, "+1")
	h.transport.batches = [][]domain.InboundEvent{{
		{Sender: "+9", Content: "spam"},
		{Sender: "+1", Content: "hello"},
	}}

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Received: 2, Processed: 1, Skipped: 1}, res)
	require.Len(t, h.completer.prompts, 1)
	require.Equal(t, []sent{{"+1", "All clear."}}, h.transport.sent)
}

func TestProcessEvent_RecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.completer.panicOn = h.persona.RelayPrompt("explode")
	h.transport.batches = [][]domain.InboundEvent{{
		{Sender: "+1", Content: "explode"},
		{Sender: "+1", Content: "fine"},
	}}

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, BatchResult{Received: 2, Processed: 1, Panicked: 1}, res)
}

func TestRunOnce_CancelledContextAbandonsBatch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.transport.batches = [][]domain.InboundEvent{{{Sender: "+1", Content: "a"}, {Sender: "+1", Content: "b"}}}

	res, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Abandoned)
	require.Empty(t, h.completer.prompts)
}

func runWorker(t *testing.T, h *harness) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(ctx)
	}()
	return func() {
		cancelCtx()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop after cancel")
		}
	}
}

func nextWait(t *testing.T, c *fakeClock) time.Duration {
	t.Helper()
	select {
	case d := <-c.waits:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("worker never went idle")
		return 0
	}
}

func TestRun_EmptyPollWaitsFullInterval(t *testing.T) {
	h := newHarness(t)
	stop := runWorker(t, h)

	require.Equal(t, 10*time.Second, nextWait(t, h.clock))
	require.Equal(t, 1, h.transport.pollCount())
	require.Equal(t, StateIdle, h.worker.State())

	stop()
	require.Equal(t, 1, h.transport.pollCount())
	require.Empty(t, h.store.inputs)
	require.Empty(t, h.transport.sent)
}

func TestRun_WaitsRemainderOfInterval(t *testing.T) {
	h := newHarness(t)
	h.transport.sendHook = func() { h.clock.advance(3 * time.Second) }
	h.transport.batches = [][]domain.InboundEvent{{{Sender: "+1", Content: "hello"}}}
	stop := runWorker(t, h)
	defer stop()

	require.Equal(t, 7*time.Second, nextWait(t, h.clock))
}

func TestRun_PollFailureKeepsLooping(t *testing.T) {
	h := newHarness(t)
	h.transport.mu.Lock()
	h.transport.pollErr = errors.New("broken")
	h.transport.mu.Unlock()
	stop := runWorker(t, h)
	defer stop()

	require.Equal(t, 10*time.Second, nextWait(t, h.clock))
	h.clock.fire <- h.clock.Now()
	require.Equal(t, 10*time.Second, nextWait(t, h.clock))
	require.Equal(t, 2, h.transport.pollCount())
}

func TestRun_CancelWhileIdle(t *testing.T) {
	h := newHarness(t)
	stop := runWorker(t, h)
	nextWait(t, h.clock)
	stop()
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "polling", StatePolling.String())
	require.Equal(t, "draining", StateDraining.String())
	require.Equal(t, "send_failed", OutcomeSendFailed.String())
}
