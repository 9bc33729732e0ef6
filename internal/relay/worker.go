// Package relay runs the background loop that turns inbound transport
// events into persisted exchanges and outbound replies.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/persona"
)

// DefaultInterval is the time between the starts of two polling cycles.
const DefaultInterval = 10 * time.Second

// State is the worker's position in its Idle → Polling → Draining cycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is what happened to a single inbound event.
type Outcome int

const (
	OutcomeProcessed        Outcome = iota
	OutcomeSkipped                  // sender not in the allow list
	OutcomeCompletionFailed         // dropped, nothing written or sent
	OutcomePersistFailed            // dropped, nothing sent
	OutcomeSendFailed               // exchange committed, reply not delivered
	OutcomePanicked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCompletionFailed:
		return "completion_failed"
	case OutcomePersistFailed:
		return "persist_failed"
	case OutcomeSendFailed:
		return "send_failed"
	case OutcomePanicked:
		return "panicked"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// BatchResult tallies one polling cycle.
type BatchResult struct {
	Received         int
	Processed        int
	Skipped          int
	CompletionFailed int
	PersistFailed    int
	SendFailed       int
	Panicked         int
	Abandoned        int // events left unprocessed because ctx was cancelled
}

func (r *BatchResult) record(o Outcome) {
	switch o {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeCompletionFailed:
		r.CompletionFailed++
	case OutcomePersistFailed:
		r.PersistFailed++
	case OutcomeSendFailed:
		r.SendFailed++
	case OutcomePanicked:
		r.Panicked++
	}
}

type Config struct {
	Transport domain.Transport
	Completer domain.Completer
	Store     domain.ExchangeStore
	Persona   *persona.Persona
	Interval  time.Duration
	AllowFrom []string // senders to answer; empty or "*" answers everyone
	Clock     Clock
	Logger    *slog.Logger
}

// Worker polls a transport, completes each event through the persona and
// persists the exchange before replying. Events in a batch are handled
// sequentially in the order the transport returned them.
type Worker struct {
	transport domain.Transport
	completer domain.Completer
	store     domain.ExchangeStore
	persona   *persona.Persona
	interval  time.Duration
	allowAll  bool
	allow     map[string]bool
	clock     Clock
	logger    *slog.Logger

	state atomic.Int32
}

func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("relay: transport is required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("relay: completer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	if cfg.Persona == nil {
		cfg.Persona = persona.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Worker{
		transport: cfg.Transport,
		completer: cfg.Completer,
		store:     cfg.Store,
		persona:   cfg.Persona,
		interval:  cfg.Interval,
		allow:     make(map[string]bool),
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
	for _, s := range cfg.AllowFrom {
		s = strings.TrimSpace(s)
		switch s {
		case "":
		case "*":
			w.allowAll = true
		default:
			w.allow[s] = true
		}
	}
	if len(w.allow) == 0 {
		w.allowAll = true
	}
	return w, nil
}

// State returns the current loop state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	metrics.WorkerState.Set(int64(s))
}

// Run polls immediately and then once per interval, measured from the start
// of each cycle, until ctx is cancelled. Poll failures and panics never end
// the loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("relay worker started", "transport", w.transport.Name(), "interval", w.interval)
	defer w.logger.Info("relay worker stopped")

	for {
		start := w.clock.Now()
		w.cycle(ctx)

		w.setState(StateIdle)
		if ctx.Err() != nil {
			return
		}

		wait := w.interval - w.clock.Now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(wait):
		}
	}
}

func (w *Worker) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("relay cycle panic", "panic", r)
		}
	}()

	res, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Warn("poll failed", "transport", w.transport.Name(), "err", err)
		return
	}
	if res.Received > 0 {
		w.logger.Info("batch drained",
			"received", res.Received,
			"processed", res.Processed,
			"skipped", res.Skipped,
			"completion_failed", res.CompletionFailed,
			"persist_failed", res.PersistFailed,
			"send_failed", res.SendFailed,
		)
	}
}

// RunOnce performs a single Polling and Draining pass. A poll failure is
// returned as an error and distinguishes a broken transport from an empty
// batch.
func (w *Worker) RunOnce(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	defer w.setState(StateIdle)

	w.setState(StatePolling)
	metrics.PollsTotal.Inc()
	events, err := w.transport.Poll(ctx)
	if err != nil {
		metrics.PollFailures.Inc()
		return res, err
	}

	w.setState(StateDraining)
	res.Received = len(events)
	metrics.EventsReceived.Add(int64(len(events)))
	metrics.BatchSize.Observe(float64(len(events)))

	for i, ev := range events {
		if ctx.Err() != nil {
			res.Abandoned = len(events) - i
			w.logger.Warn("batch abandoned on shutdown", "remaining", res.Abandoned)
			break
		}
		res.record(w.ProcessEvent(ctx, ev))
	}
	return res, nil
}

// ProcessEvent runs one event through filter, completion, persistence and
// send. The exchange is committed before the reply goes out, so a reply is
// never sent for a conversation that was not saved.
func (w *Worker) ProcessEvent(ctx context.Context, ev domain.InboundEvent) (outcome Outcome) {
	log := w.logger.With("sender", ev.Sender)
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panic", "panic", r)
			metrics.DroppedPanic.Inc()
			outcome = OutcomePanicked
		}
	}()

	if !w.allowed(ev.Sender) {
		log.Debug("sender not allowed, ignoring event")
		metrics.DroppedFiltered.Inc()
		return OutcomeSkipped
	}

	reply, err := w.completer.Complete(ctx, w.persona.RelayPrompt(ev.Content))
	if err != nil {
		log.Error("completion failed, dropping event", "err", err)
		metrics.DroppedCompletion.Inc()
		return OutcomeCompletionFailed
	}

	ex, err := w.store.AppendExchange(ctx, domain.ExchangeInput{
		UserContent:      ev.Content,
		AssistantContent: reply,
		Source:           domain.SourceRelay,
		Address:          ev.Sender,
	})
	if err != nil {
		log.Error("persist failed, dropping event", "err", err)
		metrics.DroppedPersistence.Inc()
		return OutcomePersistFailed
	}

	if err := w.transport.Send(ctx, ev.Sender, reply); err != nil {
		log.Error("reply send failed", "exchange_id", ex.ID, "err", err)
		metrics.SendFailures.Inc()
		return OutcomeSendFailed
	}

	metrics.EventsProcessed.Inc()
	log.Info("relayed reply", "exchange_id", ex.ID, "reply_len", len(reply))
	return OutcomeProcessed
}

func (w *Worker) allowed(sender string) bool {
	return w.allowAll || w.allow[strings.TrimSpace(sender)]
}
