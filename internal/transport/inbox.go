package transport

import (
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const publishTimeout = 10 * time.Second

// Inbox buffers pushed events until the relay worker polls them.
type Inbox struct {
	events  chan domain.InboundEvent
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

func NewInbox(bufferSize int, logger *slog.Logger) *Inbox {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		events:  make(chan domain.InboundEvent, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish enqueues ev. When the inbox is full it waits up to the publish
// timeout and reports false if the event had to be dropped.
func (b *Inbox) Publish(ev domain.InboundEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed inbox")
		return false
	}

	select {
	case b.events <- ev:
		return true
	default:
	}

	b.logger.Warn("inbox full, waiting", "sender", ev.Sender)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.events <- ev:
		return true
	case <-timer.C:
		b.logger.Error("event dropped: inbox full", "sender", ev.Sender, "waited", b.timeout)
		return false
	}
}

// Drain returns everything queued right now without blocking.
func (b *Inbox) Drain() []domain.InboundEvent {
	var out []domain.InboundEvent
	for {
		select {
		case ev, ok := <-b.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (b *Inbox) Len() int { return len(b.events) }

func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
