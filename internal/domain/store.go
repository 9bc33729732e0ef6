package domain

import "context"

// ExchangeStore persists user/assistant pairs atomically.
type ExchangeStore interface {
	AppendExchange(ctx context.Context, in ExchangeInput) (*Exchange, error)
}

// ConversationStore is the full store surface used by the API and CLI.
type ConversationStore interface {
	ExchangeStore
	ListMessages(ctx context.Context, limit int) ([]Message, error)
	CountMessages(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
