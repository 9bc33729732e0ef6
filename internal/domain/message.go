package domain

import "time"

// Role identifies the author of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Source records which entry point produced an exchange.
type Source string

const (
	SourceRelay Source = "relay"
	SourceChat  Source = "chat"
)

// Message is one immutable row of conversation history.
type Message struct {
	ID         string    `json:"id"`
	ExchangeID string    `json:"exchange_id,omitempty"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Source     Source    `json:"source,omitempty"`
	Address    string    `json:"address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Exchange is a user message and the assistant reply committed with it.
type Exchange struct {
	ID        string
	User      Message
	Assistant Message
}

// ExchangeInput carries what a caller knows before the store assigns
// identifiers and timestamps.
type ExchangeInput struct {
	UserContent      string
	AssistantContent string
	Source           Source
	Address          string // remote party, empty for synchronous chat
}

// InboundEvent is a message received from a transport.
type InboundEvent struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}
