package domain

import "context"

// Provider is the interface all LLM backends implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

// Completer turns a prompt into a single completion string.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type ChatRequest struct {
	Messages    []ChatMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
