package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/domain"
)

const (
	claudeAPIBase      = "https://api.anthropic.com/v1"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-3-sonnet-20240229"
	defaultMaxTokens   = 512
	defaultHTTPTimeout = 120 * time.Second
)

// Claude implements domain.Provider for the Anthropic Messages API.
type Claude struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type ClaudeConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.APIBase == "" {
		cfg.APIBase = claudeAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Claude{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("claude: no API key configured")
	}
	return nil
}

type claudeRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	System      string      `json:"system,omitempty"`
	Messages    []claudeMsg `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (c *Claude) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("claude: no API key configured")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	// Claude takes the system prompt out of band.
	body := claudeRequest{Model: model, MaxTokens: maxTokens}
	for _, m := range req.Messages {
		if m.Role == "system" {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, claudeMsg{Role: m.Role, Content: m.Content})
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, c.client, c.Name(), func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/messages", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", claudeAPIVersion)
		return httpReq, nil
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("claude %d: %s", resp.StatusCode, string(respBody))
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var textParts []string
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	if len(textParts) == 0 {
		return nil, fmt.Errorf("claude: response has no text content")
	}

	return &domain.ChatResponse{
		Content:      strings.Join(textParts, ""),
		FinishReason: claudeResp.StopReason,
		Usage: domain.Usage{
			PromptTokens:     claudeResp.Usage.InputTokens,
			CompletionTokens: claudeResp.Usage.OutputTokens,
			TotalTokens:      claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
