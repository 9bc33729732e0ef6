package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/domain"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	arkDefaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	arkDefaultRegion  = "cn-beijing"
)

// Ark implements domain.Provider on top of an eino chat model backed by
// Volcengine Ark.
type Ark struct {
	chatModel model.BaseChatModel
	modelName string
	logger    *slog.Logger
}

type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string
	Model     string
	Logger    *slog.Logger
}

// Enabled reports whether enough credentials are present to build a client.
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

func NewArk(ctx context.Context, cfg ArkConfig) (*Ark, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("ark: model and API key (or access/secret key pair) are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = arkDefaultBaseURL
	}
	if cfg.Region == "" {
		cfg.Region = arkDefaultRegion
	}
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   cfg.BaseURL,
		Region:    cfg.Region,
		APIKey:    cfg.APIKey,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Model:     cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("ark: create chat model: %w", err)
	}
	return NewArkWithModel(cm, cfg.Model, cfg.Logger), nil
}

// NewArkWithModel wraps any eino chat model.
func NewArkWithModel(cm model.BaseChatModel, modelName string, logger *slog.Logger) *Ark {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ark{chatModel: cm, modelName: modelName, logger: logger}
}

func (a *Ark) Name() string { return "ark" }

func (a *Ark) Healthy(ctx context.Context) error {
	if a.chatModel == nil {
		return fmt.Errorf("ark: chat model not initialised")
	}
	return nil
}

func (a *Ark) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	msgs := make([]*schema.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, schema.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}

	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}

	start := time.Now()
	out, err := a.chatModel.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("ark generate: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("ark: empty response")
	}

	resp := &domain.ChatResponse{
		Content:   out.Content,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if out.ResponseMeta != nil {
		resp.FinishReason = out.ResponseMeta.FinishReason
		if u := out.ResponseMeta.Usage; u != nil {
			resp.Usage = domain.Usage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}
		}
	}
	return resp, nil
}
