package provider

import (
	"context"
	"errors"
	"testing"

	"relaybot/internal/domain"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	input []*schema.Message
	out   *schema.Message
	err   error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	return f.out, f.err
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestArk_ChatMapsRolesAndUsage(t *testing.T) {
	fm := &fakeChatModel{out: &schema.Message{
		Role:    schema.Assistant,
		Content: "ark reply",
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		},
	}}
	a := NewArkWithModel(fm, "doubao-test", testLogger())

	resp, err := a.Chat(context.Background(), domain.ChatRequest{Messages: []domain.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}})
	require.NoError(t, err)
	require.Equal(t, "ark reply", resp.Content)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, 7, resp.Usage.TotalTokens)

	require.Len(t, fm.input, 2)
	require.Equal(t, schema.System, fm.input[0].Role)
	require.Equal(t, schema.User, fm.input[1].Role)
	require.Equal(t, "hi", fm.input[1].Content)
}

func TestArk_GenerateError(t *testing.T) {
	a := NewArkWithModel(&fakeChatModel{err: errors.New("quota")}, "m", testLogger())
	_, err := a.Chat(context.Background(), domain.ChatRequest{})
	require.ErrorContains(t, err, "quota")
}

func TestArkConfig_Enabled(t *testing.T) {
	require.False(t, ArkConfig{Model: "m"}.Enabled())
	require.True(t, ArkConfig{Model: "m", APIKey: "k"}.Enabled())
	require.True(t, ArkConfig{Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())

	_, err := NewArk(context.Background(), ArkConfig{})
	require.Error(t, err)
}
