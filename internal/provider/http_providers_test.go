package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/domain"

	"github.com/stretchr/testify/require"
)

func init() {
	retryBaseDelay = time.Millisecond
}

func userPrompt(s string) domain.ChatRequest {
	return domain.ChatRequest{Messages: []domain.ChatMessage{{Role: "user", Content: s}}, MaxTokens: 512}
}

func TestClaude_Chat(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.Equal(t, claudeAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"All "},{"type":"text","text":"clear."}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "test-key", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	resp, err := c.Chat(context.Background(), userPrompt("status update?"))
	require.NoError(t, err)

	require.Equal(t, "All clear.", resp.Content)
	require.Equal(t, 13, resp.Usage.TotalTokens)
	require.Equal(t, claudeDefaultModel, got.Model)
	require.Equal(t, 512, got.MaxTokens)
	require.Equal(t, []claudeMsg{{Role: "user", Content: "status update?"}}, got.Messages)
}

func TestClaude_NoTextContentIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := c.Chat(context.Background(), userPrompt("x"))
	require.Error(t, err)
}

func TestClaude_MissingKey(t *testing.T) {
	c := NewClaude(ClaudeConfig{Logger: testLogger()})
	require.Error(t, c.Healthy(context.Background()))
	_, err := c.Chat(context.Background(), userPrompt("x"))
	require.Error(t, err)
}

func TestClaude_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := c.Chat(context.Background(), userPrompt("x"))
	require.ErrorContains(t, err, "claude 400")
	require.Equal(t, int32(1), hits.Load())
}

func TestDoWithRetry_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	resp, err := o.Chat(context.Background(), userPrompt("x"))
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.Equal(t, int32(3), hits.Load())
}

func TestDoWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := o.Chat(context.Background(), userPrompt("x"))
	require.ErrorIs(t, err, domain.ErrCompletion)
	require.ErrorContains(t, err, "openai: gave up after 4 attempts")
	require.Equal(t, int32(maxRetries+1), hits.Load())
}

func TestDoWithRetry_StopsWhenRetryAfterPassesDeadline(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "20")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	start := time.Now()
	_, err := o.Chat(ctx, userPrompt("x"))
	require.ErrorIs(t, err, domain.ErrCompletion)
	require.ErrorContains(t, err, "HTTP 503")
	require.Equal(t, int32(1), hits.Load())
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestDoWithRetry_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := o.Chat(context.Background(), userPrompt("x"))
	require.ErrorContains(t, err, "openai 400")
	require.Equal(t, int32(1), hits.Load())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Zero(t, parseRetryAfter("", now))
	require.Zero(t, parseRetryAfter("soon", now))
	require.Zero(t, parseRetryAfter("-3", now))
	require.Equal(t, 7*time.Second, parseRetryAfter("7", now))
	require.Equal(t, maxRetryAfter, parseRetryAfter("3600", now))
	require.Equal(t, 10*time.Second, parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	require.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestOpenAI_Chat(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":1,"total_tokens":5}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL + "/", Model: "gpt-test", Client: srv.Client(), Logger: testLogger()})
	resp, err := o.Chat(context.Background(), userPrompt("hi"))
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, 5, resp.Usage.TotalTokens)
	require.Equal(t, "gpt-test", got.Model)
	require.False(t, got.Stream)
}

func TestOpenAI_NoChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := o.Chat(context.Background(), userPrompt("x"))
	require.Error(t, err)
}

func TestOllama_ChatAndHealth(t *testing.T) {
	var got ollamaRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[]}`))
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":{"role":"assistant","content":"local reply"},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":2}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	require.NoError(t, o.Healthy(context.Background()))

	resp, err := o.Chat(context.Background(), userPrompt("hi"))
	require.NoError(t, err)
	require.Equal(t, "local reply", resp.Content)
	require.Equal(t, 9, resp.Usage.TotalTokens)
	require.Equal(t, ollamaDefaultModel, got.Model)
	require.EqualValues(t, 512, got.Options["num_predict"])
}
