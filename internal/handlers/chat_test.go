package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/conversation"
	"github.com/modelgate/modelgate/internal/convert"
	"github.com/modelgate/modelgate/internal/pool"
	"github.com/modelgate/modelgate/internal/protocol"
	"github.com/modelgate/modelgate/internal/upstream"
)

func testDeps(t *testing.T, upstreamURL, providerType string) *Deps {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr := config.NewManager(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, mgr.Save(&config.Config{DefaultProvider: providerType}))

	pm := pool.NewManager()
	pm.Reinitialize(map[string][]*pool.Credential{
		providerType: {{UUID: "cred-1", Healthy: true, APIKey: "sk-up", BaseURL: upstreamURL}},
	})

	return &Deps{
		Config:        mgr,
		Pool:          pm,
		Registry:      convert.NewRegistry(),
		Upstream:      upstream.NewClient(logger, upstream.WithRetry(1, time.Millisecond)),
		Conversations: conversation.NewLogger(conversation.ModeNone, "", logger),
		Logger:        logger,
	}
}

func TestClaudeClientAgainstOpenAIUpstream(t *testing.T) {
	var upstreamBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-up", r.Header.Get("Authorization"))
		upstreamBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
		}`))
	}))
	defer srv.Close()

	deps := testDeps(t, srv.URL, "openai-custom")
	handler := NewChatHandler(protocol.Claude, deps)

	body := `{"model":"gpt-4","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// The upstream saw an OpenAI-shaped request.
	var sent struct {
		Model    string `json:"model"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(upstreamBody, &sent))
	assert.Equal(t, "gpt-4", sent.Model)
	require.NotEmpty(t, sent.Messages)

	// The client got a Claude-shaped response.
	var resp struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "assistant", resp.Role)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Hello", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 9, resp.Usage.InputTokens)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}

func TestOpenAIClientIdentityPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		// The bracket prefix never reaches the upstream.
		assert.NotContains(t, string(body), "[OpenAI]")
		assert.Contains(t, string(body), `"model":"gpt-4"`)
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hey"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	deps := testDeps(t, srv.URL, "openai-custom")
	handler := NewChatHandler(protocol.OpenAI, deps)

	body := `{"model":"[OpenAI] gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hey"`)
}

func TestStreamingClaudeClientFromOpenAIUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4\",\"choices\":[{\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n")
		io.WriteString(w, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4\",\"choices\":[{\"delta\":{\"content\":\"Hi\"},\"finish_reason\":null}]}\n\n")
		io.WriteString(w, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4\",\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	deps := testDeps(t, srv.URL, "openai-custom")
	handler := NewChatHandler(protocol.Claude, deps)

	body := `{"model":"gpt-4","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, "event: message_start\n")
	assert.Contains(t, out, "event: content_block_delta\n")
	assert.Contains(t, out, `"text":"Hi"`)
	assert.Contains(t, out, "event: message_delta\n")
	assert.Contains(t, out, `"stop_reason":"end_turn"`)
	// Claude-shaped streams carry no OpenAI terminator.
	assert.NotContains(t, out, "[DONE]")
}

func TestStreamingOpenAIClientFromClaudeUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message_start\n")
		io.WriteString(w, "data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet-4\",\"role\":\"assistant\",\"content\":[]}}\n\n")
		io.WriteString(w, "event: content_block_delta\n")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n")
		io.WriteString(w, "event: message_stop\n")
		io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	deps := testDeps(t, srv.URL, "claude-custom")
	handler := NewChatHandler(protocol.OpenAI, deps)

	body := `{"model":"claude-sonnet-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `"content":"Hi"`)
	// Converted OpenAI streams end with a synthesized stop chunk and the
	// [DONE] sentinel.
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.Contains(t, out, "data: [DONE]\n\n")
	assert.NotContains(t, out, "event:")
}

func TestAuthFailureMarksCredentialUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	deps := testDeps(t, srv.URL, "openai-custom")
	handler := NewChatHandler(protocol.OpenAI, deps)

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication")

	snap := deps.Pool.Snapshot()["openai-custom"]
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Healthy)
	assert.EqualValues(t, 1, snap[0].ErrorCount)
}

func TestMissingModelRejected(t *testing.T) {
	deps := testDeps(t, "http://127.0.0.1:0", "openai-custom")
	handler := NewChatHandler(protocol.OpenAI, deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "model")
}

func TestNoEligibleProvider(t *testing.T) {
	deps := testDeps(t, "http://127.0.0.1:0", "openai-custom")
	deps.Pool.Reinitialize(nil)
	handler := NewChatHandler(protocol.OpenAI, deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4","messages":[]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, http.StatusServiceUnavailable, envelope.Error.Code)
}

func TestGeminiClientPathRouting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "sk-up", r.Header.Get("x-goog-api-key"))
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hello"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	deps := testDeps(t, srv.URL, "gemini-cli-oauth")
	handler := NewChatHandler(protocol.Gemini, deps)

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.0-flash:generateContent",
		strings.NewReader(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Hello"`)
}

func TestSystemPromptInjection(t *testing.T) {
	var upstreamBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	deps := testDeps(t, srv.URL, "openai-custom")

	promptFile := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(promptFile, []byte("always be brief"), 0o644))
	cfg := deps.Config.Get()
	cfg.SystemPrompt = config.SystemPromptConfig{File: promptFile, Mode: "append"}
	require.NoError(t, deps.Config.Save(cfg))

	handler := NewChatHandler(protocol.OpenAI, deps)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(upstreamBody), "always be brief")
}
