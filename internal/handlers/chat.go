// Package handlers implements the gateway's HTTP surface: content
// generation in three client protocols, model listing, and health.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/conversation"
	"github.com/modelgate/modelgate/internal/convert"
	"github.com/modelgate/modelgate/internal/pool"
	"github.com/modelgate/modelgate/internal/protocol"
	"github.com/modelgate/modelgate/internal/strategy"
	"github.com/modelgate/modelgate/internal/upstream"
	"github.com/modelgate/modelgate/internal/usagedb"
)

// Deps bundles the collaborators every handler needs.
type Deps struct {
	Config        *config.Manager
	Pool          *pool.Manager
	Registry      *convert.Registry
	Upstream      *upstream.Client
	Conversations *conversation.Logger
	Usage         *usagedb.Store // optional
	Models        map[string][]config.ModelInfo
	Logger        *slog.Logger
}

// ChatHandler serves content generation for one client protocol.
type ChatHandler struct {
	clientProtocol protocol.ID
	deps           *Deps
}

func NewChatHandler(clientProtocol protocol.ID, deps *Deps) *ChatHandler {
	return &ChatHandler{clientProtocol: clientProtocol, deps: deps}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := h.deps.Config.Get()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	clientStrategy, err := strategy.ForProtocol(h.clientProtocol)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "unsupported client protocol", err)
		return
	}

	model, stream := clientStrategy.ExtractModelAndStream(body, r.URL.RequestURI())
	if model == "" {
		h.writeError(w, http.StatusBadRequest, "request carries no model name", nil)
		return
	}

	res, ok := h.deps.Pool.Resolve(model, cfg.DefaultProvider)
	if !ok {
		h.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("no available provider for model %q", model), nil)
		return
	}

	upstreamProtocol := protocol.FromProviderType(res.ProviderType)
	upstreamModel := res.Credential.UpstreamModel(res.Model)

	outBody, err := h.prepareUpstreamBody(cfg, body, upstreamProtocol, upstreamModel)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "request conversion failed", err)
		return
	}

	inputTokens := countTokens(string(outBody))
	h.deps.Logger.Info("Dispatching request",
		"client_protocol", h.clientProtocol,
		"provider", res.ProviderType,
		"credential", res.Credential.UUID,
		"model", upstreamModel,
		"stream", stream,
		"input_tokens", inputTokens,
	)

	target := upstream.Target{
		Protocol: upstreamProtocol,
		BaseURL:  res.Credential.BaseURL,
		APIKey:   res.Credential.APIKey,
	}

	call := &callContext{
		handler:     h,
		cfg:         cfg,
		res:         res,
		target:      target,
		model:       upstreamModel,
		stream:      stream,
		prompt:      clientStrategy.ExtractPromptText(body),
		inputTokens: inputTokens,
		start:       start,
	}

	if stream {
		call.handleStream(r.Context(), w, outBody)
	} else {
		call.handleUnary(r.Context(), w, outBody)
	}
}

// prepareUpstreamBody converts the client body into the upstream protocol,
// forces the resolved (prefix-stripped, possibly remapped) model name, and
// injects the configured system prompt.
func (h *ChatHandler) prepareUpstreamBody(cfg *config.Config, body []byte, upstreamProtocol protocol.ID, upstreamModel string) ([]byte, error) {
	out, err := h.deps.Registry.Request(body, h.clientProtocol, upstreamProtocol, upstreamModel)
	if err != nil {
		return nil, err
	}

	if h.clientProtocol == upstreamProtocol && upstreamProtocol != protocol.Gemini {
		// Identity conversion leaves the body untouched, so the bracket
		// prefix and any model rename still need applying here.
		out, err = setBodyModel(out, upstreamModel)
		if err != nil {
			return nil, err
		}
	}

	prompt, err := cfg.ReadSystemPrompt()
	if err != nil {
		h.deps.Logger.Warn("System prompt unavailable", "error", err)
		prompt = ""
	}
	if prompt != "" {
		upstreamStrategy, err := strategy.ForProtocol(upstreamProtocol)
		if err != nil {
			return nil, err
		}
		out, err = upstreamStrategy.ApplySystemPrompt(out, prompt, cfg.SystemPrompt.Mode)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// callContext carries one resolved request through its upstream call and
// bookkeeping.
type callContext struct {
	handler     *ChatHandler
	cfg         *config.Config
	res         pool.Resolution
	target      upstream.Target
	model       string
	stream      bool
	prompt      string
	inputTokens int
	start       time.Time
}

func (c *callContext) handleUnary(ctx context.Context, w http.ResponseWriter, body []byte) {
	h := c.handler

	native, err := h.deps.Upstream.Complete(ctx, c.target, c.model, body)
	if err != nil {
		c.finish("", err)
		c.writeUpstreamError(w, err)
		return
	}

	out, err := h.deps.Registry.Response(native, c.target.Protocol, h.clientProtocol, c.res.Model)
	if err != nil {
		c.finish("", err)
		h.writeError(w, http.StatusBadGateway, "response conversion failed", err)
		return
	}

	upstreamStrategy, _ := strategy.ForProtocol(c.target.Protocol)
	responseText := ""
	if upstreamStrategy != nil {
		responseText = upstreamStrategy.ExtractResponseText(native)
	}
	c.finish(responseText, nil)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.deps.Logger.Error("Failed to write response", "error", err)
	}
}

func (c *callContext) handleStream(ctx context.Context, w http.ResponseWriter, body []byte) {
	h := c.handler

	stream, err := h.deps.Upstream.Stream(ctx, c.target, c.model, body)
	if err != nil {
		c.finish("", err)
		c.writeUpstreamError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flush(w)

	upstreamStrategy, _ := strategy.ForProtocol(c.target.Protocol)
	converted := h.clientProtocol != c.target.Protocol

	var responseText strings.Builder
	var streamErr error

	// The conversation log flushes exactly once, whether the stream
	// finishes, fails, or the client walks away.
	defer func() {
		c.finish(responseText.String(), streamErr)
	}()

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			h.deps.Logger.Error("Upstream stream failed", "error", err)
			writeSSEData(w, errorEnvelope("upstream stream failed", http.StatusBadGateway, err))
			return
		}
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			return
		}

		if upstreamStrategy != nil {
			responseText.WriteString(upstreamStrategy.ExtractStreamText(chunk))
		}

		events, err := h.deps.Registry.StreamChunk(chunk, c.target.Protocol, h.clientProtocol, c.res.Model)
		if err != nil {
			h.deps.Logger.Warn("Stream chunk conversion failed, dropping chunk", "error", err)
			continue
		}
		for _, ev := range events {
			if ev.Type != "" {
				fmt.Fprintf(w, "event: %s\n", ev.Type)
			}
			writeSSEData(w, ev.Data)
		}
		if len(events) > 0 {
			flush(w)
		}
	}

	// A converted stream may never carry a native OpenAI terminator, so
	// synthesize one for OpenAI-shaped clients.
	if h.clientProtocol == protocol.OpenAI && converted {
		writeSSEData(w, convert.OpenAIStreamStop(c.res.Model))
	}
	if h.clientProtocol == protocol.OpenAI {
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
	flush(w)
}

// finish records usage and the conversation entry. Safe to call once per
// request only; both paths call it exactly once.
func (c *callContext) finish(responseText string, callErr error) {
	h := c.handler
	status := "ok"
	detail := ""
	if callErr != nil {
		detail = callErr.Error()
		status = "error"
		if upstream.IsAuthError(callErr) {
			status = "auth_error"
		}
	}

	if callErr != nil && (upstream.IsAuthError(callErr) || isExhausted(callErr)) {
		h.deps.Pool.MarkUnhealthy(c.res.ProviderType, c.res.Credential.UUID)
		h.deps.Logger.Warn("Credential marked unhealthy",
			"provider", c.res.ProviderType,
			"credential", c.res.Credential.UUID,
			"reason", detail,
		)
	}

	h.deps.Conversations.Record(conversation.Entry{
		Model:        c.model,
		ProviderType: c.res.ProviderType,
		Prompt:       c.prompt,
		Response:     responseText,
		Stream:       c.stream,
		Error:        detail,
		Duration:     time.Since(c.start),
	})

	if h.deps.Usage != nil {
		entry := &usagedb.RequestLog{
			CreatedAt:      time.Now(),
			ProviderType:   c.res.ProviderType,
			CredentialUUID: c.res.Credential.UUID,
			Model:          c.model,
			ClientProtocol: string(h.clientProtocol),
			Stream:         c.stream,
			InputTokens:    c.inputTokens,
			OutputTokens:   countTokens(responseText),
			DurationMS:     time.Since(c.start).Milliseconds(),
			Status:         status,
			ErrorDetail:    detail,
		}
		if err := h.deps.Usage.Record(entry); err != nil {
			h.deps.Logger.Warn("Usage record failed", "error", err)
		}
	}
}

func (c *callContext) writeUpstreamError(w http.ResponseWriter, err error) {
	var authErr *upstream.AuthError
	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &authErr):
		c.handler.writeError(w, http.StatusBadGateway, "upstream authentication failed", err)
	case errors.As(err, &statusErr):
		c.handler.writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream returned status %d", statusErr.StatusCode), err)
	default:
		c.handler.writeError(w, http.StatusBadGateway, "upstream call failed", err)
	}
}

func (h *ChatHandler) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.deps.Logger.Error(message, "error", err)
	} else {
		h.deps.Logger.Error(message)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(errorEnvelope(message, status, err))
}

func errorEnvelope(message string, code int, err error) []byte {
	payload := map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}
	if err != nil {
		payload["error"].(map[string]any)["details"] = err.Error()
	}
	data, _ := json.Marshal(payload)
	return data
}

func writeSSEData(w http.ResponseWriter, data []byte) {
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// setBodyModel rewrites the model field of an OpenAI- or Claude-shaped
// request without disturbing the rest of the document.
func setBodyModel(body []byte, model string) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse request body: %w", err)
	}
	doc["model"] = model
	return json.Marshal(doc)
}

func countTokens(text string) int {
	if text == "" {
		return 0
	}
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

func isExhausted(err error) bool {
	var statusErr *upstream.StatusError
	return errors.As(err, &statusErr) && (statusErr.StatusCode == 429 || statusErr.StatusCode >= 500)
}
