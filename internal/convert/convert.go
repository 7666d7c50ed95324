// Package convert translates requests, responses, stream chunks, and model
// lists between LLM wire protocols. Each protocol family registers one
// Converter; a conversion is always dispatched on the source protocol of
// the payload being translated.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/protocol"
)

// Kind names the payload kinds a Converter can translate.
type Kind string

const (
	KindRequest     Kind = "request"
	KindResponse    Kind = "response"
	KindStreamChunk Kind = "streamChunk"
	KindModelList   Kind = "modelList"
)

// StreamEvent is one client-shaped streaming payload. Type carries the
// event name for event-typed protocols (claude, openaiResponses) and is
// empty otherwise.
type StreamEvent struct {
	Type string
	Data json.RawMessage
}

// Converter translates payloads originating in one protocol into the
// shapes of the other protocols it supports. Implementations return an
// UnsupportedError for target protocols they cannot produce.
type Converter interface {
	Protocol() protocol.ID

	ConvertRequest(body []byte, target protocol.ID, model string) ([]byte, error)
	ConvertResponse(body []byte, target protocol.ID, model string) ([]byte, error)
	// ConvertStreamChunk is stateless: everything it needs is inferred
	// from the chunk itself. One native chunk may fan out into zero, one,
	// or several client events; an untranslatable chunk yields an empty
	// slice and is dropped.
	ConvertStreamChunk(chunk []byte, target protocol.ID, model string) ([]StreamEvent, error)
	ConvertModelList(body []byte, target protocol.ID) ([]byte, error)
}

// UnsupportedError reports a conversion direction no converter implements.
type UnsupportedError struct {
	Kind Kind
	From protocol.ID
	To   protocol.ID
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s conversion: %s -> %s", e.Kind, e.From, e.To)
}

// Registry maps protocol families to their converters.
type Registry struct {
	converters map[protocol.ID]Converter
}

// NewRegistry returns a registry with the built-in converters installed.
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[protocol.ID]Converter)}
	r.Register(NewOpenAIConverter())
	r.Register(NewClaudeConverter())
	r.Register(NewGeminiConverter())
	return r
}

func (r *Registry) Register(c Converter) {
	r.converters[c.Protocol()] = c
}

// Get returns the converter for a protocol. There is no fallback: an
// unregistered protocol is an explicit error, never a silent
// mistranslation.
func (r *Registry) Get(p protocol.ID) (Converter, error) {
	c, ok := r.converters[p]
	if !ok {
		return nil, fmt.Errorf("no converter registered for protocol %q", p)
	}
	return c, nil
}

// Request converts a request body from one protocol to another. Identity
// conversions return the payload untouched.
func (r *Registry) Request(body []byte, from, to protocol.ID, model string) ([]byte, error) {
	if from == to {
		return body, nil
	}
	c, err := r.Get(from)
	if err != nil {
		return nil, err
	}
	return c.ConvertRequest(body, to, model)
}

// Response converts a completed response body between protocols.
func (r *Registry) Response(body []byte, from, to protocol.ID, model string) ([]byte, error) {
	if from == to {
		return body, nil
	}
	c, err := r.Get(from)
	if err != nil {
		return nil, err
	}
	return c.ConvertResponse(body, to, model)
}

// StreamChunk converts one native stream chunk into zero or more client
// events. Identity conversions wrap the chunk in a single event, reading
// the event name out of the chunk's own "type" field when the target
// protocol is event-typed.
func (r *Registry) StreamChunk(chunk []byte, from, to protocol.ID, model string) ([]StreamEvent, error) {
	if from == to {
		ev := StreamEvent{Data: chunk}
		if to.EventTyped() {
			ev.Type = payloadType(chunk)
		}
		return []StreamEvent{ev}, nil
	}
	c, err := r.Get(from)
	if err != nil {
		return nil, err
	}
	return c.ConvertStreamChunk(chunk, to, model)
}

// ModelList converts a model catalogue payload between protocols.
func (r *Registry) ModelList(body []byte, from, to protocol.ID) ([]byte, error) {
	if from == to {
		return body, nil
	}
	c, err := r.Get(from)
	if err != nil {
		return nil, err
	}
	return c.ConvertModelList(body, to)
}

// Stop/finish reason normalization. Unknown upstream reasons fall back to
// the protocol's neutral terminator.

var openAIToClaudeStop = map[string]string{
	"stop":       "end_turn",
	"length":     "max_tokens",
	"tool_calls": "tool_use",
}

var claudeToOpenAIFinish = map[string]string{
	"end_turn":      "stop",
	"max_tokens":    "length",
	"tool_use":      "tool_calls",
	"stop_sequence": "stop",
}

var geminiToOpenAIFinish = map[string]string{
	"STOP":       "stop",
	"MAX_TOKENS": "length",
}

// ClaudeStopReason maps an OpenAI finish reason to Claude's stop reason.
func ClaudeStopReason(finishReason string) string {
	if mapped, ok := openAIToClaudeStop[finishReason]; ok {
		return mapped
	}
	return "end_turn"
}

// OpenAIFinishReason maps a Claude stop reason to OpenAI's finish reason.
func OpenAIFinishReason(stopReason string) string {
	if mapped, ok := claudeToOpenAIFinish[stopReason]; ok {
		return mapped
	}
	return "stop"
}

func openAIFinishFromGemini(reason string) string {
	if mapped, ok := geminiToOpenAIFinish[reason]; ok {
		return mapped
	}
	return "stop"
}

func claudeStopFromGemini(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func geminiFinishFromOpenAI(reason string) string {
	switch reason {
	case "length":
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}

// newMessageID generates a Claude-style message id.
func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newCompletionID generates an OpenAI-style completion id.
func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// payloadType pulls the "type" discriminator out of a raw chunk, used for
// identity passthrough of event-typed streams.
func payloadType(chunk []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(chunk, &probe); err != nil {
		return ""
	}
	return probe.Type
}

func marshalEvent(eventType string, payload any) (StreamEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return StreamEvent{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return StreamEvent{Type: eventType, Data: data}, nil
}
