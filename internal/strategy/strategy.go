// Package strategy knows how to introspect and amend request and response
// bodies in each client protocol without converting them: pulling out the
// model name and stream flag, extracting plain text for conversation
// logging, and injecting a configured system prompt.
package strategy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/protocol"
)

// System prompt injection modes.
const (
	SystemPromptAppend    = "append"
	SystemPromptOverwrite = "overwrite"
)

// Strategy handles bodies shaped in one protocol.
type Strategy interface {
	Protocol() protocol.ID

	// ExtractModelAndStream reads the requested model and stream flag
	// from a request. The URL path is consulted for protocols that
	// encode either in the path rather than the body.
	ExtractModelAndStream(body []byte, path string) (model string, stream bool)

	// ExtractPromptText pulls the latest user text out of a request, for
	// conversation logging.
	ExtractPromptText(body []byte) string

	// ExtractResponseText pulls the assistant text out of a completed
	// response.
	ExtractResponseText(body []byte) string

	// ExtractStreamText pulls the text fragment out of one stream chunk.
	ExtractStreamText(chunk []byte) string

	// ApplySystemPrompt injects prompt into a request body. Append mode
	// concatenates after any existing system text; overwrite replaces it.
	ApplySystemPrompt(body []byte, prompt, mode string) ([]byte, error)
}

// ForProtocol returns the strategy for a protocol family.
func ForProtocol(p protocol.ID) (Strategy, error) {
	switch p {
	case protocol.OpenAI:
		return openAIStrategy{}, nil
	case protocol.Claude:
		return claudeStrategy{}, nil
	case protocol.Gemini:
		return geminiStrategy{}, nil
	default:
		return nil, fmt.Errorf("no strategy for protocol %q", p)
	}
}

// mergeSystem combines existing system text with the injected prompt.
func mergeSystem(existing, prompt, mode string) string {
	if mode == SystemPromptOverwrite || existing == "" {
		return prompt
	}
	return existing + "\n" + prompt
}

// contentText flattens a string-or-parts content value into plain text.
// Parts may be OpenAI {text} objects or Claude {type, text} blocks.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out strings.Builder
		for _, p := range v {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := part["text"].(string); ok {
				out.WriteString(t)
			}
		}
		return out.String()
	}
	return ""
}

func unmarshalObject(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse request body: %w", err)
	}
	return doc, nil
}
