package convert

import "encoding/json"

// Claude messages wire shapes.

type claudeRequest struct {
	Model         string          `json:"model"`
	System        any             `json:"system,omitempty"`
	Messages      []claudeMessage `json:"messages"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []claudeTool    `json:"tools,omitempty"`
	ToolChoice    any             `json:"tool_choice,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   any             `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type claudeResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Content      []claudeContentBlock `json:"content"`
	Model        string               `json:"model"`
	StopReason   *string              `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence,omitempty"`
	Usage        *claudeUsage         `json:"usage,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// claudeStreamEvent covers every SSE event shape Claude emits; unused
// fields stay nil and are omitted when re-marshalled.
type claudeStreamEvent struct {
	Type         string              `json:"type"`
	Message      *claudeResponse     `json:"message,omitempty"`
	Index        *int                `json:"index,omitempty"`
	ContentBlock *claudeContentBlock `json:"content_block,omitempty"`
	Delta        *claudeStreamDelta  `json:"delta,omitempty"`
	Usage        *claudeUsage        `json:"usage,omitempty"`
}

type claudeStreamDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	PartialJSON  string  `json:"partial_json,omitempty"`
	StopReason   *string `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

type claudeModelList struct {
	Data []claudeModel `json:"data"`
}

type claudeModel struct {
	Type        string `json:"type,omitempty"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// systemText flattens a Claude system value (string or block array) into
// plain text.
func claudeSystemText(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, b := range v {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := block["text"].(string); ok {
				out += t
			}
		}
		return out
	}
	return ""
}

// contentBlocks normalizes a Claude message content value into blocks. A
// plain string becomes a single text block.
func claudeContentBlocks(content any) []claudeContentBlock {
	switch v := content.(type) {
	case string:
		return []claudeContentBlock{{Type: "text", Text: v}}
	case []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var blocks []claudeContentBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil
		}
		return blocks
	}
	return nil
}
