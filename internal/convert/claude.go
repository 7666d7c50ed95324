package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelgate/modelgate/internal/protocol"
)

// ClaudeConverter translates payloads whose source protocol is the Claude
// messages format.
type ClaudeConverter struct{}

func NewClaudeConverter() *ClaudeConverter { return &ClaudeConverter{} }

func (c *ClaudeConverter) Protocol() protocol.ID { return protocol.Claude }

func (c *ClaudeConverter) ConvertRequest(body []byte, target protocol.ID, model string) ([]byte, error) {
	var req claudeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse claude request: %w", err)
	}
	if model != "" {
		req.Model = model
	}

	switch target {
	case protocol.OpenAI:
		return json.Marshal(c.toOpenAIRequest(req))
	case protocol.Gemini:
		return json.Marshal(c.toGeminiRequest(req))
	default:
		return nil, &UnsupportedError{Kind: KindRequest, From: protocol.Claude, To: target}
	}
}

func (c *ClaudeConverter) toOpenAIRequest(req claudeRequest) openAIRequest {
	out := openAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.StopSequences,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		out.MaxTokens = &maxTokens
	}

	if system := claudeSystemText(req.System); system != "" {
		out.Messages = append(out.Messages, openAIMessage{Role: "system", Content: system})
	}

	for _, msg := range req.Messages {
		blocks := claudeContentBlocks(msg.Content)
		if blocks == nil {
			out.Messages = append(out.Messages, openAIMessage{Role: msg.Role, Content: msg.Content})
			continue
		}

		switch msg.Role {
		case "assistant":
			assistant := openAIMessage{Role: "assistant"}
			var text string
			for _, block := range blocks {
				switch block.Type {
				case "text":
					text += block.Text
				case "tool_use":
					arguments := "{}"
					if len(block.Input) > 0 {
						arguments = string(block.Input)
					}
					assistant.ToolCalls = append(assistant.ToolCalls, openAIToolCall{
						ID:       block.ID,
						Type:     "function",
						Function: openAIFunctionCall{Name: block.Name, Arguments: arguments},
					})
				}
			}
			assistant.Content = text
			out.Messages = append(out.Messages, assistant)
		default:
			// User turns split tool_result blocks into OpenAI tool
			// messages; remaining text stays a user message.
			var text string
			for _, block := range blocks {
				switch block.Type {
				case "tool_result":
					out.Messages = append(out.Messages, openAIMessage{
						Role:       "tool",
						Content:    flattenToolResult(block.Content),
						ToolCallID: block.ToolUseID,
					})
				case "text":
					text += block.Text
				}
			}
			if text != "" {
				out.Messages = append(out.Messages, openAIMessage{Role: "user", Content: text})
			}
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type: "function",
			Function: openAIFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

func (c *ClaudeConverter) toGeminiRequest(req claudeRequest) geminiRequest {
	out := geminiRequest{}

	if system := claudeSystemText(req.System); system != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		content := geminiContent{Role: role}
		for _, block := range claudeContentBlocks(msg.Content) {
			switch block.Type {
			case "text":
				content.Parts = append(content.Parts, geminiPart{Text: block.Text})
			case "thinking":
				content.Parts = append(content.Parts, geminiPart{Text: block.Thinking, Thought: true})
			case "tool_use":
				content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: block.Name,
					Args: block.Input,
				}})
			case "tool_result":
				content.Parts = append(content.Parts, geminiPart{FunctionResponse: &geminiFunctionResp{
					Name:     block.ToolUseID,
					Response: toolResultToJSON(block.Content),
				}})
			}
		}
		if len(content.Parts) > 0 {
			out.Contents = append(out.Contents, content)
		}
	}

	cfg := &geminiGenConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		cfg.MaxOutputTokens = &maxTokens
	}
	if cfg.MaxOutputTokens != nil || cfg.Temperature != nil || cfg.TopP != nil || len(cfg.StopSequences) > 0 {
		out.GenerationConfig = cfg
	}

	if len(req.Tools) > 0 {
		tool := geminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		out.Tools = []geminiTool{tool}
	}
	return out
}

func (c *ClaudeConverter) ConvertResponse(body []byte, target protocol.ID, model string) ([]byte, error) {
	var resp claudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse claude response: %w", err)
	}

	switch target {
	case protocol.OpenAI:
		return json.Marshal(c.toOpenAIResponse(resp, model))
	case protocol.Gemini:
		return json.Marshal(c.toGeminiResponse(resp))
	default:
		return nil, &UnsupportedError{Kind: KindResponse, From: protocol.Claude, To: target}
	}
}

func (c *ClaudeConverter) toOpenAIResponse(resp claudeResponse, model string) openAIResponse {
	if model == "" {
		model = resp.Model
	}
	out := openAIResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}
	if resp.Usage != nil {
		out.Usage = &openAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}

	message := openAIMessage{Role: "assistant"}
	var text string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			arguments := "{}"
			if len(block.Input) > 0 {
				arguments = string(block.Input)
			}
			message.ToolCalls = append(message.ToolCalls, openAIToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: openAIFunctionCall{Name: block.Name, Arguments: arguments},
			})
		}
	}
	message.Content = text

	finish := "stop"
	if resp.StopReason != nil {
		finish = OpenAIFinishReason(*resp.StopReason)
	}
	out.Choices = []openAIChoice{{Message: &message, FinishReason: &finish}}
	return out
}

func (c *ClaudeConverter) toGeminiResponse(resp claudeResponse) geminiResponse {
	out := geminiResponse{ModelVersion: resp.Model}
	if resp.Usage != nil {
		out.UsageMetadata = &geminiUsage{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}

	content := geminiContent{Role: "model"}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.Parts = append(content.Parts, geminiPart{Text: block.Text})
		case "thinking":
			content.Parts = append(content.Parts, geminiPart{Text: block.Thinking, Thought: true})
		case "tool_use":
			content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
				Name: block.Name,
				Args: block.Input,
			}})
		}
	}
	if len(content.Parts) == 0 {
		content.Parts = []geminiPart{{Text: ""}}
	}

	finish := "STOP"
	if resp.StopReason != nil && *resp.StopReason == "max_tokens" {
		finish = "MAX_TOKENS"
	}
	out.Candidates = []geminiCandidate{{Content: &content, FinishReason: finish}}
	return out
}

func (c *ClaudeConverter) ConvertStreamChunk(chunk []byte, target protocol.ID, model string) ([]StreamEvent, error) {
	var event claudeStreamEvent
	if err := json.Unmarshal(chunk, &event); err != nil {
		return nil, fmt.Errorf("parse claude stream event: %w", err)
	}

	switch target {
	case protocol.OpenAI:
		return c.toOpenAIStreamEvents(event, model)
	case protocol.Gemini:
		return c.toGeminiStreamEvents(event)
	default:
		return nil, &UnsupportedError{Kind: KindStreamChunk, From: protocol.Claude, To: target}
	}
}

func (c *ClaudeConverter) toOpenAIStreamEvents(event claudeStreamEvent, model string) ([]StreamEvent, error) {
	chunk := openAIResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil && model == "" {
			chunk.Model = event.Message.Model
		}
		chunk.Choices = []openAIChoice{{Delta: &openAIDelta{Role: "assistant"}}}
	case "content_block_start":
		if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
			return nil, nil
		}
		index := 0
		if event.Index != nil {
			index = *event.Index
		}
		chunk.Choices = []openAIChoice{{Delta: &openAIDelta{ToolCalls: []openAIToolCall{{
			Index:    &index,
			ID:       event.ContentBlock.ID,
			Type:     "function",
			Function: openAIFunctionCall{Name: event.ContentBlock.Name},
		}}}}}
	case "content_block_delta":
		if event.Delta == nil {
			return nil, nil
		}
		switch event.Delta.Type {
		case "text_delta":
			chunk.Choices = []openAIChoice{{Delta: &openAIDelta{Content: event.Delta.Text}}}
		case "thinking_delta":
			chunk.Choices = []openAIChoice{{Delta: &openAIDelta{ReasoningContent: event.Delta.Thinking}}}
		case "input_json_delta":
			index := 0
			if event.Index != nil {
				index = *event.Index
			}
			chunk.Choices = []openAIChoice{{Delta: &openAIDelta{ToolCalls: []openAIToolCall{{
				Index:    &index,
				Function: openAIFunctionCall{Arguments: event.Delta.PartialJSON},
			}}}}}
		default:
			return nil, nil
		}
	case "message_delta":
		finish := "stop"
		if event.Delta != nil && event.Delta.StopReason != nil {
			finish = OpenAIFinishReason(*event.Delta.StopReason)
		}
		chunk.Choices = []openAIChoice{{Delta: &openAIDelta{}, FinishReason: &finish}}
		if event.Usage != nil {
			chunk.Usage = &openAIUsage{
				PromptTokens:     event.Usage.InputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
			}
		}
	default:
		// ping, message_stop, content_block_stop carry nothing the
		// OpenAI shape can express.
		return nil, nil
	}

	ev, err := marshalEvent("", chunk)
	if err != nil {
		return nil, err
	}
	return []StreamEvent{ev}, nil
}

func (c *ClaudeConverter) toGeminiStreamEvents(event claudeStreamEvent) ([]StreamEvent, error) {
	out := geminiResponse{}

	switch event.Type {
	case "content_block_delta":
		if event.Delta == nil {
			return nil, nil
		}
		content := geminiContent{Role: "model"}
		switch event.Delta.Type {
		case "text_delta":
			content.Parts = []geminiPart{{Text: event.Delta.Text}}
		case "thinking_delta":
			content.Parts = []geminiPart{{Text: event.Delta.Thinking, Thought: true}}
		default:
			return nil, nil
		}
		out.Candidates = []geminiCandidate{{Content: &content}}
	case "content_block_start":
		if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
			return nil, nil
		}
		out.Candidates = []geminiCandidate{{Content: &geminiContent{
			Role: "model",
			Parts: []geminiPart{{FunctionCall: &geminiFunctionCall{
				Name: event.ContentBlock.Name,
				Args: event.ContentBlock.Input,
			}}},
		}}}
	case "message_delta":
		finish := "STOP"
		if event.Delta != nil && event.Delta.StopReason != nil && *event.Delta.StopReason == "max_tokens" {
			finish = "MAX_TOKENS"
		}
		out.Candidates = []geminiCandidate{{FinishReason: finish}}
		if event.Usage != nil {
			out.UsageMetadata = &geminiUsage{
				PromptTokenCount:     event.Usage.InputTokens,
				CandidatesTokenCount: event.Usage.OutputTokens,
				TotalTokenCount:      event.Usage.InputTokens + event.Usage.OutputTokens,
			}
		}
	default:
		return nil, nil
	}

	ev, err := marshalEvent("", out)
	if err != nil {
		return nil, err
	}
	return []StreamEvent{ev}, nil
}

func (c *ClaudeConverter) ConvertModelList(body []byte, target protocol.ID) ([]byte, error) {
	var list claudeModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse claude model list: %w", err)
	}

	switch target {
	case protocol.OpenAI:
		out := openAIModelList{Object: "list", Data: make([]openAIModel, 0, len(list.Data))}
		for _, m := range list.Data {
			out.Data = append(out.Data, openAIModel{ID: m.ID, Object: "model", OwnedBy: "anthropic"})
		}
		return json.Marshal(out)
	case protocol.Gemini:
		out := geminiModelList{Models: make([]geminiModel, 0, len(list.Data))}
		for _, m := range list.Data {
			display := m.DisplayName
			if display == "" {
				display = m.ID
			}
			out.Models = append(out.Models, geminiModel{Name: "models/" + m.ID, DisplayName: display})
		}
		return json.Marshal(out)
	default:
		return nil, &UnsupportedError{Kind: KindModelList, From: protocol.Claude, To: target}
	}
}

// flattenToolResult renders a Claude tool_result content value as the
// plain string OpenAI tool messages expect.
func flattenToolResult(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
