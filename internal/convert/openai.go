package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelgate/modelgate/internal/protocol"
)

// OpenAIConverter translates payloads whose source protocol is the OpenAI
// chat-completions format.
type OpenAIConverter struct{}

func NewOpenAIConverter() *OpenAIConverter { return &OpenAIConverter{} }

func (c *OpenAIConverter) Protocol() protocol.ID { return protocol.OpenAI }

func (c *OpenAIConverter) ConvertRequest(body []byte, target protocol.ID, model string) ([]byte, error) {
	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse openai request: %w", err)
	}
	if model != "" {
		req.Model = model
	}

	switch target {
	case protocol.Claude:
		return json.Marshal(c.toClaudeRequest(req))
	case protocol.Gemini:
		return json.Marshal(c.toGeminiRequest(req))
	default:
		return nil, &UnsupportedError{Kind: KindRequest, From: protocol.OpenAI, To: target}
	}
}

func (c *OpenAIConverter) toClaudeRequest(req openAIRequest) claudeRequest {
	out := claudeRequest{
		Model:         req.Model,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		Stream:        req.Stream,
		StopSequences: req.Stop,
	}
	out.MaxTokens = defaultClaudeMaxTokens
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	var system string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += msg.text()
		case "tool":
			// Tool results fold into a user turn of tool_result blocks.
			out.Messages = append(out.Messages, claudeMessage{
				Role: "user",
				Content: []claudeContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case "assistant":
			blocks := []claudeContentBlock{}
			if text := msg.text(); text != "" {
				blocks = append(blocks, claudeContentBlock{Type: "text", Text: text})
			}
			for _, call := range msg.ToolCalls {
				input := call.Function.Arguments
				if input == "" {
					input = "{}"
				}
				blocks = append(blocks, claudeContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: json.RawMessage(input),
				})
			}
			out.Messages = append(out.Messages, claudeMessage{Role: "assistant", Content: blocks})
		default:
			out.Messages = append(out.Messages, claudeMessage{Role: "user", Content: msg.Content})
		}
	}
	if system != "" {
		out.System = system
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, claudeTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	return out
}

func (c *OpenAIConverter) toGeminiRequest(req openAIRequest) geminiRequest {
	out := geminiRequest{}

	var system string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += msg.text()
		case "assistant":
			content := geminiContent{Role: "model"}
			if text := msg.text(); text != "" {
				content.Parts = append(content.Parts, geminiPart{Text: text})
			}
			for _, call := range msg.ToolCalls {
				content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: call.Function.Name,
					Args: argumentsToJSON(call.Function.Arguments),
				}})
			}
			out.Contents = append(out.Contents, content)
		case "tool":
			out.Contents = append(out.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResp{
					Name:     msg.ToolCallID,
					Response: toolResultToJSON(msg.Content),
				}}},
			})
		default:
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.text()}},
			})
		}
	}
	if system != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	if req.MaxTokens != nil || req.Temperature != nil || req.TopP != nil || len(req.Stop) > 0 {
		out.GenerationConfig = &geminiGenConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			StopSequences:   req.Stop,
		}
	}

	if len(req.Tools) > 0 {
		tool := geminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDecl{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		out.Tools = []geminiTool{tool}
	}
	return out
}

func (c *OpenAIConverter) ConvertResponse(body []byte, target protocol.ID, model string) ([]byte, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}

	switch target {
	case protocol.Claude:
		return json.Marshal(c.toClaudeResponse(resp, model))
	case protocol.Gemini:
		return json.Marshal(c.toGeminiResponse(resp))
	default:
		return nil, &UnsupportedError{Kind: KindResponse, From: protocol.OpenAI, To: target}
	}
}

func (c *OpenAIConverter) toClaudeResponse(resp openAIResponse, model string) claudeResponse {
	if model == "" {
		model = resp.Model
	}
	out := claudeResponse{
		ID:      newMessageID(),
		Type:    "message",
		Role:    "assistant",
		Model:   model,
		Content: []claudeContentBlock{},
		Usage:   &claudeUsage{},
	}
	if resp.Usage != nil {
		out.Usage.InputTokens = resp.Usage.PromptTokens
		out.Usage.OutputTokens = resp.Usage.CompletionTokens
	}

	// A response without choices still yields a structurally valid
	// message so clients never see a half-shaped payload.
	if len(resp.Choices) == 0 {
		stop := "end_turn"
		out.StopReason = &stop
		return out
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		if text := choice.Message.text(); text != "" {
			out.Content = append(out.Content, claudeContentBlock{Type: "text", Text: text})
		}
		for _, call := range choice.Message.ToolCalls {
			input := call.Function.Arguments
			if input == "" {
				input = "{}"
			}
			out.Content = append(out.Content, claudeContentBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: json.RawMessage(input),
			})
		}
	}

	stop := "end_turn"
	if choice.FinishReason != nil {
		stop = ClaudeStopReason(*choice.FinishReason)
	}
	out.StopReason = &stop
	return out
}

func (c *OpenAIConverter) toGeminiResponse(resp openAIResponse) geminiResponse {
	out := geminiResponse{ModelVersion: resp.Model}
	if resp.Usage != nil {
		out.UsageMetadata = &geminiUsage{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		}
	}
	if len(resp.Choices) == 0 {
		out.Candidates = []geminiCandidate{{
			Content:      &geminiContent{Role: "model", Parts: []geminiPart{{Text: ""}}},
			FinishReason: "STOP",
		}}
		return out
	}

	choice := resp.Choices[0]
	content := geminiContent{Role: "model"}
	if choice.Message != nil {
		if text := choice.Message.text(); text != "" {
			content.Parts = append(content.Parts, geminiPart{Text: text})
		}
		for _, call := range choice.Message.ToolCalls {
			content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
				Name: call.Function.Name,
				Args: argumentsToJSON(call.Function.Arguments),
			}})
		}
	}
	finish := "STOP"
	if choice.FinishReason != nil {
		finish = geminiFinishFromOpenAI(*choice.FinishReason)
	}
	out.Candidates = []geminiCandidate{{Content: &content, FinishReason: finish}}
	return out
}

func (c *OpenAIConverter) ConvertStreamChunk(chunk []byte, target protocol.ID, model string) ([]StreamEvent, error) {
	var delta openAIResponse
	if err := json.Unmarshal(chunk, &delta); err != nil {
		return nil, fmt.Errorf("parse openai stream chunk: %w", err)
	}

	switch target {
	case protocol.Claude:
		return c.toClaudeStreamEvents(delta, model)
	case protocol.Gemini:
		return c.toGeminiStreamEvents(delta, model)
	default:
		return nil, &UnsupportedError{Kind: KindStreamChunk, From: protocol.OpenAI, To: target}
	}
}

// toClaudeStreamEvents maps one OpenAI delta onto Claude stream events.
// The translation is chunk-local: the first chunk is recognized by its
// role marker, terminal chunks by their finish reason.
func (c *OpenAIConverter) toClaudeStreamEvents(chunk openAIResponse, model string) ([]StreamEvent, error) {
	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta
	if delta == nil {
		delta = &openAIDelta{}
	}

	var events []StreamEvent
	add := func(eventType string, payload any) error {
		ev, err := marshalEvent(eventType, payload)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	}

	if model == "" {
		model = chunk.Model
	}

	if delta.Role == "assistant" {
		stop := (*string)(nil)
		msg := &claudeResponse{
			ID:         newMessageID(),
			Type:       "message",
			Role:       "assistant",
			Content:    []claudeContentBlock{},
			Model:      model,
			StopReason: stop,
			Usage:      &claudeUsage{},
		}
		if err := add("message_start", claudeStreamEvent{Type: "message_start", Message: msg}); err != nil {
			return nil, err
		}
	}

	zero := 0
	if delta.Content != "" {
		if err := add("content_block_delta", claudeStreamEvent{
			Type:  "content_block_delta",
			Index: &zero,
			Delta: &claudeStreamDelta{Type: "text_delta", Text: delta.Content},
		}); err != nil {
			return nil, err
		}
	}

	if delta.ReasoningContent != "" {
		if err := add("content_block_delta", claudeStreamEvent{
			Type:  "content_block_delta",
			Index: &zero,
			Delta: &claudeStreamDelta{Type: "thinking_delta", Thinking: delta.ReasoningContent},
		}); err != nil {
			return nil, err
		}
	}

	for _, call := range delta.ToolCalls {
		index := 0
		if call.Index != nil {
			index = *call.Index
		}
		if call.Function.Name != "" {
			if err := add("content_block_start", claudeStreamEvent{
				Type:  "content_block_start",
				Index: &index,
				ContentBlock: &claudeContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: json.RawMessage("{}"),
				},
			}); err != nil {
				return nil, err
			}
		}
		if call.Function.Arguments != "" {
			// Raw partial JSON: the client concatenates the fragments.
			if err := add("content_block_delta", claudeStreamEvent{
				Type:  "content_block_delta",
				Index: &index,
				Delta: &claudeStreamDelta{Type: "input_json_delta", PartialJSON: call.Function.Arguments},
			}); err != nil {
				return nil, err
			}
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		stop := ClaudeStopReason(*choice.FinishReason)
		ev := claudeStreamEvent{
			Type:  "message_delta",
			Delta: &claudeStreamDelta{StopReason: &stop},
		}
		if chunk.Usage != nil {
			ev.Usage = &claudeUsage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if err := add("message_delta", ev); err != nil {
			return nil, err
		}
	}

	return events, nil
}

func (c *OpenAIConverter) toGeminiStreamEvents(chunk openAIResponse, model string) ([]StreamEvent, error) {
	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta
	if delta == nil {
		delta = &openAIDelta{}
	}

	content := geminiContent{Role: "model"}
	if delta.Content != "" {
		content.Parts = append(content.Parts, geminiPart{Text: delta.Content})
	}
	for _, call := range delta.ToolCalls {
		if call.Function.Name != "" {
			content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
				Name: call.Function.Name,
				Args: argumentsToJSON(call.Function.Arguments),
			}})
		}
	}

	finished := choice.FinishReason != nil && *choice.FinishReason != ""
	if len(content.Parts) == 0 && !finished {
		return nil, nil
	}

	candidate := geminiCandidate{Content: &content}
	if len(content.Parts) == 0 {
		candidate.Content = nil
	}
	out := geminiResponse{Candidates: []geminiCandidate{candidate}}
	if finished {
		out.Candidates[0].FinishReason = geminiFinishFromOpenAI(*choice.FinishReason)
		if chunk.Usage != nil {
			out.UsageMetadata = &geminiUsage{
				PromptTokenCount:     chunk.Usage.PromptTokens,
				CandidatesTokenCount: chunk.Usage.CompletionTokens,
				TotalTokenCount:      chunk.Usage.TotalTokens,
			}
		}
	}

	ev, err := marshalEvent("", out)
	if err != nil {
		return nil, err
	}
	ev.Type = ""
	return []StreamEvent{ev}, nil
}

func (c *OpenAIConverter) ConvertModelList(body []byte, target protocol.ID) ([]byte, error) {
	var list openAIModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse openai model list: %w", err)
	}

	switch target {
	case protocol.Claude:
		out := claudeModelList{Data: make([]claudeModel, 0, len(list.Data))}
		for _, m := range list.Data {
			out.Data = append(out.Data, claudeModel{Type: "model", ID: m.ID, DisplayName: m.ID})
		}
		return json.Marshal(out)
	case protocol.Gemini:
		out := geminiModelList{Models: make([]geminiModel, 0, len(list.Data))}
		for _, m := range list.Data {
			out.Models = append(out.Models, geminiModel{Name: "models/" + m.ID, DisplayName: m.ID})
		}
		return json.Marshal(out)
	default:
		return nil, &UnsupportedError{Kind: KindModelList, From: protocol.OpenAI, To: target}
	}
}

// OpenAIStreamStop synthesizes the terminal chunk an OpenAI-shaped client
// expects when the converted upstream stream carried no native OpenAI
// terminator.
func OpenAIStreamStop(model string) []byte {
	stop := "stop"
	chunk := openAIResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openAIChoice{{Delta: &openAIDelta{}, FinishReason: &stop}},
	}
	data, _ := json.Marshal(chunk)
	return data
}

// argumentsToJSON turns an OpenAI tool-call arguments string into a JSON
// object, tolerating empty and malformed input.
func argumentsToJSON(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	if !json.Valid([]byte(arguments)) {
		quoted, _ := json.Marshal(arguments)
		return json.RawMessage(`{"raw":` + string(quoted) + `}`)
	}
	return json.RawMessage(arguments)
}

// toolResultToJSON wraps a tool message's content for Gemini's
// functionResponse field, which requires a JSON object.
func toolResultToJSON(content any) json.RawMessage {
	raw, err := json.Marshal(content)
	if err != nil {
		return json.RawMessage("{}")
	}
	if len(raw) > 0 && raw[0] == '{' {
		return raw
	}
	return json.RawMessage(`{"result":` + string(raw) + `}`)
}
