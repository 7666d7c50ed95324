package convert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/protocol"
)

// GeminiConverter translates payloads whose source protocol is the Gemini
// generateContent format.
type GeminiConverter struct{}

func NewGeminiConverter() *GeminiConverter { return &GeminiConverter{} }

func (c *GeminiConverter) Protocol() protocol.ID { return protocol.Gemini }

func (c *GeminiConverter) ConvertRequest(body []byte, target protocol.ID, model string) ([]byte, error) {
	var req geminiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse gemini request: %w", err)
	}

	switch target {
	case protocol.OpenAI:
		return json.Marshal(c.toOpenAIRequest(req, model))
	case protocol.Claude:
		return json.Marshal(c.toClaudeRequest(req, model))
	default:
		return nil, &UnsupportedError{Kind: KindRequest, From: protocol.Gemini, To: target}
	}
}

func (c *GeminiConverter) toOpenAIRequest(req geminiRequest, model string) openAIRequest {
	out := openAIRequest{Model: model}

	if req.SystemInstruction != nil {
		if text := geminiPartsText(req.SystemInstruction.Parts); text != "" {
			out.Messages = append(out.Messages, openAIMessage{Role: "system", Content: text})
		}
	}

	for _, content := range req.Contents {
		role := "user"
		if content.Role == "model" {
			role = "assistant"
		}
		msg := openAIMessage{Role: role}
		var text string
		for _, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				arguments := "{}"
				if len(part.FunctionCall.Args) > 0 {
					arguments = string(part.FunctionCall.Args)
				}
				msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
					ID:       "call_" + part.FunctionCall.Name,
					Type:     "function",
					Function: openAIFunctionCall{Name: part.FunctionCall.Name, Arguments: arguments},
				})
			case part.FunctionResponse != nil:
				out.Messages = append(out.Messages, openAIMessage{
					Role:       "tool",
					Content:    string(part.FunctionResponse.Response),
					ToolCallID: "call_" + part.FunctionResponse.Name,
				})
			case part.Text != "" && !part.Thought:
				text += part.Text
			}
		}
		msg.Content = text
		if text != "" || len(msg.ToolCalls) > 0 {
			out.Messages = append(out.Messages, msg)
		}
	}

	if cfg := req.GenerationConfig; cfg != nil {
		out.MaxTokens = cfg.MaxOutputTokens
		out.Temperature = cfg.Temperature
		out.TopP = cfg.TopP
		out.Stop = cfg.StopSequences
	}

	for _, tool := range req.Tools {
		for _, decl := range tool.FunctionDeclarations {
			out.Tools = append(out.Tools, openAITool{
				Type: "function",
				Function: openAIFunctionDef{
					Name:        decl.Name,
					Description: decl.Description,
					Parameters:  decl.Parameters,
				},
			})
		}
	}
	return out
}

func (c *GeminiConverter) toClaudeRequest(req geminiRequest, model string) claudeRequest {
	out := claudeRequest{Model: model, MaxTokens: defaultClaudeMaxTokens}

	if req.SystemInstruction != nil {
		if text := geminiPartsText(req.SystemInstruction.Parts); text != "" {
			out.System = text
		}
	}

	for _, content := range req.Contents {
		role := "user"
		if content.Role == "model" {
			role = "assistant"
		}
		var blocks []claudeContentBlock
		for _, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				blocks = append(blocks, claudeContentBlock{
					Type:  "tool_use",
					ID:    "toolu_" + part.FunctionCall.Name,
					Name:  part.FunctionCall.Name,
					Input: part.FunctionCall.Args,
				})
			case part.FunctionResponse != nil:
				blocks = append(blocks, claudeContentBlock{
					Type:      "tool_result",
					ToolUseID: "toolu_" + part.FunctionResponse.Name,
					Content:   string(part.FunctionResponse.Response),
				})
			case part.Thought:
				blocks = append(blocks, claudeContentBlock{Type: "thinking", Thinking: part.Text})
			case part.Text != "":
				blocks = append(blocks, claudeContentBlock{Type: "text", Text: part.Text})
			}
		}
		if len(blocks) > 0 {
			out.Messages = append(out.Messages, claudeMessage{Role: role, Content: blocks})
		}
	}

	if cfg := req.GenerationConfig; cfg != nil {
		if cfg.MaxOutputTokens != nil {
			out.MaxTokens = *cfg.MaxOutputTokens
		}
		out.Temperature = cfg.Temperature
		out.TopP = cfg.TopP
		out.StopSequences = cfg.StopSequences
	}

	for _, tool := range req.Tools {
		for _, decl := range tool.FunctionDeclarations {
			out.Tools = append(out.Tools, claudeTool{
				Name:        decl.Name,
				Description: decl.Description,
				InputSchema: decl.Parameters,
			})
		}
	}
	return out
}

func (c *GeminiConverter) ConvertResponse(body []byte, target protocol.ID, model string) ([]byte, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	switch target {
	case protocol.OpenAI:
		return json.Marshal(c.toOpenAIResponse(resp, model))
	case protocol.Claude:
		return json.Marshal(c.toClaudeResponse(resp, model))
	default:
		return nil, &UnsupportedError{Kind: KindResponse, From: protocol.Gemini, To: target}
	}
}

func (c *GeminiConverter) toOpenAIResponse(resp geminiResponse, model string) openAIResponse {
	if model == "" {
		model = resp.ModelVersion
	}
	out := openAIResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}
	if resp.UsageMetadata != nil {
		out.Usage = &openAIUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	for i, candidate := range resp.Candidates {
		message := openAIMessage{Role: "assistant"}
		var text string
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					arguments := "{}"
					if len(part.FunctionCall.Args) > 0 {
						arguments = string(part.FunctionCall.Args)
					}
					message.ToolCalls = append(message.ToolCalls, openAIToolCall{
						ID:       "call_" + part.FunctionCall.Name,
						Type:     "function",
						Function: openAIFunctionCall{Name: part.FunctionCall.Name, Arguments: arguments},
					})
				case !part.Thought:
					text += part.Text
				}
			}
		}
		message.Content = text

		finish := openAIFinishFromGemini(candidate.FinishReason)
		if len(message.ToolCalls) > 0 && candidate.FinishReason == "STOP" {
			finish = "tool_calls"
		}
		out.Choices = append(out.Choices, openAIChoice{Index: i, Message: &message, FinishReason: &finish})
	}

	if len(out.Choices) == 0 {
		finish := "stop"
		out.Choices = []openAIChoice{{Message: &openAIMessage{Role: "assistant", Content: ""}, FinishReason: &finish}}
	}
	return out
}

func (c *GeminiConverter) toClaudeResponse(resp geminiResponse, model string) claudeResponse {
	if model == "" {
		model = resp.ModelVersion
	}
	out := claudeResponse{
		ID:    newMessageID(),
		Type:  "message",
		Role:  "assistant",
		Model: model,
	}
	if resp.UsageMetadata != nil {
		out.Usage = &claudeUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}

	stop := "end_turn"
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					out.Content = append(out.Content, claudeContentBlock{
						Type:  "tool_use",
						ID:    "toolu_" + part.FunctionCall.Name,
						Name:  part.FunctionCall.Name,
						Input: part.FunctionCall.Args,
					})
				case part.Thought:
					out.Content = append(out.Content, claudeContentBlock{Type: "thinking", Thinking: part.Text})
				default:
					out.Content = append(out.Content, claudeContentBlock{Type: "text", Text: part.Text})
				}
			}
		}
		stop = claudeStopFromGemini(candidate.FinishReason)
		for _, block := range out.Content {
			if block.Type == "tool_use" {
				stop = "tool_use"
				break
			}
		}
	}
	if out.Content == nil {
		out.Content = []claudeContentBlock{}
	}
	out.StopReason = &stop
	return out
}

func (c *GeminiConverter) ConvertStreamChunk(chunk []byte, target protocol.ID, model string) ([]StreamEvent, error) {
	var resp geminiResponse
	if err := json.Unmarshal(chunk, &resp); err != nil {
		return nil, fmt.Errorf("parse gemini stream chunk: %w", err)
	}

	switch target {
	case protocol.OpenAI:
		return c.toOpenAIStreamEvents(resp, model)
	case protocol.Claude:
		return c.toClaudeStreamEvents(resp)
	default:
		return nil, &UnsupportedError{Kind: KindStreamChunk, From: protocol.Gemini, To: target}
	}
}

func (c *GeminiConverter) toOpenAIStreamEvents(resp geminiResponse, model string) ([]StreamEvent, error) {
	if model == "" {
		model = resp.ModelVersion
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}
	candidate := resp.Candidates[0]

	chunk := openAIResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
	}

	delta := &openAIDelta{}
	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				index := i
				arguments := ""
				if len(part.FunctionCall.Args) > 0 {
					arguments = string(part.FunctionCall.Args)
				}
				delta.ToolCalls = append(delta.ToolCalls, openAIToolCall{
					Index:    &index,
					ID:       "call_" + part.FunctionCall.Name,
					Type:     "function",
					Function: openAIFunctionCall{Name: part.FunctionCall.Name, Arguments: arguments},
				})
			case part.Thought:
				delta.ReasoningContent += part.Text
			default:
				delta.Content += part.Text
			}
		}
	}

	choice := openAIChoice{Delta: delta}
	if candidate.FinishReason != "" {
		finish := openAIFinishFromGemini(candidate.FinishReason)
		choice.FinishReason = &finish
		if resp.UsageMetadata != nil {
			chunk.Usage = &openAIUsage{
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      resp.UsageMetadata.TotalTokenCount,
			}
		}
	} else if delta.Content == "" && delta.ReasoningContent == "" && len(delta.ToolCalls) == 0 {
		return nil, nil
	}
	chunk.Choices = []openAIChoice{choice}

	ev, err := marshalEvent("", chunk)
	if err != nil {
		return nil, err
	}
	return []StreamEvent{ev}, nil
}

// toClaudeStreamEvents emits content deltas and a terminal message_delta.
// Gemini chunks carry no start marker, so no message_start is produced;
// clients that need one synthesize it themselves.
func (c *GeminiConverter) toClaudeStreamEvents(resp geminiResponse) ([]StreamEvent, error) {
	if len(resp.Candidates) == 0 {
		return nil, nil
	}
	candidate := resp.Candidates[0]

	var events []StreamEvent
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			var delta claudeStreamDelta
			switch {
			case part.FunctionCall != nil:
				index := 0
				ev, err := marshalEvent("content_block_start", claudeStreamEvent{
					Type:  "content_block_start",
					Index: &index,
					ContentBlock: &claudeContentBlock{
						Type:  "tool_use",
						ID:    "toolu_" + part.FunctionCall.Name,
						Name:  part.FunctionCall.Name,
						Input: part.FunctionCall.Args,
					},
				})
				if err != nil {
					return nil, err
				}
				events = append(events, ev)
				continue
			case part.Thought:
				delta = claudeStreamDelta{Type: "thinking_delta", Thinking: part.Text}
			case part.Text != "":
				delta = claudeStreamDelta{Type: "text_delta", Text: part.Text}
			default:
				continue
			}
			index := 0
			ev, err := marshalEvent("content_block_delta", claudeStreamEvent{
				Type:  "content_block_delta",
				Index: &index,
				Delta: &delta,
			})
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}

	if candidate.FinishReason != "" {
		stop := claudeStopFromGemini(candidate.FinishReason)
		event := claudeStreamEvent{
			Type:  "message_delta",
			Delta: &claudeStreamDelta{StopReason: &stop},
		}
		if resp.UsageMetadata != nil {
			event.Usage = &claudeUsage{
				InputTokens:  resp.UsageMetadata.PromptTokenCount,
				OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			}
		}
		ev, err := marshalEvent("message_delta", event)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)

		stopEv, err := marshalEvent("message_stop", claudeStreamEvent{Type: "message_stop"})
		if err != nil {
			return nil, err
		}
		events = append(events, stopEv)
	}
	return events, nil
}

func (c *GeminiConverter) ConvertModelList(body []byte, target protocol.ID) ([]byte, error) {
	var list geminiModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse gemini model list: %w", err)
	}

	switch target {
	case protocol.OpenAI:
		out := openAIModelList{Object: "list", Data: make([]openAIModel, 0, len(list.Models))}
		for _, m := range list.Models {
			out.Data = append(out.Data, openAIModel{ID: geminiModelID(m.Name), Object: "model", OwnedBy: "google"})
		}
		return json.Marshal(out)
	case protocol.Claude:
		out := claudeModelList{Data: make([]claudeModel, 0, len(list.Models))}
		for _, m := range list.Models {
			out.Data = append(out.Data, claudeModel{Type: "model", ID: geminiModelID(m.Name), DisplayName: m.DisplayName})
		}
		return json.Marshal(out)
	default:
		return nil, &UnsupportedError{Kind: KindModelList, From: protocol.Gemini, To: target}
	}
}

// defaultClaudeMaxTokens fills max_tokens when the source request never
// set a limit; the Claude API requires the field.
const defaultClaudeMaxTokens = 4096

func geminiPartsText(parts []geminiPart) string {
	var out string
	for _, p := range parts {
		out += p.Text
	}
	return out
}

// geminiModelID strips the "models/" resource prefix.
func geminiModelID(name string) string {
	return strings.TrimPrefix(name, "models/")
}
