package strategy

import (
	"encoding/json"

	"github.com/modelgate/modelgate/internal/protocol"
)

type openAIStrategy struct{}

func (openAIStrategy) Protocol() protocol.ID { return protocol.OpenAI }

func (openAIStrategy) ExtractModelAndStream(body []byte, _ string) (string, bool) {
	var probe struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Model, probe.Stream
}

func (openAIStrategy) ExtractPromptText(body []byte) string {
	var probe struct {
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	for i := len(probe.Messages) - 1; i >= 0; i-- {
		if probe.Messages[i].Role == "user" {
			return contentText(probe.Messages[i].Content)
		}
	}
	return ""
}

func (openAIStrategy) ExtractResponseText(body []byte) string {
	var probe struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || len(probe.Choices) == 0 {
		return ""
	}
	return contentText(probe.Choices[0].Message.Content)
}

func (openAIStrategy) ExtractStreamText(chunk []byte) string {
	var probe struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(chunk, &probe); err != nil || len(probe.Choices) == 0 {
		return ""
	}
	return probe.Choices[0].Delta.Content
}

func (openAIStrategy) ApplySystemPrompt(body []byte, prompt, mode string) ([]byte, error) {
	if prompt == "" {
		return body, nil
	}
	doc, err := unmarshalObject(body)
	if err != nil {
		return nil, err
	}

	messages, _ := doc["messages"].([]any)
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok || msg["role"] != "system" {
			continue
		}
		msg["content"] = mergeSystem(contentText(msg["content"]), prompt, mode)
		return json.Marshal(doc)
	}

	system := map[string]any{"role": "system", "content": prompt}
	doc["messages"] = append([]any{system}, messages...)
	return json.Marshal(doc)
}
