package strategy

import (
	"encoding/json"

	"github.com/modelgate/modelgate/internal/protocol"
)

type claudeStrategy struct{}

func (claudeStrategy) Protocol() protocol.ID { return protocol.Claude }

func (claudeStrategy) ExtractModelAndStream(body []byte, _ string) (string, bool) {
	var probe struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Model, probe.Stream
}

func (claudeStrategy) ExtractPromptText(body []byte) string {
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

func (claudeStrategy) ExtractResponseText(body []byte) string {
	var probe struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	var out string
	for _, block := range probe.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

func (claudeStrategy) ExtractStreamText(chunk []byte) string {
	var probe struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(chunk, &probe); err != nil {
		return ""
	}
	if probe.Type == "content_block_delta" && probe.Delta.Type == "text_delta" {
		return probe.Delta.Text
	}
	return ""
}

func (claudeStrategy) ApplySystemPrompt(body []byte, prompt, mode string) ([]byte, error) {
	if prompt == "" {
		return body, nil
	}
	doc, err := unmarshalObject(body)
	if err != nil {
		return nil, err
	}

	doc["system"] = mergeSystem(contentText(doc["system"]), prompt, mode)
	return json.Marshal(doc)
}
