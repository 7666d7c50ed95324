package strategy

import (
	"encoding/json"
	"strings"

	"github.com/modelgate/modelgate/internal/protocol"
)

type geminiStrategy struct{}

func (geminiStrategy) Protocol() protocol.ID { return protocol.Gemini }

// ExtractModelAndStream reads both out of the URL path: Gemini requests
// name the model as a path resource and select streaming by method, e.g.
// /v1beta/models/gemini-2.0-flash:streamGenerateContent.
func (geminiStrategy) ExtractModelAndStream(_ []byte, path string) (string, bool) {
	const marker = "/models/"
	i := strings.Index(path, marker)
	if i == -1 {
		return "", false
	}
	rest := path[i+len(marker):]

	model, method, found := strings.Cut(rest, ":")
	if !found {
		return model, false
	}
	if j := strings.IndexAny(method, "/?"); j != -1 {
		method = method[:j]
	}
	return model, method == "streamGenerateContent"
}

func (geminiStrategy) ExtractPromptText(body []byte) string {
	var probe struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	for i := len(probe.Contents) - 1; i >= 0; i-- {
		if probe.Contents[i].Role == "user" || probe.Contents[i].Role == "" {
			var out string
			for _, p := range probe.Contents[i].Parts {
				out += p.Text
			}
			return out
		}
	}
	return ""
}

func (geminiStrategy) ExtractResponseText(body []byte) string {
	var probe struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text    string `json:"text"`
					Thought bool   `json:"thought"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || len(probe.Candidates) == 0 {
		return ""
	}
	var out string
	for _, p := range probe.Candidates[0].Content.Parts {
		if !p.Thought {
			out += p.Text
		}
	}
	return out
}

func (geminiStrategy) ExtractStreamText(chunk []byte) string {
	return geminiStrategy{}.ExtractResponseText(chunk)
}

func (geminiStrategy) ApplySystemPrompt(body []byte, prompt, mode string) ([]byte, error) {
	if prompt == "" {
		return body, nil
	}
	doc, err := unmarshalObject(body)
	if err != nil {
		return nil, err
	}

	existing := ""
	if si, ok := doc["systemInstruction"].(map[string]any); ok {
		existing = contentText(si["parts"])
	}
	doc["systemInstruction"] = map[string]any{
		"parts": []any{map[string]any{"text": mergeSystem(existing, prompt, mode)}},
	}
	return json.Marshal(doc)
}
