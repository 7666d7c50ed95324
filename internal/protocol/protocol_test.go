package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromProviderType(t *testing.T) {
	tests := []struct {
		providerType string
		expected     ID
	}{
		{"openai-custom", OpenAI},
		{"openai-qwen-oauth", OpenAI},
		{"claude-custom", Claude},
		{"claude-kiro-oauth", Claude},
		{"gemini-cli-oauth", Gemini},
		{"openaiResponses-custom", OpenAIResponses},
		{"ollama", Ollama},
	}

	for _, tt := range tests {
		t.Run(tt.providerType, func(t *testing.T) {
			assert.Equal(t, tt.expected, FromProviderType(tt.providerType))
		})
	}
}

func TestID_EventTyped(t *testing.T) {
	assert.True(t, Claude.EventTyped())
	assert.True(t, OpenAIResponses.EventTyped())
	assert.False(t, OpenAI.EventTyped())
	assert.False(t, Gemini.EventTyped())
}

func TestAddModelPrefix_RoundTrip(t *testing.T) {
	models := []string{"gpt-4", "claude-3-5-sonnet", "gemini-2.0-flash", "o3-mini"}
	aliases := []string{"openai", "openai-anyrouter", "Claude-Kiro"}

	for _, model := range models {
		for _, alias := range aliases {
			prefixed := AddModelPrefix(model, alias)
			assert.Equal(t, model, RemoveModelPrefix(prefixed))
			// Idempotency: prefixing twice changes nothing.
			assert.Equal(t, prefixed, AddModelPrefix(prefixed, alias))
		}
	}
}

func TestRemoveModelPrefix_Unprefixed(t *testing.T) {
	assert.Equal(t, "gpt-4", RemoveModelPrefix("gpt-4"))
	assert.Equal(t, "", RemoveModelPrefix(""))
}

func TestParseModelPrefix(t *testing.T) {
	info, ok := ParseModelPrefix("[openai] gpt-4")
	assert.True(t, ok)
	assert.Equal(t, "openai", info.Alias)
	assert.Empty(t, info.Vendor)

	info, ok = ParseModelPrefix("[openai-anyrouter] gpt-4")
	assert.True(t, ok)
	assert.Equal(t, "openai", info.Alias)
	assert.Equal(t, "anyrouter", info.Vendor)

	_, ok = ParseModelPrefix("gpt-4")
	assert.False(t, ok)
}

func TestDisplayAlias(t *testing.T) {
	tests := []struct {
		providerType string
		expected     string
	}{
		{"openai-custom", "OpenAI"},
		{"claude-custom", "Claude"},
		{"claude-kiro-oauth", "Claude-Kiro"},
		{"gemini-cli-oauth", "Gemini"},
		{"openai-custom-anyrouter", "OpenAI-Anyrouter"},
	}

	for _, tt := range tests {
		t.Run(tt.providerType, func(t *testing.T) {
			assert.Equal(t, tt.expected, DisplayAlias(tt.providerType))
		})
	}
}
