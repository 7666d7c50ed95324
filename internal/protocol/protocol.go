// Package protocol identifies LLM wire-format families and the provider
// types built on top of them.
package protocol

import "strings"

// ID is a wire-format family identifier.
type ID string

const (
	OpenAI          ID = "openai"
	Claude          ID = "claude"
	Gemini          ID = "gemini"
	OpenAIResponses ID = "openaiResponses"
	Ollama          ID = "ollama"
)

// Known provider type keys. A provider type names a configured upstream
// family; its protocol is the part before the first hyphen.
const (
	ProviderOpenAICustom = "openai-custom"
	ProviderClaudeCustom = "claude-custom"
	ProviderClaudeKiro   = "claude-kiro-oauth"
	ProviderGeminiCLI    = "gemini-cli-oauth"
	ProviderQwen         = "openai-qwen-oauth"
)

// FromProviderType derives the protocol family from a provider type key,
// e.g. "openai-custom" -> "openai". A key without a hyphen is already a
// protocol identifier.
func FromProviderType(providerType string) ID {
	if i := strings.Index(providerType, "-"); i != -1 {
		return ID(providerType[:i])
	}
	return ID(providerType)
}

// Valid reports whether p is one of the supported protocol families.
func (p ID) Valid() bool {
	switch p {
	case OpenAI, Claude, Gemini, OpenAIResponses, Ollama:
		return true
	}
	return false
}

// EventTyped reports whether the protocol's SSE stream names each chunk
// with an "event:" frame before the data frame.
func (p ID) EventTyped() bool {
	return p == Claude || p == OpenAIResponses
}
