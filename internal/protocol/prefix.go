package protocol

import (
	"regexp"
	"strings"
)

// Bracket prefixes tag model names with routing hints for clients, e.g.
// "[OpenAI-AnyRouter] gpt-4". They are display artifacts only and are
// stripped before a model name goes upstream.

var prefixPattern = regexp.MustCompile(`^\[(.*?)\]\s*`)

// AddModelPrefix prepends "[alias] " to a model name. Names that already
// carry a bracket prefix are returned unchanged, so the operation is
// idempotent.
func AddModelPrefix(model, alias string) string {
	if model == "" || alias == "" {
		return model
	}
	if prefixPattern.MatchString(model) {
		return model
	}
	return "[" + alias + "] " + model
}

// RemoveModelPrefix strips a leading bracket prefix, returning the bare
// model name.
func RemoveModelPrefix(model string) string {
	if model == "" {
		return model
	}
	return prefixPattern.ReplaceAllString(model, "")
}

// PrefixInfo is the routing hint parsed out of a bracket prefix.
type PrefixInfo struct {
	Alias  string
	Vendor string
}

// ParseModelPrefix extracts the routing hint from a prefixed model name.
// "[openai] gpt-4" yields {Alias: "openai"}; "[openai-anyrouter] gpt-4"
// yields {Alias: "openai", Vendor: "anyrouter"}. The second return value
// is false when the name has no prefix.
func ParseModelPrefix(model string) (PrefixInfo, bool) {
	m := prefixPattern.FindStringSubmatch(model)
	if m == nil || m[1] == "" {
		return PrefixInfo{}, false
	}
	tag := m[1]
	if i := strings.Index(tag, "-"); i != -1 {
		return PrefixInfo{Alias: tag[:i], Vendor: tag[i+1:]}, true
	}
	return PrefixInfo{Alias: tag}, true
}

// DisplayAlias builds the client-facing alias for a provider type:
// "openai-custom" -> "OpenAI", "claude-kiro-oauth" -> "Claude-Kiro",
// "gemini-cli-oauth" -> "Gemini CLI".
func DisplayAlias(providerType string) string {
	parts := strings.Split(providerType, "-")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	switch len(parts) {
	case 1:
		return capitalize(parts[0])
	case 2:
		if parts[1] == "custom" {
			return capitalize(parts[0])
		}
		source := capitalize(parts[1])
		if parts[1] == "oauth" {
			source = "CLI"
		}
		return capitalize(parts[0]) + " " + source
	default:
		if parts[len(parts)-1] == "oauth" {
			parts = parts[:len(parts)-1]
		}
		vendor := make([]string, 0, len(parts)-1)
		for _, p := range parts[1:] {
			if p == "custom" || p == "cli" {
				continue
			}
			vendor = append(vendor, capitalize(p))
		}
		if len(vendor) == 0 {
			return capitalize(parts[0])
		}
		return capitalize(parts[0]) + "-" + strings.Join(vendor, "-")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if strings.EqualFold(s, "openai") {
		return "OpenAI"
	}
	if strings.EqualFold(s, "cli") {
		return "CLI"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
