package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/modelgate/modelgate/internal/protocol"
)

// ModelsHandler aggregates the configured model catalogue across all
// provider types into one list, in the caller's protocol shape. Every
// model id carries the provider's bracket prefix so clients can route a
// later generation request back to the same provider.
type ModelsHandler struct {
	clientProtocol protocol.ID
	deps           *Deps
}

func NewModelsHandler(clientProtocol protocol.ID, deps *Deps) *ModelsHandler {
	return &ModelsHandler{clientProtocol: clientProtocol, deps: deps}
}

type modelEntry struct {
	id   string
	name string
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var entries []modelEntry

	providerTypes := make([]string, 0, len(h.deps.Models))
	for providerType := range h.deps.Models {
		providerTypes = append(providerTypes, providerType)
	}
	sort.Strings(providerTypes)

	for _, providerType := range providerTypes {
		alias := protocol.DisplayAlias(providerType)
		for _, m := range h.deps.Models[providerType] {
			name := m.Name
			if name == "" {
				name = m.ID
			}
			entries = append(entries, modelEntry{
				id:   protocol.AddModelPrefix(m.ID, alias),
				name: protocol.AddModelPrefix(name, alias),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	var payload any
	switch h.clientProtocol {
	case protocol.Gemini:
		models := make([]map[string]string, 0, len(entries))
		for _, e := range entries {
			models = append(models, map[string]string{
				"name":        "models/" + e.id,
				"displayName": e.name,
			})
		}
		payload = map[string]any{"models": models}
	case protocol.Claude:
		models := make([]map[string]string, 0, len(entries))
		for _, e := range entries {
			models = append(models, map[string]string{
				"type":         "model",
				"id":           e.id,
				"display_name": e.name,
			})
		}
		payload = map[string]any{"data": models}
	default:
		models := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			models = append(models, map[string]any{
				"id":       e.id,
				"object":   "model",
				"owned_by": "modelgate",
			})
		}
		payload = map[string]any{"object": "list", "data": models}
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.deps.Logger.Error("Failed to write model list", "error", err)
	}
}
