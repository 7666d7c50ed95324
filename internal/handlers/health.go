package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/modelgate/modelgate/internal/pool"
)

type HealthHandler struct {
	pool   *pool.Manager
	logger *slog.Logger
}

func NewHealthHandler(pool *pool.Manager, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		pool:   pool,
		logger: logger,
	}
}

type providerHealth struct {
	Total    int `json:"total"`
	Healthy  int `json:"healthy"`
	Disabled int `json:"disabled"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]providerHealth)
	for providerType, creds := range h.pool.Snapshot() {
		ph := providerHealth{Total: len(creds)}
		for _, c := range creds {
			if c.Healthy {
				ph.Healthy++
			}
			if c.Disabled {
				ph.Disabled++
			}
		}
		providers[providerType] = ph
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	payload := map[string]any{
		"status":    "ok",
		"providers": providers,
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to write health check response", "error", err)
	}
}
