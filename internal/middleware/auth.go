package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelgate/modelgate/internal/config"
)

type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

func NewAuthMiddleware(config *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		config: config,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Warn("Authentication failed", "error", err, "remote_addr", r.RemoteAddr)
			http.Error(w, "API key not authorized", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// authenticate accepts any of the auth carriers the three client
// families use: Bearer token, key query parameter, x-goog-api-key, or
// x-api-key.
func (am *AuthMiddleware) authenticate(r *http.Request) error {
	cfg := am.config.Get()

	if r.URL.Path == "/health" || cfg.APIKey == "" {
		return nil
	}

	for _, token := range requestTokens(r) {
		if token == cfg.APIKey {
			return nil
		}
	}

	return errors.New("no matching API key in request")
}

func requestTokens(r *http.Request) []string {
	var tokens []string

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokens = append(tokens, strings.TrimPrefix(auth, "Bearer "))
	}
	if key := r.URL.Query().Get("key"); key != "" {
		tokens = append(tokens, key)
	}
	if key := r.Header.Get("x-goog-api-key"); key != "" {
		tokens = append(tokens, key)
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		tokens = append(tokens, key)
	}

	return tokens
}
