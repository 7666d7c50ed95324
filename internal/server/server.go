package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/conversation"
	"github.com/modelgate/modelgate/internal/convert"
	"github.com/modelgate/modelgate/internal/handlers"
	"github.com/modelgate/modelgate/internal/middleware"
	"github.com/modelgate/modelgate/internal/pool"
	"github.com/modelgate/modelgate/internal/protocol"
	"github.com/modelgate/modelgate/internal/upstream"
	"github.com/modelgate/modelgate/internal/usagedb"
)

type Server struct {
	config *config.Manager
	deps   *handlers.Deps
	logger *slog.Logger
	server *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) (*Server, error) {
	cfg := configManager.Get()

	pm := pool.NewManager()
	if cfg.ProvidersFile != "" {
		pools, err := config.LoadProviderPools(cfg.ProvidersFile)
		if err != nil {
			return nil, fmt.Errorf("load provider pools: %w", err)
		}
		pm.Reinitialize(pools)
	}

	models := map[string][]config.ModelInfo{}
	if cfg.ModelsFile != "" {
		loaded, err := config.LoadModels(cfg.ModelsFile)
		if err != nil {
			return nil, fmt.Errorf("load models catalogue: %w", err)
		}
		models = loaded
	}

	var usage *usagedb.Store
	if cfg.UsageDB != "" {
		store, err := usagedb.Open(cfg.UsageDB)
		if err != nil {
			return nil, fmt.Errorf("open usage db: %w", err)
		}
		usage = store
	}

	deps := &handlers.Deps{
		Config:   configManager,
		Pool:     pm,
		Registry: convert.NewRegistry(),
		Upstream: upstream.NewClient(logger,
			upstream.WithRetry(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay())),
		Conversations: conversation.NewLogger(
			conversation.Mode(cfg.ConversationLog.Mode), cfg.ConversationLog.Dir, logger),
		Usage:  usage,
		Models: models,
		Logger: logger,
	}

	return &Server{
		config: configManager,
		deps:   deps,
		logger: logger,
	}, nil
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown. SIGHUP reloads
	// the provider pool document without dropping connections.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	for done := false; !done; {
		select {
		case <-reload:
			if err := s.ReloadPools(); err != nil {
				s.logger.Error("Pool reload failed", "error", err)
			}
		case <-quit:
			done = true
		}
	}

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// ReloadPools re-reads the provider pool document and swaps the live
// pools atomically.
func (s *Server) ReloadPools() error {
	cfg := s.config.Get()
	if cfg.ProvidersFile == "" {
		return nil
	}
	pools, err := config.LoadProviderPools(cfg.ProvidersFile)
	if err != nil {
		return fmt.Errorf("reload provider pools: %w", err)
	}
	s.deps.Pool.Reinitialize(pools)
	s.logger.Info("Provider pools reloaded", "types", len(pools))
	return nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(s.deps.Pool, s.logger)
	openAIChat := handlers.NewChatHandler(protocol.OpenAI, s.deps)
	claudeChat := handlers.NewChatHandler(protocol.Claude, s.deps)
	geminiChat := handlers.NewChatHandler(protocol.Gemini, s.deps)
	openAIModels := handlers.NewModelsHandler(protocol.OpenAI, s.deps)
	claudeModels := handlers.NewModelsHandler(protocol.Claude, s.deps)
	geminiModels := handlers.NewModelsHandler(protocol.Gemini, s.deps)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	protected := middlewareSet.DefaultChain()

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/v1/chat/completions", protected.Handler(openAIChat))
	mux.Handle("/v1/messages", protected.Handler(claudeChat))
	// Anthropic SDKs hit the same listing path as OpenAI ones; the auth
	// carrier tells them apart.
	mux.Handle("/v1/models", protected.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("anthropic-version") != "" || r.Header.Get("x-api-key") != "" {
			claudeModels.ServeHTTP(w, r)
			return
		}
		openAIModels.ServeHTTP(w, r)
	})))

	// Gemini encodes model and method in the path, so one prefix route
	// covers generateContent, streamGenerateContent, and model listing.
	mux.Handle("/v1beta/", protected.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1beta/models" || r.URL.Path == "/v1beta/models/" {
			geminiModels.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/v1beta/models/") {
			geminiChat.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})))

	return mux
}
