package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Davincible/claude-code-open/internal/auth/oauth"
	"github.com/Davincible/claude-code-open/internal/config"
	"github.com/Davincible/claude-code-open/internal/handlers"
	"github.com/Davincible/claude-code-open/internal/middleware"
	"github.com/Davincible/claude-code-open/internal/orchestrator"
	"github.com/Davincible/claude-code-open/internal/providers"
	"github.com/Davincible/claude-code-open/internal/reqchain"
	"github.com/Davincible/claude-code-open/internal/telemetry"
	"github.com/Davincible/claude-code-open/internal/thoughtsig"
	"github.com/Davincible/claude-code-open/internal/upstream"
)

type Server struct {
	config  *config.Manager
	baseDir string
	logger  *slog.Logger
	server  *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		config:  configManager,
		baseDir: filepath.Dir(configManager.GetPath()),
		logger:  logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux, err := s.setupRoutes(cfg)
	if err != nil {
		return fmt.Errorf("setup routes: %w", err)
	}

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

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

func (s *Server) setupRoutes(cfg *config.Config) (*http.ServeMux, error) {
	registry, err := providers.NewRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	clients := upstream.NewFactory()
	rec := telemetry.New(s.logger)
	cache := thoughtsig.New()
	chain := reqchain.New(s.logger, reqchain.NewThoughtSignature(cache))

	oauthFactory := func(d providers.Descriptor) (*oauth.Manager, error) {
		storagePath := d.Auth.OAuthStoragePath
		if !filepath.IsAbs(storagePath) {
			storagePath = filepath.Join(s.baseDir, storagePath)
		}
		store := oauth.NewFileStore(storagePath)
		manager := oauth.NewManager(store, http.DefaultClient, d.Auth.TokenURL, d.Auth.ClientID, s.logger)
		return manager, nil
	}

	orch := orchestrator.New(registry, clients, chain, rec, oauthFactory, s.logger)

	messagesHandler := http.HandlerFunc(orch.ServeMessages)
	healthHandler := handlers.NewHealthHandler(registry, s.logger)
	modelsHandler := handlers.NewModelsHandler(registry, nil, s.logger)
	tokenCountHandler := handlers.NewTokenCountHandler(s.logger)
	testConnHandler := handlers.NewTestConnectionHandler(s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux := http.NewServeMux()
	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/test-connection", middlewareSet.HealthChain().Handler(testConnHandler))
	mux.Handle("/metrics", middlewareSet.HealthChain().Handler(telemetry.Handler()))
	mux.Handle("/v1/models", middlewareSet.DefaultChain().Handler(modelsHandler))
	mux.Handle("/v1/messages/count_tokens", middlewareSet.DefaultChain().Handler(tokenCountHandler))
	mux.Handle("/v1/messages", middlewareSet.DefaultChain().Handler(messagesHandler))

	return mux, nil
}
