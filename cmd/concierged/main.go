// Concierge - conversational orchestration server for business operations.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/lumenstack/concierge/capabilities"
	"github.com/lumenstack/concierge/capability"
	"github.com/lumenstack/concierge/intent"
	"github.com/lumenstack/concierge/internal/config"
	"github.com/lumenstack/concierge/internal/httpapi"
	"github.com/lumenstack/concierge/logging"
	"github.com/lumenstack/concierge/memory"
	"github.com/lumenstack/concierge/memory/sqlite"
	"github.com/lumenstack/concierge/provider"
	"github.com/lumenstack/concierge/provider/anthropic"
	"github.com/lumenstack/concierge/provider/openai"
	"github.com/lumenstack/concierge/router"
	"github.com/lumenstack/concierge/session"
	"github.com/lumenstack/concierge/workflow"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

func main() {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(slogger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.DefaultLoggerConfig())

	slog.Info("Starting server", "port", cfg.Port, "providers", cfg.Providers)

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("Failed to construct providers", "error", err)
		os.Exit(1)
	}

	gateway := provider.NewGateway(providers, func(c *provider.Config) {
		c.ProviderOrder = cfg.Providers
		c.TimeoutPerProvider = cfg.ProviderTimeout
		c.Logger = logger
	})

	sessions := session.NewInMemoryStore()

	registry := capability.NewRegistry()
	if err := capabilities.RegisterDefaults(registry); err != nil {
		slog.Error("Failed to register capabilities", "error", err)
		os.Exit(1)
	}
	slog.Info("Capabilities registered", "labels", registry.Labels())

	dispatcher := router.New(registry, func(o *router.Options) {
		o.ConfidenceThreshold = cfg.ConfidenceThreshold
		o.Logger = logger
	})

	engineOpts := []func(o *workflow.Options){func(o *workflow.Options) {
		o.SessionStore = sessions
		o.TurnTimeout = cfg.TurnTimeout
		o.RecallK = cfg.RecallK
		o.Logger = logger
	}}

	if cfg.DBPath != "" {
		store, err := sqlite.New(cfg.DBPath, gateway)
		if err != nil {
			slog.Error("Failed to initialize memory database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				slog.Error("Failed to close memory database", "error", closeErr)
			}
		}()
		if err := store.Ping(context.Background()); err != nil {
			slog.Error("Memory database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Memory database connected", "path", cfg.DBPath)
		engineOpts = append(engineOpts, func(o *workflow.Options) { o.MemoryStore = store })
	} else {
		slog.Info("Using in-memory memory store (DB_PATH not set)")
		engineOpts = append(engineOpts, func(o *workflow.Options) {
			o.MemoryStore = memory.NewInMemoryStore(gateway)
		})
	}

	engine := workflow.New(gateway, intent.NewClassifier(gateway, func(o *intent.Options) {
		o.Logger = logger
	}), dispatcher, engineOpts...)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	httpapi.NewHandler(engine, sessions, logger).RegisterRoutes(r)

	// WebSocket connections need long-lived writes, so no WriteTimeout.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// buildProviders constructs the configured provider adapters in failover
// order. Groq and Ollama share the OpenAI-compatible adapter.
func buildProviders(cfg *config.Config) ([]provider.Provider, error) {
	var providers []provider.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "openai":
			providers = append(providers, openai.New(func(o *openai.Options) {
				o.APIKey = cfg.OpenAIAPIKey
			}))
		case "groq":
			providers = append(providers, openai.New(func(o *openai.Options) {
				o.Name = "groq"
				o.BaseURL = groqBaseURL
				o.APIKey = cfg.GroqAPIKey
				o.Model = "llama-3.3-70b-versatile"
			}))
		case "ollama":
			providers = append(providers, openai.New(func(o *openai.Options) {
				o.Name = "ollama"
				o.BaseURL = cfg.OllamaBaseURL
				o.APIKey = "ollama"
				o.Model = "llama3.1"
				o.EmbedModel = "nomic-embed-text"
			}))
		case "anthropic":
			providers = append(providers, anthropic.New(func(o *anthropic.Options) {
				o.APIKey = cfg.AnthropicAPIKey
			}))
		}
	}
	return providers, nil
}
