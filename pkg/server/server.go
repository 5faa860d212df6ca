// Package server provides the public entry point for initializing the
// Sproutly server core.
//
// This package exists in pkg/ (not internal/) so deployment wrappers
// (serverless adapters, integration test harnesses) can compose the
// full server without going through main.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/airouter"
	"github.com/sproutly/sproutly/server/internal/api"
	"github.com/sproutly/sproutly/server/internal/api/handlers"
	"github.com/sproutly/sproutly/server/internal/care"
	"github.com/sproutly/sproutly/server/internal/chat"
	"github.com/sproutly/sproutly/server/internal/config"
	"github.com/sproutly/sproutly/server/internal/identify"
	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/retention"
	"github.com/sproutly/sproutly/server/internal/retry"
	"github.com/sproutly/sproutly/server/internal/species"
	"github.com/sproutly/sproutly/server/internal/storage"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/internal/telemetry"
	"github.com/sproutly/sproutly/server/internal/usage"
)

// Server holds the initialized Sproutly core.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the repository, exposed for composition and tests.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes every component and returns a ready Server. The
// retention janitor runs until ctx is cancelled.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()

	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objects, err := storage.NewLocalStore(cfg.Storage.BasePath, cfg.Storage.PublicBaseURL, cfg.Storage.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	// Vendor gateways
	plantID := providers.NewPlantIDGateway(cfg.Providers.PlantID.APIKey,
		providers.WithPlantIDBaseURL(cfg.Providers.PlantID.BaseURL),
		providers.WithPlantIDTimeout(cfg.Providers.PlantID.Timeout))
	gemini := providers.NewGeminiGateway(cfg.Providers.Gemini.APIKey,
		providers.WithGeminiBaseURL(cfg.Providers.Gemini.BaseURL),
		providers.WithGeminiTimeout(cfg.Providers.Gemini.Timeout))
	claude := providers.NewClaudeGateway(cfg.Providers.Claude.APIKey,
		providers.WithClaudeBaseURL(cfg.Providers.Claude.BaseURL),
		providers.WithClaudeTimeouts(cfg.Providers.Claude.Timeout, cfg.Providers.ClaudeComplexTimeout))
	openai := providers.NewOpenAIGateway(cfg.Providers.OpenAI.APIKey,
		providers.WithOpenAIBaseURL(cfg.Providers.OpenAI.BaseURL),
		providers.WithOpenAITimeouts(cfg.Providers.OpenAI.Timeout, cfg.Providers.Embedding.Timeout))

	recorder := usage.NewRecorder(dataStore)
	router := airouter.New(plantID, gemini, claude, openai, recorder, retry.Config{
		MaxAttempts: cfg.Router.MaxAttempts,
		BaseDelay:   cfg.Router.BaseDelay,
		MaxDelay:    cfg.Router.MaxDelay,
	})

	resolver := species.NewResolver(dataStore)
	identifyPipeline := identify.NewPipeline(router, resolver, objects, dataStore,
		cfg.Router.LowConfidenceThreshold, cfg.Storage.SignedURLTTL)
	assessor := identify.NewHealthAssessor(router, dataStore)
	assembler := chat.NewAssembler(dataStore, router, cfg.Context, cfg.Router.MemorySimilarityThreshold)
	chatPipeline := chat.NewPipeline(dataStore, assembler, router)

	h := &handlers.Handlers{
		Store:    dataStore,
		Identify: identifyPipeline,
		Assessor: assessor,
		Chat:     chatPipeline,
		Care:     care.NewService(dataStore),
		Quota:    usage.NewQuota(dataStore, cfg.Quotas),
		Gate:     usage.NewSlidingWindow(),
		Photos:   objects,
	}

	janitor := retention.NewJanitor(objects, cfg.Storage.TempPhotoTTL, cfg.Storage.TempPhotoTTL/4)
	go janitor.Start(ctx)

	return &Server{
		Handler:      api.NewRouter(cfg, h, dataStore),
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// newStore picks the repository backend: PostgreSQL by default, the
// in-memory store for local development without a database.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if os.Getenv("SPROUTLY_STORE") == "memory" || cfg.Database.URL == "" {
		log.Info().Msg("in-memory store initialized")
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.PoolSize)
}
