package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/epiwatch-io/platform/pkg/api"
	"github.com/epiwatch-io/platform/pkg/audit"
	"github.com/epiwatch-io/platform/pkg/common/config"
	"github.com/epiwatch-io/platform/pkg/common/database"
	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/epiwatch-io/platform/pkg/countries"
	"github.com/epiwatch-io/platform/pkg/mapping"
	"github.com/epiwatch-io/platform/pkg/match"
	"github.com/epiwatch-io/platform/pkg/normalizer"
	"github.com/epiwatch-io/platform/pkg/promotion"
	"github.com/epiwatch-io/platform/pkg/queue"
	"github.com/epiwatch-io/platform/pkg/registry"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	redisClient := database.GetRedis()

	catalog, err := countries.Load(cfg.CountryCatalogPath)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.CountryCatalogPath).
			Warn("country catalog load failed, using built-in defaults")
	}

	diseases := registry.NewRepository(db)
	mappings := mapping.NewRepository(db)
	suggestions := queue.NewRepository(db)
	trail := audit.NewRepository(db)
	for name, migrate := range map[string]func() error{
		"registry": diseases.AutoMigrate,
		"mapping":  mappings.AutoMigrate,
		"queue":    suggestions.AutoMigrate,
		"audit":    trail.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("subsystem", name).Fatal("migration failed")
		}
	}

	cache := mapping.NewCache(redisClient, cfg.MatchCacheTTL)

	var embedder match.Embedder
	var assistant match.Assistant
	if cfg.LLMEnabled {
		embedder = match.NewOpenAIEmbedder(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.EmbeddingModel,
			redisClient, cfg.LLMCacheTTL, cfg.LLMTimeout)
		assistant = match.NewOpenAIAssistant(match.AssistantConfig{
			APIKey:      cfg.LLMAPIKey,
			BaseURL:     cfg.LLMBaseURL,
			Model:       cfg.LLMModelName,
			Timeout:     cfg.LLMTimeout,
			MaxAttempts: cfg.LLMMaxAttempts,
			RateRPS:     cfg.LLMRateLimitRPS,
			RateBurst:   cfg.LLMRateBurst,
			CacheTTL:    cfg.LLMCacheTTL,
		}, redisClient)
	}

	engine := match.NewEngine(mappings, suggestions, cache, catalog, embedder, assistant, match.Config{
		FuzzyThreshold:      cfg.FuzzyThreshold,
		FuzzyShortThreshold: cfg.FuzzyShortThreshold,
		FuzzyMinMargin:      cfg.FuzzyMinMargin,
		SemanticThreshold:   cfg.SemanticThreshold,
	})
	batches := normalizer.NewService(engine, diseases, suggestions, catalog, normalizer.Config{
		Workers:          cfg.BatchWorkers,
		Deadline:         cfg.BatchDeadline,
		DefaultSentinels: cfg.MissingSentinels,
	})
	promoter := promotion.NewService(suggestions, mappings, diseases, trail, cache)

	handler := api.NewHandler(engine, batches, diseases, mappings, suggestions, promoter, trail, catalog)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1/mapper").Subrouter()
	handler.Register(apiRouter)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Mapper service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start mapper service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down mapper service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Mapper service forced to shutdown")
	}
	logger.Log.Info("Mapper service stopped")
}
