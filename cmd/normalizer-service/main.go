package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epiwatch-io/platform/pkg/common/config"
	"github.com/epiwatch-io/platform/pkg/common/database"
	"github.com/epiwatch-io/platform/pkg/common/kafka"
	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/epiwatch-io/platform/pkg/common/models"
	"github.com/epiwatch-io/platform/pkg/countries"
	"github.com/epiwatch-io/platform/pkg/mapping"
	"github.com/epiwatch-io/platform/pkg/match"
	"github.com/epiwatch-io/platform/pkg/normalizer"
	"github.com/epiwatch-io/platform/pkg/queue"
	"github.com/epiwatch-io/platform/pkg/registry"
)

// NormalizerService consumes raw report batches off the bus, resolves their
// disease names and republishes the normalized rows.
type NormalizerService struct {
	batches   *normalizer.Service
	publisher *normalizer.Publisher
	catalog   countries.Catalog
}

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
	for name, migrate := range map[string]func() error{
		"registry": diseases.AutoMigrate,
		"mapping":  mappings.AutoMigrate,
		"queue":    suggestions.AutoMigrate,
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

	service := &NormalizerService{
		batches: normalizer.NewService(engine, diseases, suggestions, catalog, normalizer.Config{
			Workers:          cfg.BatchWorkers,
			Deadline:         cfg.BatchDeadline,
			DefaultSentinels: cfg.MissingSentinels,
		}),
		publisher: normalizer.NewPublisher(
			kafka.NewProducer(cfg.NormalizedTopic),
			kafka.NewProducer(cfg.UnresolvedTopic),
			kafka.NewProducer(cfg.DeadLetterTopic),
		),
		catalog: catalog,
	}
	defer service.publisher.Close()

	consumer := kafka.NewConsumer(cfg.RawBatchTopic, "normalizer-service")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Consume(ctx, service.processEvent); err != nil && err != context.Canceled {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	// Minimal HTTP surface for probes and ad-hoc batch submission.
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	http.HandleFunc("/api/v1/normalize", service.handleNormalize)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Normalizer service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start normalizer service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down normalizer service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Normalizer service forced to shutdown")
	}
	logger.Log.Info("Normalizer service stopped")
}

// rawBatchPayload is the wire shape of a raw-batch event's data field.
type rawBatchPayload struct {
	CountryCode string             `json:"country_code"`
	Strategy    string             `json:"strategy"`
	Rows        []models.RawReport `json:"rows"`
}

func (s *NormalizerService) processEvent(ctx context.Context, event models.Event) error {
	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Info("Processing raw batch")

	payload, err := decodeBatch(event.Data)
	if err != nil {
		// A malformed batch will never parse on retry; drop it with a log.
		logger.Log.WithError(err).WithField("event_id", event.ID).
			Error("discarding malformed raw batch")
		return nil
	}

	result, err := s.batches.Normalize(ctx, payload.CountryCode, payload.Rows, s.strategyFor(payload))
	if err != nil {
		return fmt.Errorf("normalize batch %s: %w", event.ID, err)
	}

	s.publisher.Publish(ctx, result)
	return nil
}

func (s *NormalizerService) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload rawBatchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	result, err := s.batches.Normalize(r.Context(), payload.CountryCode, payload.Rows, s.strategyFor(payload))
	if err != nil {
		logger.Log.WithError(err).Error("normalization failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.publisher.Publish(r.Context(), result)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *NormalizerService) strategyFor(payload rawBatchPayload) models.Strategy {
	if payload.Strategy != "" {
		return models.ParseStrategy(payload.Strategy)
	}
	if country, err := s.catalog.Lookup(payload.CountryCode); err == nil {
		return models.ParseStrategy(country.DefaultStrategy)
	}
	return models.StrategySemantic
}

// decodeBatch round-trips the loosely typed event data through JSON into the
// concrete payload shape.
func decodeBatch(data map[string]interface{}) (rawBatchPayload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return rawBatchPayload{}, err
	}
	var payload rawBatchPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return rawBatchPayload{}, err
	}
	if payload.CountryCode == "" {
		return rawBatchPayload{}, fmt.Errorf("raw batch missing country_code")
	}
	return payload, nil
}
