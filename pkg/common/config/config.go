package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers         []string
	KafkaGroupID         string
	RawBatchTopic        string
	NormalizedTopic      string
	UnresolvedTopic      string
	DeadLetterTopic      string

	// Country catalog
	CountryCatalogPath string

	// Match engine
	FuzzyThreshold      float64
	FuzzyShortThreshold float64
	FuzzyMinMargin      float64
	SemanticThreshold   float64
	MatchCacheTTL       time.Duration

	// LLM-assisted stage
	LLMEnabled      bool
	LLMAPIKey       string
	LLMBaseURL      string
	LLMModelName    string
	EmbeddingModel  string
	LLMTimeout      time.Duration
	LLMMaxAttempts  int
	LLMRateLimitRPS int
	LLMRateBurst    int
	LLMCacheTTL     time.Duration

	// Batch normalizer
	BatchWorkers     int
	BatchDeadline    time.Duration
	MissingSentinels []float64
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "epiwatch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "epiwatch123"),
		PostgresDB:       getEnv("POSTGRES_DB", "epiwatch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "epiwatch-platform"),
		RawBatchTopic:   getEnv("KAFKA_RAW_BATCH_TOPIC", "raw-report-batches"),
		NormalizedTopic: getEnv("KAFKA_NORMALIZED_TOPIC", "normalized-reports"),
		UnresolvedTopic: getEnv("KAFKA_UNRESOLVED_TOPIC", "unresolved-names"),
		DeadLetterTopic: getEnv("KAFKA_DLQ_TOPIC", "mapper-dlq"),

		CountryCatalogPath: getEnv("COUNTRY_CATALOG_PATH", ""),

		FuzzyThreshold:      getFloatEnv("FUZZY_THRESHOLD", 0.8),
		FuzzyShortThreshold: getFloatEnv("FUZZY_SHORT_THRESHOLD", 0.9),
		FuzzyMinMargin:      getFloatEnv("FUZZY_MIN_MARGIN", 0.05),
		SemanticThreshold:   getFloatEnv("SEMANTIC_THRESHOLD", 0.8),
		MatchCacheTTL:       getDuration("MATCH_CACHE_TTL", 10*time.Minute),

		LLMEnabled:      getBoolEnv("LLM_ENABLED", false),
		LLMAPIKey:       getEnv("LLM_API_KEY", ""),
		LLMBaseURL:      getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModelName:    getEnv("LLM_MODEL_NAME", "gpt-4o-mini"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		LLMTimeout:      getDuration("LLM_TIMEOUT", 15*time.Second),
		LLMMaxAttempts:  getIntEnv("LLM_MAX_ATTEMPTS", 3),
		LLMRateLimitRPS: getIntEnv("LLM_RATE_LIMIT_RPS", 2),
		LLMRateBurst:    getIntEnv("LLM_RATE_BURST", 5),
		LLMCacheTTL:     getDuration("LLM_CACHE_TTL", 24*time.Hour),

		BatchWorkers:     getIntEnv("BATCH_WORKERS", 4),
		BatchDeadline:    getDuration("BATCH_DEADLINE", 5*time.Minute),
		MissingSentinels: getFloatSliceEnv("MISSING_SENTINELS", []float64{-10}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getFloatSliceEnv(key string, defaultValue []float64) []float64 {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]float64, 0, len(parts))
		for _, p := range parts {
			if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
				out = append(out, f)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
