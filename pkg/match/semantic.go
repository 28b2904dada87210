package match

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
)

// Embedder projects a disease name into the shared embedding space used by
// the semantic stage.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder fetches embeddings from an OpenAI-compatible endpoint and
// caches vectors in redis keyed by text hash, so a mapping table's candidate
// names are only embedded once.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	cache   *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, cache *redis.Client, ttl, timeout time.Duration) *OpenAIEmbedder {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		cache:   cache,
		ttl:     ttl,
		timeout: timeout,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)
	if e.cache != nil {
		if raw, err := e.cache.Get(ctx, key).Bytes(); err == nil {
			var vec []float32
			if err := json.Unmarshal(raw, &vec); err == nil {
				return vec, nil
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response empty")
	}
	vec := resp.Data[0].Embedding

	if e.cache != nil {
		if raw, err := json.Marshal(vec); err == nil {
			if err := e.cache.Set(ctx, key, raw, e.ttl).Err(); err != nil {
				logger.Log.WithError(err).Debug("embedding cache set failed")
			}
		}
	}
	return vec, nil
}

func (e *OpenAIEmbedder) cacheKey(text string) string {
	sum := sha1.Sum([]byte(e.model + ":" + text))
	return "embed:" + hex.EncodeToString(sum[:])
}

// cosineSimilarity assumes non-zero vectors; a zero vector scores 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
