package match

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
)

// ErrRateLimited is returned when the LLM stage's local budget is exhausted;
// the caller treats it like any other external failure and defers to the
// unresolved queue.
var ErrRateLimited = errors.New("llm call budget exhausted")

// Candidate is one known mapping offered to the assistant.
type Candidate struct {
	DiseaseID string `json:"disease_id"`
	LocalName string `json:"local_name"`
}

// Verdict is the assistant's structured answer.
type Verdict struct {
	Known      bool    `json:"known"`
	DiseaseID  string  `json:"disease_id"`
	Confidence float64 `json:"confidence"`
}

// Assistant is the LLM-backed last stage of the cascade.
type Assistant interface {
	Suggest(ctx context.Context, countryCode, localName string, candidates []Candidate) (*Verdict, error)
}

const llmSystemPrompt = "You map noisy, possibly misspelled or translated disease names " +
	"from surveillance reports onto a known registry. Answer with JSON only: " +
	`{"known": bool, "disease_id": string, "confidence": number between 0 and 1}. ` +
	"Set known=false when the name does not correspond to any listed disease."

// OpenAIAssistant asks a chat model whether an unknown name is a known
// disease in disguise. Calls are rate-limited by a token bucket and responses
// are cached by input string, so identical unknowns never trigger repeat
// calls within the cache window.
type OpenAIAssistant struct {
	client      *openai.Client
	model       string
	cache       *redis.Client
	cacheTTL    time.Duration
	timeout     time.Duration
	maxAttempts int

	mu     sync.Mutex
	tokens int
	burst  int
	rps    int
	last   time.Time
}

type AssistantConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	RateRPS     int
	RateBurst   int
	CacheTTL    time.Duration
}

func NewOpenAIAssistant(cfg AssistantConfig, cache *redis.Client) *OpenAIAssistant {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 || cfg.MaxAttempts > 3 {
		// Retry amplification is the failure mode to avoid; cap hard.
		cfg.MaxAttempts = 3
	}
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = 2
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	return &OpenAIAssistant{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		cache:       cache,
		cacheTTL:    cfg.CacheTTL,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		tokens:      cfg.RateBurst,
		burst:       cfg.RateBurst,
		rps:         cfg.RateRPS,
		last:        time.Now(),
	}
}

func (a *OpenAIAssistant) Suggest(ctx context.Context, countryCode, localName string, candidates []Candidate) (*Verdict, error) {
	key := a.cacheKey(countryCode, localName)
	if a.cache != nil {
		if raw, err := a.cache.Get(ctx, key).Bytes(); err == nil {
			var verdict Verdict
			if err := json.Unmarshal(raw, &verdict); err == nil {
				return &verdict, nil
			}
		}
	}

	if !a.takeToken() {
		return nil, ErrRateLimited
	}

	prompt := a.buildPrompt(countryCode, localName, candidates)

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		verdict, err := a.call(ctx, prompt)
		if err == nil {
			if a.cache != nil {
				if raw, err := json.Marshal(verdict); err == nil {
					if err := a.cache.Set(ctx, key, raw, a.cacheTTL).Err(); err != nil {
						logger.Log.WithError(err).Debug("llm cache set failed")
					}
				}
			}
			return verdict, nil
		}
		lastErr = err
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"local_name": localName,
			"attempt":    attempt,
		}).Warn("llm match attempt failed")
	}
	return nil, lastErr
}

func (a *OpenAIAssistant) call(ctx context.Context, prompt string) (*Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm response empty")
	}

	var verdict Verdict
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("llm response not parseable: %w", err)
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return &verdict, nil
}

func (a *OpenAIAssistant) buildPrompt(countryCode, localName string, candidates []Candidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Unknown disease name from %s surveillance data: %q\n\n", countryCode, localName)
	sb.WriteString("Known diseases for this country:\n")
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", c.DiseaseID, c.LocalName)
	}
	sb.WriteString("\nIs the unknown name one of these diseases in disguise? Respond with JSON.")
	return sb.String()
}

func (a *OpenAIAssistant) cacheKey(countryCode, localName string) string {
	sum := sha1.Sum([]byte(countryCode + ":" + localName))
	return "llm:verdict:" + hex.EncodeToString(sum[:])
}

// takeToken implements a small per-process token bucket; refill is computed
// lazily on each take.
func (a *OpenAIAssistant) takeToken() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(a.last).Seconds()
	add := int(elapsed * float64(a.rps))
	if add > 0 {
		a.tokens += add
		if a.tokens > a.burst {
			a.tokens = a.burst
		}
		a.last = now
	}
	if a.tokens <= 0 {
		return false
	}
	a.tokens--
	return true
}
