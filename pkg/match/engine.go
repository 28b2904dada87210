package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/epiwatch-io/platform/pkg/common/models"
	"github.com/epiwatch-io/platform/pkg/countries"
	"github.com/epiwatch-io/platform/pkg/mapping"
)

var (
	ErrEmptyInput     = errors.New("empty local name")
	ErrInvalidCountry = countries.ErrInvalidCountry
)

// MappingStore is the slice of the mapping repository the engine needs.
type MappingStore interface {
	FindExact(ctx context.Context, countryCode, localName string) (*mapping.CountryMapping, error)
	ActiveForCountry(ctx context.Context, countryCode string) ([]mapping.CountryMapping, error)
	IncrementUsage(ctx context.Context, id string) error
}

// SuggestionSink receives every name the cascade could not confidently map.
type SuggestionSink interface {
	RecordUnknown(ctx context.Context, countryCode, localName, suggestedDiseaseID string, suggestedConfidence float64) error
}

type Config struct {
	FuzzyThreshold      float64 // accept fuzzy candidates at or above this similarity
	FuzzyShortThreshold float64 // stricter bar for short names, where one edit means a lot
	FuzzyMinMargin      float64 // best candidate must beat the runner-up by this much
	SemanticThreshold   float64 // cosine similarity acceptance bar
	LLMAcceptThreshold  float64 // assistant confidence acceptance bar
	ShortNameRunes      int     // names at or under this rune count use the strict bar
}

func (c *Config) applyDefaults() {
	if c.FuzzyThreshold <= 0 {
		c.FuzzyThreshold = 0.8
	}
	if c.FuzzyShortThreshold <= 0 {
		c.FuzzyShortThreshold = 0.9
	}
	if c.FuzzyMinMargin < 0 {
		c.FuzzyMinMargin = 0
	}
	if c.SemanticThreshold <= 0 {
		c.SemanticThreshold = 0.8
	}
	if c.LLMAcceptThreshold <= 0 {
		c.LLMAcceptThreshold = 0.8
	}
	if c.ShortNameRunes <= 0 {
		c.ShortNameRunes = 10
	}
}

// Engine resolves (country_code, local_name) pairs through the staged
// cascade: exact, then fuzzy, then semantic, then LLM-assisted. Each stage
// runs only when the previous one produced no confident match and the
// caller's strategy permits it.
type Engine struct {
	store    MappingStore
	sink     SuggestionSink
	cache    *mapping.Cache
	catalog  countries.Catalog
	embedder Embedder
	llm      Assistant
	cfg      Config

	exactCalls    atomic.Int64
	fuzzyCalls    atomic.Int64
	semanticCalls atomic.Int64
	llmCalls      atomic.Int64
}

func NewEngine(store MappingStore, sink SuggestionSink, cache *mapping.Cache, catalog countries.Catalog, embedder Embedder, llm Assistant, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:    store,
		sink:     sink,
		cache:    cache,
		catalog:  catalog,
		embedder: embedder,
		llm:      llm,
		cfg:      cfg,
	}
}

// Resolve maps one local name to a canonical disease identity. Matched=false
// is a normal outcome that feeds the learning queue; an error return means
// the operation itself failed (bad input, unknown country, store failure).
// Callers are expected to pass pre-trimmed input; the engine still trims
// defensively but treats whitespace-only input as invalid rather than
// pushing it into the queue.
func (e *Engine) Resolve(ctx context.Context, countryCode, localName string, strategy models.Strategy) (models.MatchResult, error) {
	localName = strings.TrimSpace(localName)
	if localName == "" {
		return models.MatchResult{Stage: models.StageNone}, ErrEmptyInput
	}
	country, err := e.catalog.Lookup(countryCode)
	if err != nil {
		return models.MatchResult{Stage: models.StageNone}, err
	}
	countryCode = country.Code

	// Stage 1: exact.
	result, err := e.resolveExact(ctx, countryCode, localName)
	if err != nil {
		return models.MatchResult{Stage: models.StageNone}, err
	}
	if result != nil {
		return *result, nil
	}

	// Later stages share the candidate set.
	var candidates []mapping.CountryMapping
	if strategy.Allows(models.StageFuzzy) || strategy.Allows(models.StageSemantic) || strategy.Allows(models.StageLLM) {
		candidates, err = e.store.ActiveForCountry(ctx, countryCode)
		if err != nil {
			return models.MatchResult{Stage: models.StageNone}, err
		}
	}

	// Best rejected candidate across stages, kept as the automatic
	// suggestion when everything falls short.
	var suggestedID string
	var suggestedConfidence float64
	note := func(diseaseID string, confidence float64) {
		if diseaseID != "" && confidence > suggestedConfidence {
			suggestedID = diseaseID
			suggestedConfidence = confidence
		}
	}

	if strategy.Allows(models.StageFuzzy) {
		if hit, best := e.resolveFuzzy(localName, candidates); hit != nil {
			e.recordHit(ctx, countryCode, localName, hit.mapping, hit.confidence)
			return models.MatchResult{
				Matched:    true,
				DiseaseID:  hit.mapping.DiseaseID,
				Confidence: hit.confidence,
				Stage:      models.StageFuzzy,
			}, nil
		} else if best != nil {
			note(best.mapping.DiseaseID, best.confidence)
		}
	}

	if strategy.Allows(models.StageSemantic) && e.embedder != nil {
		hit, best, err := e.resolveSemantic(ctx, localName, candidates)
		if err != nil {
			// External lookup failure falls back to the queue, never
			// aborts resolution.
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"country_code": countryCode,
				"local_name":   localName,
			}).Warn("semantic stage unavailable")
		} else if hit != nil {
			e.recordHit(ctx, countryCode, localName, hit.mapping, hit.confidence)
			return models.MatchResult{
				Matched:    true,
				DiseaseID:  hit.mapping.DiseaseID,
				Confidence: hit.confidence,
				Stage:      models.StageSemantic,
			}, nil
		} else if best != nil {
			note(best.mapping.DiseaseID, best.confidence)
		}
	}

	if strategy.Allows(models.StageLLM) && e.llm != nil {
		verdict, err := e.resolveLLM(ctx, countryCode, localName, candidates)
		if err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"country_code": countryCode,
				"local_name":   localName,
			}).Warn("llm stage unavailable")
		} else if verdict != nil && verdict.Known && verdict.DiseaseID != "" {
			if verdict.Confidence >= e.cfg.LLMAcceptThreshold {
				if m := firstMappingFor(candidates, verdict.DiseaseID); m != nil {
					e.recordHit(ctx, countryCode, localName, m, verdict.Confidence)
					return models.MatchResult{
						Matched:    true,
						DiseaseID:  verdict.DiseaseID,
						Confidence: verdict.Confidence,
						Stage:      models.StageLLM,
					}, nil
				}
				// The assistant named a disease with no mapping in this
				// country; that is a suggestion, not a match.
			}
			note(verdict.DiseaseID, verdict.Confidence)
		}
	}

	if e.sink != nil {
		if err := e.sink.RecordUnknown(ctx, countryCode, localName, suggestedID, suggestedConfidence); err != nil {
			return models.MatchResult{Stage: models.StageNone}, fmt.Errorf("record unknown name: %w", err)
		}
	}
	return models.MatchResult{Matched: false, Confidence: 0, Stage: models.StageNone}, nil
}

func (e *Engine) resolveExact(ctx context.Context, countryCode, localName string) (*models.MatchResult, error) {
	e.exactCalls.Add(1)

	if cached, ok := e.cache.Get(ctx, countryCode, localName); ok {
		if err := e.store.IncrementUsage(ctx, cached.MappingID); err != nil {
			logger.Log.WithError(err).Warn("usage increment failed on cache hit")
		}
		return &models.MatchResult{
			Matched:    true,
			DiseaseID:  cached.DiseaseID,
			Confidence: 1.0,
			Stage:      models.StageExact,
		}, nil
	}

	m, err := e.store.FindExact(ctx, countryCode, localName)
	if errors.Is(err, mapping.ErrNoMapping) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := e.store.IncrementUsage(ctx, m.ID); err != nil {
		logger.Log.WithError(err).Warn("usage increment failed")
	}
	e.cache.Set(ctx, countryCode, localName, mapping.CachedMapping{
		MappingID:  m.ID,
		DiseaseID:  m.DiseaseID,
		Confidence: 1.0,
	})
	return &models.MatchResult{
		Matched:    true,
		DiseaseID:  m.DiseaseID,
		Confidence: 1.0,
		Stage:      models.StageExact,
	}, nil
}

type scored struct {
	mapping    *mapping.CountryMapping
	confidence float64
}

// resolveFuzzy scans the candidate set with edit-distance similarity.
// Candidates arrive ordered by priority, usage and disease_id, so on equal
// scores the first seen wins, which implements the tie-break policy.
func (e *Engine) resolveFuzzy(localName string, candidates []mapping.CountryMapping) (hit, best *scored) {
	e.fuzzyCalls.Add(1)

	var bestScore, secondScore float64
	var bestIdx = -1
	for i := range candidates {
		score := Similarity(localName, candidates[i].LocalName)
		if MoreSpecific(localName, candidates[i].LocalName) {
			// "hepatitis" vs "hepatitis a": close strings, different
			// diseases. Never accept, never suggest.
			continue
		}
		if score > bestScore {
			secondScore = bestScore
			bestScore = score
			bestIdx = i
		} else if score > secondScore {
			secondScore = score
		}
	}
	if bestIdx < 0 {
		return nil, nil
	}
	best = &scored{mapping: &candidates[bestIdx], confidence: bestScore}

	threshold := e.cfg.FuzzyThreshold
	if utf8.RuneCountInString(localName) <= e.cfg.ShortNameRunes {
		threshold = e.cfg.FuzzyShortThreshold
	}
	if bestScore < threshold {
		return nil, best
	}
	if bestScore-secondScore < e.cfg.FuzzyMinMargin && secondScore > 0 {
		// Ambiguous tie: two different names are nearly as close. Prefer
		// unresolved over a coin flip.
		sameDisease := true
		for i := range candidates {
			if i == bestIdx {
				continue
			}
			if Similarity(localName, candidates[i].LocalName) >= bestScore-e.cfg.FuzzyMinMargin &&
				candidates[i].DiseaseID != candidates[bestIdx].DiseaseID {
				sameDisease = false
				break
			}
		}
		if !sameDisease {
			return nil, best
		}
	}
	return best, best
}

func (e *Engine) resolveSemantic(ctx context.Context, localName string, candidates []mapping.CountryMapping) (hit, best *scored, err error) {
	e.semanticCalls.Add(1)

	queryVec, err := e.embedder.Embed(ctx, localName)
	if err != nil {
		return nil, nil, err
	}
	var bestScore float64
	var bestIdx = -1
	for i := range candidates {
		candidateVec, err := e.embedder.Embed(ctx, candidates[i].LocalName)
		if err != nil {
			// One bad candidate embedding should not sink the stage.
			logger.Log.WithError(err).WithField("local_name", candidates[i].LocalName).
				Debug("candidate embedding failed")
			continue
		}
		score := cosineSimilarity(queryVec, candidateVec)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, nil, nil
	}
	best = &scored{mapping: &candidates[bestIdx], confidence: bestScore}
	if bestScore < e.cfg.SemanticThreshold {
		return nil, best, nil
	}
	return best, best, nil
}

func (e *Engine) resolveLLM(ctx context.Context, countryCode, localName string, candidates []mapping.CountryMapping) (*Verdict, error) {
	e.llmCalls.Add(1)

	llmCandidates := make([]Candidate, 0, len(candidates))
	for i := range candidates {
		llmCandidates = append(llmCandidates, Candidate{
			DiseaseID: candidates[i].DiseaseID,
			LocalName: candidates[i].LocalName,
		})
	}
	return e.llm.Suggest(ctx, countryCode, localName, llmCandidates)
}

func (e *Engine) recordHit(ctx context.Context, countryCode, localName string, m *mapping.CountryMapping, confidence float64) {
	if err := e.store.IncrementUsage(ctx, m.ID); err != nil {
		logger.Log.WithError(err).Warn("usage increment failed")
	}
	logger.Log.WithFields(map[string]interface{}{
		"country_code": countryCode,
		"local_name":   localName,
		"disease_id":   m.DiseaseID,
		"confidence":   confidence,
	}).Debug("non-exact match accepted")
}

func firstMappingFor(candidates []mapping.CountryMapping, diseaseID string) *mapping.CountryMapping {
	for i := range candidates {
		if candidates[i].DiseaseID == diseaseID {
			return &candidates[i]
		}
	}
	return nil
}

// CallCounts exposes per-stage invocation counters; used for cascade
// verification and observability.
func (e *Engine) CallCounts() map[models.MatchStage]int64 {
	return map[models.MatchStage]int64{
		models.StageExact:    e.exactCalls.Load(),
		models.StageFuzzy:    e.fuzzyCalls.Load(),
		models.StageSemantic: e.semanticCalls.Load(),
		models.StageLLM:      e.llmCalls.Load(),
	}
}
