package models

import (
	"time"
)

// Event bus envelope
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // raw-batch, normalize, unresolved, promote
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// MatchStage identifies which cascade stage produced a resolution.
type MatchStage string

const (
	StageExact    MatchStage = "exact"
	StageFuzzy    MatchStage = "fuzzy"
	StageSemantic MatchStage = "semantic"
	StageLLM      MatchStage = "llm"
	StageNone     MatchStage = "none"
)

// Strategy selects how deep the cascade is allowed to go. Each level
// includes all cheaper levels before it.
type Strategy int

const (
	StrategyExact Strategy = iota
	StrategyFuzzy
	StrategySemantic
	StrategyLLM
)

func (s Strategy) Allows(stage MatchStage) bool {
	switch stage {
	case StageExact:
		return true
	case StageFuzzy:
		return s >= StrategyFuzzy
	case StageSemantic:
		return s >= StrategySemantic
	case StageLLM:
		return s >= StrategyLLM
	}
	return false
}

func (s Strategy) String() string {
	switch s {
	case StrategyExact:
		return "exact"
	case StrategyFuzzy:
		return "fuzzy"
	case StrategySemantic:
		return "semantic"
	case StrategyLLM:
		return "llm"
	}
	return "unknown"
}

// ParseStrategy maps a request-level strategy name to a cascade depth.
// Unrecognized values fall back to the semantic depth, which covers every
// local stage but never spends LLM calls.
func ParseStrategy(raw string) Strategy {
	switch raw {
	case "exact":
		return StrategyExact
	case "fuzzy":
		return StrategyFuzzy
	case "semantic":
		return StrategySemantic
	case "llm":
		return StrategyLLM
	}
	return StrategySemantic
}

// MatchResult is the outcome of resolving one (country, local name) pair.
// Matched=false is an expected outcome, not an error.
type MatchResult struct {
	Matched    bool       `json:"matched"`
	DiseaseID  string     `json:"disease_id,omitempty"`
	Confidence float64    `json:"confidence"`
	Stage      MatchStage `json:"stage"`
}

// RawReport is one ingested surveillance row as produced by the crawler
// collaborator. Cases/Deaths may carry the upstream missing sentinel.
type RawReport struct {
	DiseaseName string                 `json:"disease_name"`
	CountryCode string                 `json:"country_code"`
	Date        string                 `json:"date"`
	YearMonth   string                 `json:"year_month,omitempty"`
	Cases       float64                `json:"cases"`
	Deaths      float64                `json:"deaths"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// NormalizedReport is a RawReport with the canonical identity attached.
// Nil numeric fields are explicit missing markers.
type NormalizedReport struct {
	DiseaseID      string                 `json:"disease_id,omitempty"`
	DiseaseName    string                 `json:"disease_name"`
	StandardNameEN string                 `json:"standard_name_en,omitempty"`
	StandardNameZH string                 `json:"standard_name_zh,omitempty"`
	CountryCode    string                 `json:"country_code"`
	Date           string                 `json:"date"`
	YearMonth      string                 `json:"year_month,omitempty"`
	Cases          *float64               `json:"cases"`
	Deaths         *float64               `json:"deaths"`
	MortalityRate  *float64               `json:"mortality_rate"`
	Confidence     float64                `json:"resolution_confidence"`
	Stage          MatchStage             `json:"resolution_stage"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// UnresolvedName summarizes one distinct name the cascade could not map
// within a batch.
type UnresolvedName struct {
	LocalName   string `json:"local_name"`
	Occurrences int    `json:"occurrences"`
}

// NameError records a name whose resolution errored out, as opposed to
// cleanly resolving to unresolved.
type NameError struct {
	LocalName string `json:"local_name"`
	Error     string `json:"error"`
}

// BatchResult is the always-produced output of one normalization run.
type BatchResult struct {
	BatchID       string             `json:"batch_id"`
	CountryCode   string             `json:"country_code"`
	Rows          []NormalizedReport `json:"rows"`
	Unresolved    []UnresolvedName   `json:"unresolved"`
	Errored       []NameError        `json:"errored"`
	DistinctNames int                `json:"distinct_names"`
	ResolvedNames int                `json:"resolved_names"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// Stats is the observability surface over the mapping subsystem.
type Stats struct {
	CountryCode            string `json:"country_code,omitempty"`
	StandardDiseaseCount   int64  `json:"standard_disease_count"`
	MappingCount           int64  `json:"mapping_count"`
	PrimaryMappingCount    int64  `json:"primary_mapping_count"`
	AliasMappingCount      int64  `json:"alias_mapping_count"`
	PendingSuggestionCount int64  `json:"pending_suggestion_count"`
}
