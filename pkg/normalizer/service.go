package normalizer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/epiwatch-io/platform/pkg/common/models"
	"github.com/epiwatch-io/platform/pkg/countries"
	"github.com/epiwatch-io/platform/pkg/registry"
)

// Resolver is the slice of the match engine the normalizer needs.
type Resolver interface {
	Resolve(ctx context.Context, countryCode, localName string, strategy models.Strategy) (models.MatchResult, error)
}

// DiseaseDirectory looks up canonical names for resolved identities.
type DiseaseDirectory interface {
	GetActive(ctx context.Context, diseaseID string) (*registry.StandardDisease, error)
}

// SuggestionSink receives names the run could not attempt because the batch
// deadline expired before their turn.
type SuggestionSink interface {
	RecordUnknown(ctx context.Context, countryCode, localName, suggestedDiseaseID string, suggestedConfidence float64) error
}

type Config struct {
	Workers          int           // parallel resolutions per batch
	Deadline         time.Duration // whole-batch budget; 0 disables
	DefaultSentinels []float64     // used when the country configures none
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if len(c.DefaultSentinels) == 0 {
		c.DefaultSentinels = []float64{-10}
	}
}

// Service turns a batch of raw surveillance rows into normalized reports:
// sentinel values are scrubbed, each distinct disease name is resolved once,
// and the identity is broadcast onto every row carrying that name. Rows that
// stay unresolved are retained, not dropped.
type Service struct {
	resolver  Resolver
	directory DiseaseDirectory
	sink      SuggestionSink
	catalog   countries.Catalog
	cfg       Config
}

func NewService(resolver Resolver, directory DiseaseDirectory, sink SuggestionSink, catalog countries.Catalog, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		resolver:  resolver,
		directory: directory,
		sink:      sink,
		catalog:   catalog,
		cfg:       cfg,
	}
}

// nameOutcome is the per-distinct-name result shared by all rows with that
// name.
type nameOutcome struct {
	result models.MatchResult
	err    error
}

// deadlineCut reports whether a resolution failed only because the batch
// context ran out, not because the resolver itself broke.
func deadlineCut(err error) bool {
	return err != nil &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}

// Normalize processes one country batch. The returned BatchResult is always
// complete: every input row appears in Rows, and every distinct name appears
// either as resolved on its rows, in Unresolved, or in Errored. An error
// return means the batch itself could not run (unknown country).
func (s *Service) Normalize(ctx context.Context, countryCode string, rows []models.RawReport, strategy models.Strategy) (*models.BatchResult, error) {
	country, err := s.catalog.Lookup(countryCode)
	if err != nil {
		return nil, err
	}
	sentinels := country.MissingSentinels
	if len(sentinels) == 0 {
		sentinels = s.cfg.DefaultSentinels
	}

	result := &models.BatchResult{
		BatchID:     uuid.New().String(),
		CountryCode: country.Code,
		StartedAt:   time.Now(),
	}

	runCtx := ctx
	if s.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Deadline)
		defer cancel()
	}

	// Group rows by distinct trimmed name so each name is resolved exactly
	// once per batch regardless of how many rows carry it.
	occurrences := make(map[string]int)
	hasEmpty := false
	for i := range rows {
		name := strings.TrimSpace(rows[i].DiseaseName)
		if name == "" {
			hasEmpty = true
			continue
		}
		occurrences[name]++
	}
	result.DistinctNames = len(occurrences)
	if hasEmpty {
		result.Errored = append(result.Errored, models.NameError{
			LocalName: "",
			Error:     "empty disease name",
		})
	}

	var mu sync.Mutex
	outcomes := make(map[string]*nameOutcome, len(occurrences))

	g := &errgroup.Group{}
	g.SetLimit(s.cfg.Workers)
	for name := range occurrences {
		name := name
		g.Go(func() error {
			if runCtx.Err() != nil {
				// Deadline expired before this name's turn; it is handled
				// as unattempted below.
				return nil
			}
			res, err := s.resolver.Resolve(runCtx, country.Code, name, strategy)
			mu.Lock()
			outcomes[name] = &nameOutcome{result: res, err: err}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// Names the deadline cut off still belong in the learning queue, whether
	// their turn never came or the cutoff landed mid-resolution. The queue
	// write must outlive the expired batch context.
	queueCtx := context.WithoutCancel(ctx)
	for name := range occurrences {
		if outcome, ok := outcomes[name]; ok && !deadlineCut(outcome.err) {
			continue
		}
		outcomes[name] = &nameOutcome{result: models.MatchResult{Stage: models.StageNone}}
		if s.sink != nil {
			if err := s.sink.RecordUnknown(queueCtx, country.Code, name, "", 0); err != nil {
				logger.WithCountry(country.Code).WithError(err).
					WithField("local_name", name).
					Error("queueing deadline-expired name failed")
			}
		}
		logger.Log.WithFields(map[string]interface{}{
			"batch_id":   result.BatchID,
			"local_name": name,
		}).Warn("batch deadline expired before name was resolved")
	}

	names := s.standardNames(ctx, outcomes)

	// Broadcast each name's outcome onto its rows.
	result.Rows = make([]models.NormalizedReport, 0, len(rows))
	for i := range rows {
		row := scrubRow(rows[i], sentinels)
		row.CountryCode = country.Code
		name := strings.TrimSpace(rows[i].DiseaseName)
		if outcome, ok := outcomes[name]; ok && outcome.err == nil && outcome.result.Matched {
			row.DiseaseID = outcome.result.DiseaseID
			row.Confidence = outcome.result.Confidence
			row.Stage = outcome.result.Stage
			if std, ok := names[outcome.result.DiseaseID]; ok {
				row.StandardNameEN = std.StandardNameEN
				row.StandardNameZH = std.StandardNameZH
			}
		}
		result.Rows = append(result.Rows, row)
	}

	for name, outcome := range outcomes {
		switch {
		case outcome.err != nil:
			result.Errored = append(result.Errored, models.NameError{
				LocalName: name,
				Error:     outcome.err.Error(),
			})
		case outcome.result.Matched:
			result.ResolvedNames++
		default:
			result.Unresolved = append(result.Unresolved, models.UnresolvedName{
				LocalName:   name,
				Occurrences: occurrences[name],
			})
		}
	}

	result.CompletedAt = time.Now()
	logger.WithCountry(result.CountryCode).WithFields(map[string]interface{}{
		"batch_id":       result.BatchID,
		"rows":           len(result.Rows),
		"distinct_names": result.DistinctNames,
		"resolved_names": result.ResolvedNames,
		"unresolved":     len(result.Unresolved),
		"errored":        len(result.Errored),
	}).Info("batch normalized")
	return result, nil
}

// standardNames fetches canonical names once per matched disease identity.
// A directory failure degrades to blank standard names, never to a failed
// batch.
func (s *Service) standardNames(ctx context.Context, outcomes map[string]*nameOutcome) map[string]*registry.StandardDisease {
	names := make(map[string]*registry.StandardDisease)
	if s.directory == nil {
		return names
	}
	for _, outcome := range outcomes {
		if outcome.err != nil || !outcome.result.Matched {
			continue
		}
		id := outcome.result.DiseaseID
		if _, ok := names[id]; ok {
			continue
		}
		disease, err := s.directory.GetActive(ctx, id)
		if err != nil {
			logger.Log.WithError(err).WithField("disease_id", id).
				Warn("standard name lookup failed")
			continue
		}
		names[id] = disease
	}
	return names
}
