package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/epiwatch-io/platform/pkg/audit"
	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/epiwatch-io/platform/pkg/mapping"
	"github.com/epiwatch-io/platform/pkg/queue"
	"github.com/epiwatch-io/platform/pkg/registry"
)

// Priority bands. Learned mappings rank below curated ones so a curated
// primary always wins an equal-confidence tie.
const (
	PriorityCurated = 100
	PriorityLearned = 50
)

// Service applies review decisions durably: approvals become mappings,
// structural changes are audited, and the per-country cache generation is
// bumped so the next resolution sees the update.
type Service struct {
	queue    *queue.Repository
	mappings *mapping.Repository
	diseases *registry.Repository
	trail    *audit.Repository
	cache    *mapping.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(q *queue.Repository, m *mapping.Repository, d *registry.Repository, trail *audit.Repository, cache *mapping.Cache) *Service {
	return &Service{
		queue:    q,
		mappings: m,
		diseases: d,
		trail:    trail,
		cache:    cache,
		locks:    make(map[string]*sync.Mutex),
	}
}

// countryLock serializes structural changes per country. The unique index on
// (country_code, local_name) remains the final arbiter; the lock just keeps
// two reviewers from interleaving deactivate/insert pairs.
func (s *Service) countryLock(countryCode string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[countryCode]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[countryCode] = lock
	}
	return lock
}

// Approve promotes a pending suggestion to diseaseID. With createMapping the
// approved name becomes a learned alias; it never replaces an existing
// primary. A concurrent promotion of the same name is treated as already
// mapped, not as a failure.
func (s *Service) Approve(ctx context.Context, suggestionID, diseaseID string, createMapping bool, reviewer string) (*mapping.CountryMapping, error) {
	suggestion, err := s.queue.Get(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	disease, err := s.diseases.GetActive(ctx, diseaseID)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", suggestionID, err)
	}

	lock := s.countryLock(suggestion.CountryCode)
	lock.Lock()
	defer lock.Unlock()

	// The mapping goes in first: a suggestion must never end up approved
	// without the mapping its approval promised.
	var created *mapping.CountryMapping
	reused := false
	if createMapping {
		m := &mapping.CountryMapping{
			DiseaseID:       disease.DiseaseID,
			CountryCode:     suggestion.CountryCode,
			LocalName:       suggestion.LocalName,
			IsPrimary:       false,
			IsAlias:         true,
			Priority:        PriorityLearned,
			ConfidenceScore: 1.0,
			Source:          mapping.SourceLearned,
			CreatedBy:       reviewer,
		}
		switch err := s.mappings.Create(ctx, m); {
		case errors.Is(err, mapping.ErrDuplicateMapping):
			logger.Log.WithFields(map[string]interface{}{
				"country_code": suggestion.CountryCode,
				"local_name":   suggestion.LocalName,
			}).Info("local name already mapped, reusing existing mapping")
			existing, findErr := s.mappings.FindExact(ctx, suggestion.CountryCode, suggestion.LocalName)
			if findErr != nil {
				return nil, findErr
			}
			created, reused = existing, true
		case err != nil:
			return nil, err
		default:
			created = m
		}
	}

	if err := s.queue.Approve(ctx, suggestionID, disease.DiseaseID, reviewer); err != nil {
		if created != nil && !reused {
			if rbErr := s.mappings.Deactivate(ctx, created.ID); rbErr != nil {
				logger.Log.WithError(rbErr).WithField("mapping_id", created.ID).
					Error("could not retire mapping after failed approval")
			}
		}
		return nil, err
	}
	s.trail.Record(ctx, reviewer, audit.ActionApproveSuggestion, "suggestion", suggestionID,
		suggestion.CountryCode, map[string]interface{}{
			"local_name":       suggestion.LocalName,
			"final_disease_id": disease.DiseaseID,
			"occurrence_count": suggestion.OccurrenceCount,
		})

	if created != nil && !reused {
		s.trail.Record(ctx, reviewer, audit.ActionCreateMapping, "mapping", created.ID,
			created.CountryCode, map[string]interface{}{
				"disease_id": created.DiseaseID,
				"local_name": created.LocalName,
				"source":     created.Source,
			})
		s.cache.InvalidateCountry(ctx, created.CountryCode)
	}
	return created, nil
}

// Reject marks a suggestion as not-a-disease (or not worth mapping). The
// entry stays in the table as history; a later reappearance of the same name
// opens a fresh pending entry.
func (s *Service) Reject(ctx context.Context, suggestionID, reason, reviewer string) error {
	suggestion, err := s.queue.Get(ctx, suggestionID)
	if err != nil {
		return err
	}
	if err := s.queue.Reject(ctx, suggestionID, reason, reviewer); err != nil {
		return err
	}
	s.trail.Record(ctx, reviewer, audit.ActionRejectSuggestion, "suggestion", suggestionID,
		suggestion.CountryCode, map[string]interface{}{
			"local_name": suggestion.LocalName,
			"reason":     reason,
		})
	return nil
}

// Merge closes a suggestion that duplicates another pending entry.
func (s *Service) Merge(ctx context.Context, suggestionID, duplicateOfID, reviewer string) error {
	suggestion, err := s.queue.Get(ctx, suggestionID)
	if err != nil {
		return err
	}
	if _, err := s.queue.Get(ctx, duplicateOfID); err != nil {
		return err
	}
	if err := s.queue.Merge(ctx, suggestionID, duplicateOfID, reviewer); err != nil {
		return err
	}
	s.trail.Record(ctx, reviewer, audit.ActionMergeSuggestion, "suggestion", suggestionID,
		suggestion.CountryCode, map[string]interface{}{
			"local_name":   suggestion.LocalName,
			"duplicate_of": duplicateOfID,
		})
	return nil
}

// AddDisease registers a brand-new canonical disease.
func (s *Service) AddDisease(ctx context.Context, disease *registry.StandardDisease, actor string) error {
	if err := s.diseases.Create(ctx, disease); err != nil {
		return err
	}
	s.trail.Record(ctx, actor, audit.ActionCreateDisease, "disease", disease.DiseaseID, "",
		map[string]interface{}{
			"standard_name_en": disease.StandardNameEN,
			"category":         disease.Category,
		})
	return nil
}

// DeactivateDisease soft-deletes a registry entry; historical rows keep
// referencing it.
func (s *Service) DeactivateDisease(ctx context.Context, diseaseID, actor string) error {
	if err := s.diseases.Deactivate(ctx, diseaseID); err != nil {
		return err
	}
	s.trail.Record(ctx, actor, audit.ActionDeactivateDisease, "disease", diseaseID, "", nil)
	return nil
}

// AddMapping registers a curated mapping directly, outside the queue flow.
func (s *Service) AddMapping(ctx context.Context, m *mapping.CountryMapping, actor string) error {
	if _, err := s.diseases.GetActive(ctx, m.DiseaseID); err != nil {
		return fmt.Errorf("add mapping: %w", err)
	}
	// Resolution lookups run on the canonical upper-case code; a mapping
	// stored under a lower-case variant would never be found.
	m.CountryCode = strings.ToUpper(strings.TrimSpace(m.CountryCode))
	if m.Source == "" {
		m.Source = mapping.SourceCurated
	}
	if m.Priority == 0 {
		m.Priority = PriorityCurated
	}
	m.CreatedBy = actor

	lock := s.countryLock(m.CountryCode)
	lock.Lock()
	defer lock.Unlock()

	if err := s.mappings.Create(ctx, m); err != nil {
		return err
	}
	s.trail.Record(ctx, actor, audit.ActionCreateMapping, "mapping", m.ID,
		m.CountryCode, map[string]interface{}{
			"disease_id": m.DiseaseID,
			"local_name": m.LocalName,
			"source":     m.Source,
		})
	s.cache.InvalidateCountry(ctx, m.CountryCode)
	return nil
}

// DeactivateMapping retires a mapping row without touching history.
func (s *Service) DeactivateMapping(ctx context.Context, mappingID, actor string) error {
	m, err := s.mappings.Get(ctx, mappingID)
	if err != nil {
		return err
	}

	lock := s.countryLock(m.CountryCode)
	lock.Lock()
	defer lock.Unlock()

	if err := s.mappings.Deactivate(ctx, mappingID); err != nil {
		return err
	}
	s.trail.Record(ctx, actor, audit.ActionDeactivateMapping, "mapping", mappingID,
		m.CountryCode, map[string]interface{}{
			"disease_id": m.DiseaseID,
			"local_name": m.LocalName,
		})
	s.cache.InvalidateCountry(ctx, m.CountryCode)
	return nil
}

// CorrectMapping repoints a local name at a different disease by
// deactivating the old row and inserting a replacement, preserving history.
func (s *Service) CorrectMapping(ctx context.Context, mappingID, newDiseaseID, actor string) (*mapping.CountryMapping, error) {
	old, err := s.mappings.Get(ctx, mappingID)
	if err != nil {
		return nil, err
	}
	if _, err := s.diseases.GetActive(ctx, newDiseaseID); err != nil {
		return nil, fmt.Errorf("correct mapping: %w", err)
	}

	lock := s.countryLock(old.CountryCode)
	lock.Lock()
	defer lock.Unlock()

	if err := s.mappings.Deactivate(ctx, old.ID); err != nil {
		return nil, err
	}
	replacement := &mapping.CountryMapping{
		DiseaseID:       newDiseaseID,
		CountryCode:     old.CountryCode,
		LocalName:       old.LocalName,
		LocalCode:       old.LocalCode,
		IsPrimary:       old.IsPrimary,
		IsAlias:         old.IsAlias,
		Priority:        old.Priority,
		ConfidenceScore: 1.0,
		Source:          old.Source,
		CreatedBy:       actor,
	}
	if err := s.mappings.Create(ctx, replacement); err != nil {
		return nil, err
	}
	s.trail.Record(ctx, actor, audit.ActionCorrectMapping, "mapping", replacement.ID,
		old.CountryCode, map[string]interface{}{
			"replaces":       old.ID,
			"local_name":     old.LocalName,
			"old_disease_id": old.DiseaseID,
			"new_disease_id": newDiseaseID,
		})
	s.cache.InvalidateCountry(ctx, old.CountryCode)
	return replacement, nil
}
