package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUnknownSuggestion = errors.New("suggestion not found")
	ErrInvalidTransition = errors.New("suggestion is not pending")
	ErrEmptyName         = errors.New("empty local name")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	if err := r.db.AutoMigrate(&UnresolvedSuggestion{}); err != nil {
		return err
	}
	// One pending row per (country, name). Terminal rows stay behind as
	// history, so a name rejected once can still come back for review.
	return r.db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_suggestion_pending " +
			"ON disease_learning_suggestions (country_code, local_name) WHERE status = 'pending'",
	).Error
}

// RecordUnknown upserts the pending entry for (countryCode, localName):
// an existing pending row gets its occurrence_count bumped atomically, and a
// fresh suggestion from a lower-confidence stage is retained if it is better
// than what is already stored.
func (r *Repository) RecordUnknown(ctx context.Context, countryCode, localName, suggestedDiseaseID string, suggestedConfidence float64) error {
	if strings.TrimSpace(localName) == "" {
		return ErrEmptyName
	}
	now := time.Now().UTC()

	bump := map[string]interface{}{
		"occurrence_count": gorm.Expr("occurrence_count + 1"),
		"last_seen_at":     now,
		"updated_at":       now,
	}
	if suggestedDiseaseID != "" {
		// A weaker automatic suggestion must not clobber a better stored one.
		bump["suggested_disease_id"] = gorm.Expr(
			"CASE WHEN suggested_confidence <= ? THEN ? ELSE suggested_disease_id END",
			suggestedConfidence, suggestedDiseaseID)
		bump["suggested_confidence"] = gorm.Expr(
			"CASE WHEN suggested_confidence <= ? THEN ? ELSE suggested_confidence END",
			suggestedConfidence, suggestedConfidence)
	}

	updateResult := r.db.WithContext(ctx).Model(&UnresolvedSuggestion{}).
		Where("country_code = ? AND local_name = ? AND status = ?", countryCode, localName, StatusPending).
		Updates(bump)
	if updateResult.Error != nil {
		return updateResult.Error
	}
	if updateResult.RowsAffected > 0 {
		return nil
	}

	suggestion := &UnresolvedSuggestion{
		ID:                  uuid.New().String(),
		CountryCode:         countryCode,
		LocalName:           localName,
		OccurrenceCount:     1,
		FirstSeenAt:         now,
		LastSeenAt:          now,
		SuggestedDiseaseID:  suggestedDiseaseID,
		SuggestedConfidence: suggestedConfidence,
		Status:              StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := r.db.WithContext(ctx).Create(suggestion).Error
	if err != nil && isUniqueViolation(err) {
		// Lost the insert race to a concurrent batch; fold into its row.
		return r.db.WithContext(ctx).Model(&UnresolvedSuggestion{}).
			Where("country_code = ? AND local_name = ? AND status = ?", countryCode, localName, StatusPending).
			Updates(map[string]interface{}{
				"occurrence_count": gorm.Expr("occurrence_count + 1"),
				"last_seen_at":     now,
				"updated_at":       now,
			}).Error
	}
	return err
}

// ListPending pages through pending suggestions, most frequent first, so
// review effort lands on the highest-value unknowns.
func (r *Repository) ListPending(ctx context.Context, countryCode string, limit, offset int) ([]UnresolvedSuggestion, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.WithContext(ctx).Where("status = ?", StatusPending)
	if countryCode != "" {
		query = query.Where("country_code = ?", countryCode)
	}
	var suggestions []UnresolvedSuggestion
	result := query.
		Order("occurrence_count DESC").
		Order("suggested_confidence DESC").
		Order("first_seen_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&suggestions)
	return suggestions, result.Error
}

func (r *Repository) Get(ctx context.Context, id string) (*UnresolvedSuggestion, error) {
	var suggestion UnresolvedSuggestion
	result := r.db.WithContext(ctx).First(&suggestion, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSuggestion, id)
	}
	return &suggestion, result.Error
}

// Approve moves a pending suggestion to its terminal approved state.
func (r *Repository) Approve(ctx context.Context, id, finalDiseaseID, reviewedBy string) error {
	return r.transition(ctx, id, StatusApproved, map[string]interface{}{
		"final_disease_id": finalDiseaseID,
		"reviewed_by":      reviewedBy,
	})
}

// Reject moves a pending suggestion to rejected; the reason is retained for
// audit.
func (r *Repository) Reject(ctx context.Context, id, reason, reviewedBy string) error {
	return r.transition(ctx, id, StatusRejected, map[string]interface{}{
		"review_note": reason,
		"reviewed_by": reviewedBy,
	})
}

// Merge marks a pending suggestion as a semantic duplicate of another entry.
func (r *Repository) Merge(ctx context.Context, id, duplicateOfID, reviewedBy string) error {
	return r.transition(ctx, id, StatusMerged, map[string]interface{}{
		"review_note": "duplicate of " + duplicateOfID,
		"reviewed_by": reviewedBy,
	})
}

// transition applies a terminal state with the pending guard inside the
// UPDATE itself, so two reviewers cannot both win.
func (r *Repository) transition(ctx context.Context, id, status string, extra map[string]interface{}) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      status,
		"reviewed_at": now,
		"updated_at":  now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&UnresolvedSuggestion{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrInvalidTransition, id)
	}
	return nil
}

// PendingCount reports the review backlog, optionally per country.
func (r *Repository) PendingCount(ctx context.Context, countryCode string) (int64, error) {
	query := r.db.WithContext(ctx).Model(&UnresolvedSuggestion{}).
		Where("status = ?", StatusPending)
	if countryCode != "" {
		query = query.Where("country_code = ?", countryCode)
	}
	var count int64
	result := query.Count(&count)
	return count, result.Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
