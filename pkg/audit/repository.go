package audit

import (
	"context"
	"time"

	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Event{})
}

// Record appends one audit event. Audit failures are logged, not propagated:
// a structural change that already committed must not be rolled back because
// its trail entry failed.
func (r *Repository) Record(ctx context.Context, actor, action, entity, entityID, countryCode string, payload map[string]interface{}) {
	event := &Event{
		ID:          uuid.New().String(),
		Actor:       actor,
		Action:      action,
		Entity:      entity,
		EntityID:    entityID,
		CountryCode: countryCode,
		Payload:     datatypes.JSONMap(payload),
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"action":    action,
			"entity_id": entityID,
		}).Error("failed to record audit event")
	}
}

// ForEntity returns the trail for one entity, oldest first.
func (r *Repository) ForEntity(ctx context.Context, entityID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []Event
	result := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at ASC").
		Limit(limit).
		Find(&events)
	return events, result.Error
}
