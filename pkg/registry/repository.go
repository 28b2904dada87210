package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound         = errors.New("standard disease not found")
	ErrDuplicateDisease = errors.New("disease_id already registered")
	ErrInvalidEntry     = errors.New("invalid registry entry")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&StandardDisease{})
}

func (r *Repository) Create(ctx context.Context, disease *StandardDisease) error {
	if err := validate(disease); err != nil {
		return err
	}
	var existing StandardDisease
	err := r.db.WithContext(ctx).First(&existing, "disease_id = ?", disease.DiseaseID).Error
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateDisease, disease.DiseaseID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	now := time.Now().UTC()
	disease.CreatedAt = now
	disease.UpdatedAt = now
	disease.IsActive = true
	return r.db.WithContext(ctx).Create(disease).Error
}

// Upsert inserts or refreshes a registry entry keyed on disease_id. Used by
// the bulk loader so re-running a load never duplicates rows.
func (r *Repository) Upsert(ctx context.Context, disease *StandardDisease) error {
	if err := validate(disease); err != nil {
		return err
	}
	now := time.Now().UTC()
	disease.CreatedAt = now
	disease.UpdatedAt = now
	disease.IsActive = true
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "disease_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"standard_name_en", "standard_name_zh", "category",
			"external_codes", "description", "confidence_score", "updated_at",
		}),
	}).Create(disease).Error
}

func (r *Repository) Get(ctx context.Context, diseaseID string) (*StandardDisease, error) {
	var disease StandardDisease
	result := r.db.WithContext(ctx).First(&disease, "disease_id = ?", diseaseID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, diseaseID)
	}
	return &disease, result.Error
}

// GetActive behaves like Get but excludes deactivated entries, which must not
// participate in matching.
func (r *Repository) GetActive(ctx context.Context, diseaseID string) (*StandardDisease, error) {
	var disease StandardDisease
	result := r.db.WithContext(ctx).
		Where("disease_id = ? AND is_active = ?", diseaseID, true).
		First(&disease)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, diseaseID)
	}
	return &disease, result.Error
}

func (r *Repository) Deactivate(ctx context.Context, diseaseID string) error {
	result := r.db.WithContext(ctx).Model(&StandardDisease{}).
		Where("disease_id = ?", diseaseID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, diseaseID)
	}
	return nil
}

// Search performs a case-insensitive substring match over the standard names.
func (r *Repository) Search(ctx context.Context, query string, limit int) ([]StandardDisease, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var diseases []StandardDisease
	result := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("lower(standard_name_en) LIKE ? OR lower(standard_name_zh) LIKE ? OR lower(disease_id) LIKE ?",
			pattern, pattern, pattern).
		Order("disease_id ASC").
		Limit(limit).
		Find(&diseases)
	return diseases, result.Error
}

func (r *Repository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&StandardDisease{}).
		Where("is_active = ?", true).
		Count(&count)
	return count, result.Error
}

func validate(disease *StandardDisease) error {
	if disease == nil {
		return ErrInvalidEntry
	}
	if strings.TrimSpace(disease.DiseaseID) == "" {
		return fmt.Errorf("%w: empty disease_id", ErrInvalidEntry)
	}
	if strings.TrimSpace(disease.StandardNameEN) == "" {
		return fmt.Errorf("%w: empty standard_name_en for %s", ErrInvalidEntry, disease.DiseaseID)
	}
	return nil
}
