package mapping

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
	ErrNoMapping        = errors.New("no mapping found")
	ErrDuplicateMapping = errors.New("mapping already exists for this local name")
	ErrInvalidMapping   = errors.New("invalid mapping")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	if err := r.db.AutoMigrate(&CountryMapping{}); err != nil {
		return err
	}
	// Uniqueness holds among active rows only, so a correction can
	// deactivate the old row and insert a replacement under the same name.
	return r.db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_country_local_active " +
			"ON disease_mappings (country_code, local_name) WHERE is_active",
	).Error
}

// FindExact is the stage-1 lookup: case-sensitive match of local_name among
// active rows for a country. Tie-break is priority, then accumulated usage,
// then lexicographic disease_id for determinism.
func (r *Repository) FindExact(ctx context.Context, countryCode, localName string) (*CountryMapping, error) {
	var m CountryMapping
	result := r.db.WithContext(ctx).
		Where("country_code = ? AND local_name = ? AND is_active = ?", countryCode, localName, true).
		Order("priority DESC").
		Order("usage_count DESC").
		Order("disease_id ASC").
		First(&m)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoMapping, countryCode, localName)
	}
	return &m, result.Error
}

// ActiveForCountry returns every active mapping for a country; candidate set
// for the fuzzy and semantic stages.
func (r *Repository) ActiveForCountry(ctx context.Context, countryCode string) ([]CountryMapping, error) {
	var mappings []CountryMapping
	result := r.db.WithContext(ctx).
		Where("country_code = ? AND is_active = ?", countryCode, true).
		Order("priority DESC").
		Order("usage_count DESC").
		Order("disease_id ASC").
		Find(&mappings)
	return mappings, result.Error
}

// IncrementUsage bumps usage_count atomically in a single UPDATE, so
// concurrent batches never lose increments.
func (r *Repository) IncrementUsage(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&CountryMapping{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
			"updated_at":   now,
		}).Error
}

// Create inserts a new mapping. An existing active mapping for the same
// (country_code, local_name) yields ErrDuplicateMapping; the unique index is
// the final arbiter under concurrent inserts.
func (r *Repository) Create(ctx context.Context, m *CountryMapping) error {
	if err := validate(m); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.IsActive = true
	err := r.db.WithContext(ctx).Create(m).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateMapping, m.CountryCode, m.LocalName)
	}
	return err
}

// Upsert refreshes disease_id and ranking fields when an active mapping for
// the pair already exists, otherwise inserts. Used by the bulk loader.
func (r *Repository) Upsert(ctx context.Context, m *CountryMapping) error {
	if err := validate(m); err != nil {
		return err
	}
	var existing CountryMapping
	err := r.db.WithContext(ctx).
		Where("country_code = ? AND local_name = ? AND is_active = ?", m.CountryCode, m.LocalName, true).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.Create(ctx, m)
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&CountryMapping{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"disease_id":       m.DiseaseID,
			"local_code":       m.LocalCode,
			"is_primary":       m.IsPrimary,
			"is_alias":         m.IsAlias,
			"priority":         m.Priority,
			"confidence_score": m.ConfidenceScore,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*CountryMapping, error) {
	var m CountryMapping
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoMapping, id)
	}
	return &m, result.Error
}

func (r *Repository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&CountryMapping{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNoMapping, id)
	}
	return nil
}

// Search performs a case-insensitive substring match over local names.
func (r *Repository) Search(ctx context.Context, query string, limit int) ([]CountryMapping, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var mappings []CountryMapping
	result := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("lower(local_name) LIKE ?", pattern).
		Order("usage_count DESC").
		Limit(limit).
		Find(&mappings)
	return mappings, result.Error
}

// Counts reports total, primary and alias mapping counts for a country. An
// empty country code counts across all countries.
func (r *Repository) Counts(ctx context.Context, countryCode string) (total, primary, alias int64, err error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&CountryMapping{}).Where("is_active = ?", true)
		if countryCode != "" {
			q = q.Where("country_code = ?", countryCode)
		}
		return q
	}
	if err = base().Count(&total).Error; err != nil {
		return
	}
	if err = base().Where("is_primary = ?", true).Count(&primary).Error; err != nil {
		return
	}
	err = base().Where("is_alias = ?", true).Count(&alias).Error
	return
}

func validate(m *CountryMapping) error {
	if m == nil {
		return ErrInvalidMapping
	}
	if strings.TrimSpace(m.DiseaseID) == "" {
		return fmt.Errorf("%w: empty disease_id", ErrInvalidMapping)
	}
	if strings.TrimSpace(m.CountryCode) == "" {
		return fmt.Errorf("%w: empty country_code", ErrInvalidMapping)
	}
	if strings.TrimSpace(m.LocalName) == "" {
		return fmt.Errorf("%w: empty local_name", ErrInvalidMapping)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
