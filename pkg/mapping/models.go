package mapping

import (
	"time"
)

// Mapping sources.
const (
	SourceCurated = "curated"
	SourceCrawler = "crawler"
	SourceLearned = "learned"
)

// CountryMapping associates one local-language disease name with a canonical
// disease_id, scoped per country. Among active rows the pair
// (country_code, local_name) is unique; corrections deactivate the old row
// and insert a new one so history stays reconstructable.
type CountryMapping struct {
	ID              string     `gorm:"primaryKey;column:id" json:"id"`
	DiseaseID       string     `gorm:"column:disease_id;index" json:"disease_id"`
	CountryCode     string     `gorm:"column:country_code;index:idx_country_local" json:"country_code"`
	LocalName       string     `gorm:"column:local_name;index:idx_country_local" json:"local_name"`
	LocalCode       string     `gorm:"column:local_code" json:"local_code,omitempty"`
	IsPrimary       bool       `gorm:"column:is_primary" json:"is_primary"`
	IsAlias         bool       `gorm:"column:is_alias" json:"is_alias"`
	IsActive        bool       `gorm:"column:is_active;default:true" json:"is_active"`
	Priority        int        `gorm:"column:priority" json:"priority"`
	ConfidenceScore float64    `gorm:"column:confidence_score" json:"confidence_score"`
	UsageCount      int64      `gorm:"column:usage_count" json:"usage_count"`
	Source          string     `gorm:"column:source" json:"source"`
	CreatedBy       string     `gorm:"column:created_by" json:"created_by,omitempty"`
	LastUsedAt      *time.Time `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (CountryMapping) TableName() string {
	return "disease_mappings"
}
