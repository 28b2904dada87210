package registry

import (
	"time"

	"gorm.io/datatypes"
)

// StandardDisease is one canonical registry entry. DiseaseID is assigned at
// creation and never reused or mutated; rows are soft-deactivated, never
// deleted, because historical records reference them.
type StandardDisease struct {
	DiseaseID       string            `gorm:"primaryKey;column:disease_id" json:"disease_id"`
	StandardNameEN  string            `gorm:"column:standard_name_en;index" json:"standard_name_en"`
	StandardNameZH  string            `gorm:"column:standard_name_zh;index" json:"standard_name_zh"`
	Category        string            `gorm:"column:category" json:"category"`
	ExternalCodes   datatypes.JSONMap `gorm:"column:external_codes" json:"external_codes,omitempty"`
	Description     string            `gorm:"column:description" json:"description,omitempty"`
	ConfidenceScore float64           `gorm:"column:confidence_score" json:"confidence_score"`
	IsActive        bool              `gorm:"column:is_active;default:true" json:"is_active"`
	Source          string            `gorm:"column:source" json:"source,omitempty"`
	CreatedBy       string            `gorm:"column:created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (StandardDisease) TableName() string {
	return "standard_diseases"
}

// Disease categories recognized by the registry.
const (
	CategoryViral     = "Viral"
	CategoryBacterial = "Bacterial"
	CategoryParasitic = "Parasitic"
	CategoryFungal    = "Fungal"
	CategoryOther     = "Other"
)
