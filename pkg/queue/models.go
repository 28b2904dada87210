package queue

import (
	"time"

	"gorm.io/datatypes"
)

// Suggestion statuses. pending is the only non-terminal state; every
// transition out of it is final.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusMerged   = "merged"
)

// UnresolvedSuggestion is the durable record of one local name the cascade
// could not confidently map. Repeated occurrences increment the counter
// instead of inserting duplicates; at most one pending row exists per
// (country_code, local_name).
type UnresolvedSuggestion struct {
	ID                  string            `gorm:"primaryKey;column:id" json:"id"`
	CountryCode         string            `gorm:"column:country_code;index:idx_suggestion_country_name" json:"country_code"`
	LocalName           string            `gorm:"column:local_name;index:idx_suggestion_country_name" json:"local_name"`
	OccurrenceCount     int64             `gorm:"column:occurrence_count" json:"occurrence_count"`
	FirstSeenAt         time.Time         `gorm:"column:first_seen_at" json:"first_seen_at"`
	LastSeenAt          time.Time         `gorm:"column:last_seen_at" json:"last_seen_at"`
	SuggestedDiseaseID  string            `gorm:"column:suggested_disease_id" json:"suggested_disease_id,omitempty"`
	SuggestedConfidence float64           `gorm:"column:suggested_confidence" json:"suggested_confidence,omitempty"`
	Status              string            `gorm:"column:status;index" json:"status"`
	FinalDiseaseID      string            `gorm:"column:final_disease_id" json:"final_disease_id,omitempty"`
	ReviewNote          string            `gorm:"column:review_note" json:"review_note,omitempty"`
	ReviewedBy          string            `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time        `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	Metadata            datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt           time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (UnresolvedSuggestion) TableName() string {
	return "disease_learning_suggestions"
}
