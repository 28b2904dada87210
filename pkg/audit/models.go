package audit

import (
	"time"

	"gorm.io/datatypes"
)

// Actions recorded against the mapping subsystem. The trail is append-only:
// structural history is reconstructable by replaying events in order.
const (
	ActionCreateDisease     = "create_disease"
	ActionDeactivateDisease = "deactivate_disease"
	ActionCreateMapping     = "create_mapping"
	ActionDeactivateMapping = "deactivate_mapping"
	ActionCorrectMapping    = "correct_mapping"
	ActionApproveSuggestion = "approve_suggestion"
	ActionRejectSuggestion  = "reject_suggestion"
	ActionMergeSuggestion   = "merge_suggestion"
	ActionBulkLoad          = "bulk_load"
)

type Event struct {
	ID          string            `gorm:"primaryKey;column:id" json:"id"`
	Actor       string            `gorm:"column:actor" json:"actor"`
	Action      string            `gorm:"column:action;index" json:"action"`
	Entity      string            `gorm:"column:entity" json:"entity"`
	EntityID    string            `gorm:"column:entity_id;index" json:"entity_id"`
	CountryCode string            `gorm:"column:country_code;index" json:"country_code,omitempty"`
	Payload     datatypes.JSONMap `gorm:"column:payload" json:"payload,omitempty"`
	CreatedAt   time.Time         `gorm:"column:created_at;index" json:"created_at"`
}

func (Event) TableName() string {
	return "audit_events"
}
