package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ActivityLog captures auditable actions such as manual triggers and settings changes.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ActorID    uint              `gorm:"not null" json:"actor_id"`
	ActorRole  string            `gorm:"size:32;not null" json:"actor_role"`
	Action     string            `gorm:"size:64;not null" json:"action"`
	EntityType string            `gorm:"size:64;not null;index:idx_ai_check_activity_entity" json:"entity_type"`
	EntityID   *uint             `gorm:"index:idx_ai_check_activity_entity" json:"entity_id"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
}

func (ActivityLog) TableName(namer schema.Namer) string {
	return namer.TableName("assignsubmission_ai_check_activity")
}
