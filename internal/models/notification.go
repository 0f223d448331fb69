package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is the durable record of "recipient X was notified that Y happened" (PostgreSQL).
// Only IsRead ever changes after creation.
type Notification struct {
	ID          uint              `json:"id" gorm:"primaryKey"`
	RecipientID uint              `json:"recipient_id" gorm:"index:idx_notifications_recipient_created,priority:1;not null"`
	ActorID     uint              `json:"actor_id" gorm:"index;not null"`
	Kind        EventKind         `json:"kind" gorm:"size:30;index;not null"` // LIKE, COMMENT, FOLLOW
	SubjectRef  string            `json:"subject_ref" gorm:"size:128"`        // post ID, comment ID or user ID
	Message     string            `json:"message"`
	Data        datatypes.JSONMap `json:"data,omitempty" gorm:"type:jsonb"`
	IsRead      bool              `json:"is_read" gorm:"default:false;index"`
	CreatedAt   time.Time         `json:"created_at" gorm:"index:idx_notifications_recipient_created,priority:2"`
}
