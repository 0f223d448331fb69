package models

import "time"

// EventKind identifies what happened in a domain event
type EventKind string

const (
	KindLike                EventKind = "LIKE"
	KindComment             EventKind = "COMMENT"
	KindFollow              EventKind = "FOLLOW"
	KindPostCreated         EventKind = "POST_CREATED"
	KindPostDeleted         EventKind = "POST_DELETED"
	KindPostLikesUpdated    EventKind = "POST_LIKES_UPDATED"
	KindPostCommentsUpdated EventKind = "POST_COMMENTS_UPDATED"
)

// RecipientDirected reports whether events of this kind notify a single user
// (and leave a durable notification record) instead of broadcasting to a room.
func (k EventKind) RecipientDirected() bool {
	switch k {
	case KindLike, KindComment, KindFollow:
		return true
	}
	return false
}

// Valid reports whether k is a known kind
func (k EventKind) Valid() bool {
	switch k {
	case KindLike, KindComment, KindFollow,
		KindPostCreated, KindPostDeleted, KindPostLikesUpdated, KindPostCommentsUpdated:
		return true
	}
	return false
}

// Event is the transient, in-memory description of a completed mutating action.
// It is never persisted; the Notification record is its durable projection.
type Event struct {
	ID          string         `json:"id"`
	Kind        EventKind      `json:"kind"`
	ActorID     uint           `json:"actor_id"`
	RecipientID uint           `json:"recipient_id,omitempty"` // 0 for broadcast-only kinds
	SubjectRef  string         `json:"subject_ref"`             // post ID, comment ID or user ID
	PostID      string         `json:"post_id,omitempty"`       // post the event is scoped to, used for room routing
	Message     string         `json:"message,omitempty"`       // overrides the rendered message when set
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// EmitInput is what action handlers hand to the notification core after their write succeeded
type EmitInput struct {
	Kind        EventKind      `validate:"required,oneof=LIKE COMMENT FOLLOW POST_CREATED POST_DELETED POST_LIKES_UPDATED POST_COMMENTS_UPDATED"`
	ActorID     uint           `validate:"required"`
	RecipientID uint           `validate:"required_if=Directed true"`
	SubjectRef  string         `validate:"required,max=128"`
	PostID      string         `validate:"omitempty,len=24,hexadecimal"`
	Message     string         `validate:"omitempty,max=500"`
	Data        map[string]any `validate:"-"`

	// Directed is derived from Kind before validation
	Directed bool `validate:"-"`
}
