package models

import (
	"strconv"
	"time"
)

// Follow is a one-way edge; the (follower, following) pair is unique
type Follow struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	FollowerID  uint      `json:"follower_id" gorm:"not null;uniqueIndex:idx_follows_pair,priority:1"`
	FollowingID uint      `json:"following_id" gorm:"not null;index;uniqueIndex:idx_follows_pair,priority:2"`
	CreatedAt   time.Time `json:"created_at"`
}

// FollowedEvent notifies the followed user. The subject is the follower.
func (f *Follow) FollowedEvent() EmitInput {
	return EmitInput{
		Kind:        KindFollow,
		ActorID:     f.FollowerID,
		RecipientID: f.FollowingID,
		SubjectRef:  strconv.FormatUint(uint64(f.FollowerID), 10),
	}
}
