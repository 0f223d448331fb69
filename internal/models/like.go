package models

import "time"

// Like is one user's like on a post; a user likes a post at most once
type Like struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	PostID    string    `json:"post_id" gorm:"size:24;not null;uniqueIndex:idx_likes_post_user,priority:1"` // MongoDB ObjectID hex
	UserID    uint      `json:"user_id" gorm:"not null;index;uniqueIndex:idx_likes_post_user,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// LikedEvent notifies the author of the liked post
func (l *Like) LikedEvent(authorID uint) EmitInput {
	return EmitInput{
		Kind:        KindLike,
		ActorID:     l.UserID,
		RecipientID: authorID,
		SubjectRef:  l.PostID,
		PostID:      l.PostID,
	}
}
