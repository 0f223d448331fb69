package models

import (
	"strconv"

	"gorm.io/gorm"
)

// Comment is a comment on a Mongo-stored post. Soft deleted through gorm.Model.
type Comment struct {
	gorm.Model
	PostID  string `json:"post_id" gorm:"size:24;not null;index"` // MongoDB ObjectID hex
	UserID  uint   `json:"user_id" gorm:"not null;index"`
	Content string `json:"content"`
}

type CreateCommentRequest struct {
	Content string `json:"content" validate:"required,min=1,max=500"`
}

// CommentedEvent notifies the post author. The raw content travels in Data and
// is excerpted when the notification is rendered.
func (c *Comment) CommentedEvent(authorID uint) EmitInput {
	return EmitInput{
		Kind:        KindComment,
		ActorID:     c.UserID,
		RecipientID: authorID,
		SubjectRef:  strconv.FormatUint(uint64(c.ID), 10),
		PostID:      c.PostID,
		Data:        map[string]any{"comment_id": c.ID, "content": c.Content},
	}
}
