package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Post lives in MongoDB; its counters are kept in step with the likes and comments tables
type Post struct {
	ID            primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	UserID        uint               `json:"user_id" bson:"user_id"` // author
	Content       string             `json:"content" bson:"content"`
	ImageURLs     []string           `json:"image_urls,omitempty" bson:"image_urls,omitempty"`
	LikesCount    int                `json:"likes_count" bson:"likes_count"`
	CommentsCount int                `json:"comments_count" bson:"comments_count"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

type CreatePostRequest struct {
	Content   string   `json:"content" validate:"required,min=1,max=280"`
	ImageURLs []string `json:"image_urls,omitempty" validate:"omitempty,dive,url"`
}

// PostEvent builds a broadcast about post postID. Broadcast kinds carry no recipient.
func PostEvent(kind EventKind, actorID uint, postID string, data map[string]any) EmitInput {
	return EmitInput{
		Kind:       kind,
		ActorID:    actorID,
		SubjectRef: postID,
		PostID:     postID,
		Data:       data,
	}
}
