package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventKinds(t *testing.T) {
	for _, k := range []EventKind{KindLike, KindComment, KindFollow} {
		assert.True(t, k.RecipientDirected(), k)
		assert.True(t, k.Valid(), k)
	}
	for _, k := range []EventKind{KindPostCreated, KindPostDeleted, KindPostLikesUpdated, KindPostCommentsUpdated} {
		assert.False(t, k.RecipientDirected(), k)
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, EventKind("SHARE").Valid())
}

func TestEventBuilders(t *testing.T) {
	const post = "65f1a2b3c4d5e6f708192a3b"

	like := (&Like{PostID: post, UserID: 3}).LikedEvent(9)
	assert.Equal(t, EmitInput{Kind: KindLike, ActorID: 3, RecipientID: 9, SubjectRef: post, PostID: post}, like)

	c := &Comment{PostID: post, UserID: 3, Content: "nice"}
	c.ID = 14
	comment := c.CommentedEvent(9)
	assert.Equal(t, "14", comment.SubjectRef)
	assert.Equal(t, "nice", comment.Data["content"])
	assert.Equal(t, uint(9), comment.RecipientID)

	follow := (&Follow{FollowerID: 3, FollowingID: 9}).FollowedEvent()
	assert.Equal(t, EmitInput{Kind: KindFollow, ActorID: 3, RecipientID: 9, SubjectRef: "3"}, follow)

	broadcast := PostEvent(KindPostLikesUpdated, 3, post, map[string]any{"likes_count": 2})
	assert.Zero(t, broadcast.RecipientID)
	assert.Equal(t, post, broadcast.PostID)
}
