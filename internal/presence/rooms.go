package presence

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FeedRoom holds every connection currently viewing the global feed
const FeedRoom = "feed:global"

const postRoomPrefix = "post:"

// PostRoom is the room of clients viewing one post's detail page
func PostRoom(postID string) string {
	return postRoomPrefix + postID
}

// ValidRoom reports whether a client may join roomID.
// Only the feed room and post rooms exist; users never join another user's stream.
func ValidRoom(roomID string) bool {
	if roomID == FeedRoom {
		return true
	}
	id, ok := strings.CutPrefix(roomID, postRoomPrefix)
	return ok && primitive.IsValidObjectID(id)
}
