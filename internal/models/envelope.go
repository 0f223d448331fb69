package models

import "time"

// Socket-only envelope types, used for control replies
const (
	TypeConnected  = "CONNECTED"
	TypeRoomJoined = "ROOM_JOINED"
	TypeRoomLeft   = "ROOM_LEFT"
	TypeError      = "ERROR"
	TypePong       = "PONG"
)

// Envelope is the one canonical message shape pushed to clients
type Envelope struct {
	Type string       `json:"type"`
	Data any          `json:"data"`
	Meta EnvelopeMeta `json:"meta"`
}

// EnvelopeMeta carries delivery metadata
type EnvelopeMeta struct {
	Timestamp string `json:"timestamp"`
}

// NewEnvelope builds an envelope stamped with the given time in ISO-8601 (UTC)
func NewEnvelope(typ string, data any, at time.Time) Envelope {
	return Envelope{
		Type: typ,
		Data: data,
		Meta: EnvelopeMeta{Timestamp: at.UTC().Format(time.RFC3339Nano)},
	}
}
