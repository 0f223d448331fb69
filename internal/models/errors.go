package models

import "errors"

var (
	// ErrSelfNotification is returned when the actor and the recipient are the same user.
	// It is a normal skip, not a user-facing error.
	ErrSelfNotification = errors.New("self notification rejected")

	// ErrPersistenceUnavailable wraps notification store failures.
	// The triggering action still succeeds; the notification may be delayed.
	ErrPersistenceUnavailable = errors.New("notification persistence unavailable")

	// ErrDeliveryUnreachable means one connection could not be pushed to
	ErrDeliveryUnreachable = errors.New("delivery unreachable")

	// ErrUnknownConnection means the connection id is not registered
	ErrUnknownConnection = errors.New("unknown connection")

	ErrInvalidRoom  = errors.New("invalid room id")
	ErrInvalidEvent = errors.New("invalid event")
)
