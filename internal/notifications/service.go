// Package notifications is the surface action handlers and the socket transport use:
// emitting events, reading a user's notifications, and tracking connection lifecycle.
package notifications

import (
	"context"
	"fmt"

	"github.com/anonto42/nano-midea/pulse/internal/events"
	"github.com/anonto42/nano-midea/pulse/internal/metrics"
	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/presence"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/anonto42/nano-midea/pulse/validators"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher is satisfied by *events.Bus
type Publisher interface {
	Publish(ctx context.Context, evt models.Event) error
}

// Backfill is what a (re)connecting client pulls to catch up
type Backfill struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unread_count"`
}

type Service struct {
	bus      Publisher
	store    repositories.NotificationRepository
	presence *presence.Registry
	clock    *events.Clock
	validate *validator.Validate
	metrics  metrics.Collector
	log      *zap.Logger
}

func NewService(bus Publisher, store repositories.NotificationRepository, registry *presence.Registry, clock *events.Clock, m metrics.Collector, log *zap.Logger) *Service {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Service{
		bus:      bus,
		store:    store,
		presence: registry,
		clock:    clock,
		validate: validator.New(),
		metrics:  m,
		log:      log.With(zap.String("component", "notifications")),
	}
}

// Emit publishes a domain event for an action that already succeeded.
// A non-nil error is a warning for the caller: the action must not be rolled back because of it.
func (s *Service) Emit(ctx context.Context, in models.EmitInput) error {
	in.Directed = in.Kind.RecipientDirected()
	if err := s.validate.StructCtx(ctx, in); err != nil {
		s.log.Warn("rejected malformed event", zap.String("kind", string(in.Kind)), zap.Error(err))
		return fmt.Errorf("%w: %s", models.ErrInvalidEvent, validators.Describe(err))
	}

	evt := models.Event{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		ActorID:     in.ActorID,
		RecipientID: in.RecipientID,
		SubjectRef:  in.SubjectRef,
		PostID:      in.PostID,
		Message:     in.Message,
		Data:        in.Data,
		OccurredAt:  s.clock.Now(),
	}
	if !in.Directed {
		evt.RecipientID = 0
	}

	s.metrics.EventPublished(evt.Kind)
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.log.Warn("event published with warnings",
			zap.String("kind", string(evt.Kind)), zap.String("event_id", evt.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID uint, opts repositories.ListOptions) ([]models.Notification, error) {
	return s.store.ListForRecipient(ctx, userID, opts)
}

func (s *Service) CountUnread(ctx context.Context, userID uint) (int64, error) {
	return s.store.CountUnread(ctx, userID)
}

func (s *Service) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

// Backfill returns the newest notifications and the unread count in one call.
// It is safe to call any number of times.
func (s *Service) Backfill(ctx context.Context, userID uint, limit int) (*Backfill, error) {
	list, err := s.store.ListForRecipient(ctx, userID, repositories.ListOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Backfill{Notifications: list, UnreadCount: unread}, nil
}

func (s *Service) OnConnect(connID string, userID uint) {
	s.presence.Join(connID, userID)
	s.log.Debug("connection registered", zap.String("conn_id", connID), zap.Uint("user_id", userID))
}

// OnReconnect re-registers presence only; the client pulls what it missed through Backfill
func (s *Service) OnReconnect(connID string, userID uint) {
	s.presence.Join(connID, userID)
	s.log.Debug("connection re-registered", zap.String("conn_id", connID), zap.Uint("user_id", userID))
}

func (s *Service) OnDisconnect(connID string) {
	s.presence.Leave(connID)
	s.log.Debug("connection removed", zap.String("conn_id", connID))
}

// OnJoinRoom subscribes a connection to a feed or post room. Unknown connections are ignored.
func (s *Service) OnJoinRoom(connID, roomID string) error {
	if !presence.ValidRoom(roomID) {
		return fmt.Errorf("%w: %q", models.ErrInvalidRoom, roomID)
	}
	s.presence.JoinRoom(connID, roomID)
	return nil
}

func (s *Service) OnLeaveRoom(connID, roomID string) {
	s.presence.LeaveRoom(connID, roomID)
}
