// Package dispatch turns published events into notification records and real-time pushes.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/metrics"
	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/anonto42/nano-midea/pulse/internal/presence"
	"github.com/anonto42/nano-midea/pulse/internal/repositories"
	"github.com/anonto42/nano-midea/pulse/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultPushTimeout = 3 * time.Second

// State is a step of one event's trip through the dispatcher
type State string

const (
	StateReceived    State = "RECEIVED"
	StatePersisted   State = "PERSISTED"
	StateSkippedSelf State = "SKIPPED_SELF"
	StateFannedOut   State = "FANNED_OUT"
	StateDone        State = "DONE"
)

// Pusher writes a payload to one live connection
type Pusher interface {
	Send(ctx context.Context, connID string, payload []byte) error
}

// Locator answers which connections should receive a push
type Locator interface {
	ConnectionsFor(userID uint) []string
	ConnectionsInRooms(roomIDs ...string) []string
}

// ActorDirectory resolves display names for message templates
type ActorDirectory interface {
	DisplayNames(ctx context.Context, ids ...uint) (map[uint]string, error)
}

// Outcome reports what happened to one event
type Outcome struct {
	States       []State
	Notification *models.Notification // nil for broadcast kinds and self-actions
	Targets      int
	Delivered    int
	Failed       int
	// Warning is a wrapped models.ErrPersistenceUnavailable when the record could not be stored
	Warning error
}

func (o *Outcome) Final() State {
	if len(o.States) == 0 {
		return ""
	}
	return o.States[len(o.States)-1]
}

type Config struct {
	PushTimeout time.Duration
	Metrics     metrics.Collector
	Logger      *zap.Logger
}

type Dispatcher struct {
	store       repositories.NotificationRepository
	locator     Locator
	pusher      Pusher
	directory   ActorDirectory
	renderer    *Renderer
	metrics     metrics.Collector
	log         *zap.Logger
	tracer      trace.Tracer
	pushTimeout time.Duration
}

func New(store repositories.NotificationRepository, locator Locator, pusher Pusher, directory ActorDirectory, cfg Config) *Dispatcher {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopCollector{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{
		store:       store,
		locator:     locator,
		pusher:      pusher,
		directory:   directory,
		renderer:    NewRenderer(),
		metrics:     cfg.Metrics,
		log:         cfg.Logger.With(zap.String("component", "dispatch")),
		tracer:      otel.Tracer("pulse/dispatch"),
		pushTimeout: cfg.PushTimeout,
	}
}

// Handle is the bus subscription. Only a persistence failure comes back, as a warning.
func (d *Dispatcher) Handle(ctx context.Context, evt models.Event) error {
	return d.Dispatch(ctx, evt).Warning
}

// Dispatch runs one event to completion. It always ends in StateDone.
func (d *Dispatcher) Dispatch(ctx context.Context, evt models.Event) Outcome {
	ctx, span := d.tracer.Start(ctx, "dispatch "+string(evt.Kind), trace.WithAttributes(
		attribute.String("event.id", evt.ID),
		attribute.String("event.kind", string(evt.Kind)),
		attribute.Int("event.actor_id", int(evt.ActorID)),
	))
	defer span.End()

	log := logger.WithTrace(ctx, d.log).With(zap.String("kind", string(evt.Kind)), zap.String("event_id", evt.ID))
	out := Outcome{}
	d.enter(&out, evt.Kind, StateReceived)

	var (
		targets []string
		data    any
	)
	if evt.Kind.RecipientDirected() {
		if evt.ActorID == evt.RecipientID {
			d.enter(&out, evt.Kind, StateSkippedSelf)
			d.enter(&out, evt.Kind, StateDone)
			return out
		}

		actor := d.actor(ctx, evt.ActorID, log)
		n := d.project(evt, actor.Name)
		switch err := d.store.CreateNotification(ctx, n); {
		case errors.Is(err, models.ErrSelfNotification):
			d.enter(&out, evt.Kind, StateSkippedSelf)
			d.enter(&out, evt.Kind, StateDone)
			return out
		case err != nil:
			out.Warning = err
			d.metrics.PersistFailure(evt.Kind)
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist notification")
			log.Error("notification not persisted, pushing anyway", zap.Uint("recipient_id", evt.RecipientID), zap.Error(err))
		default:
			d.enter(&out, evt.Kind, StatePersisted)
		}
		out.Notification = n

		payload := map[string]any{"notification": n, "actor": actor}
		if unread, err := d.store.CountUnread(ctx, evt.RecipientID); err == nil {
			payload["unread_count"] = unread
		} else {
			log.Debug("unread count unavailable", zap.Error(err))
		}
		data = payload
		targets = d.locator.ConnectionsFor(evt.RecipientID)
	} else {
		data = d.broadcastData(ctx, evt, log)
		targets = d.locator.ConnectionsInRooms(Rooms(evt)...)
	}

	raw, err := json.Marshal(models.NewEnvelope(string(evt.Kind), data, evt.OccurredAt))
	if err != nil {
		log.Error("encode envelope", zap.Error(err))
	} else {
		out.Targets = len(targets)
		out.Delivered, out.Failed = d.fanOut(ctx, evt.Kind, targets, raw, log)
	}
	span.SetAttributes(attribute.Int("dispatch.targets", out.Targets), attribute.Int("dispatch.failed", out.Failed))

	d.enter(&out, evt.Kind, StateFannedOut)
	d.enter(&out, evt.Kind, StateDone)
	return out
}

// Rooms returns the rooms a broadcast event is delivered to
func Rooms(evt models.Event) []string {
	if evt.Kind == models.KindPostCreated || evt.PostID == "" {
		return []string{presence.FeedRoom}
	}
	return []string{presence.FeedRoom, presence.PostRoom(evt.PostID)}
}

func (d *Dispatcher) enter(out *Outcome, kind models.EventKind, s State) {
	out.States = append(out.States, s)
	d.metrics.DispatchState(kind, string(s))
}

func (d *Dispatcher) project(evt models.Event, actorName string) *models.Notification {
	n := &models.Notification{
		RecipientID: evt.RecipientID,
		ActorID:     evt.ActorID,
		Kind:        evt.Kind,
		SubjectRef:  evt.SubjectRef,
		Message:     d.renderer.Message(evt, actorName),
		CreatedAt:   evt.OccurredAt,
	}
	if len(evt.Data) > 0 {
		n.Data = make(map[string]any, len(evt.Data)+1)
		for k, v := range evt.Data {
			n.Data[k] = v
		}
	}
	if evt.PostID != "" {
		if n.Data == nil {
			n.Data = map[string]any{}
		}
		n.Data["post_id"] = evt.PostID
	}
	if content, ok := n.Data["content"].(string); ok {
		n.Data["content"] = d.renderer.Excerpt(content)
	}
	return n
}

func (d *Dispatcher) broadcastData(ctx context.Context, evt models.Event, log *zap.Logger) map[string]any {
	data := map[string]any{
		"actor":       d.actor(ctx, evt.ActorID, log),
		"subject_ref": evt.SubjectRef,
	}
	if evt.PostID != "" {
		data["post_id"] = evt.PostID
	}
	for k, v := range evt.Data {
		data[k] = v
	}
	return data
}

func (d *Dispatcher) actor(ctx context.Context, id uint, log *zap.Logger) models.UserCompact {
	actor := models.UserCompact{ID: id}
	if d.directory == nil {
		return actor
	}
	names, err := d.directory.DisplayNames(ctx, id)
	if err != nil {
		log.Debug("actor lookup failed", zap.Uint("actor_id", id), zap.Error(err))
		return actor
	}
	actor.Name = names[id]
	return actor
}

func (d *Dispatcher) fanOut(ctx context.Context, kind models.EventKind, targets []string, payload []byte, log *zap.Logger) (delivered, failed int) {
	if len(targets) == 0 {
		return 0, 0
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, connID := range targets {
		wg.Add(1)
		go func(i int, connID string) {
			defer wg.Done()
			errs[i] = d.push(ctx, kind, connID, payload)
		}(i, connID)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			failed++
			log.Debug("push failed", zap.String("conn_id", targets[i]), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered, failed
}

// push bounds one connection's write by the push timeout even if the pusher ignores ctx
func (d *Dispatcher) push(ctx context.Context, kind models.EventKind, connID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.pushTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.pusher.Send(ctx, connID, payload) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		d.metrics.Push(kind, metrics.PushDelivered)
		return nil
	}

	result := metrics.PushFailed
	if errors.Is(err, context.DeadlineExceeded) {
		result = metrics.PushTimeout
	}
	d.metrics.Push(kind, result)
	if errors.Is(err, models.ErrDeliveryUnreachable) {
		return err
	}
	return fmt.Errorf("push to %s: %w: %w", connID, models.ErrDeliveryUnreachable, err)
}
