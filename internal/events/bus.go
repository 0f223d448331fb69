package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"go.uber.org/zap"
)

var ErrBusClosed = errors.New("event bus closed")

// Handler consumes one event. A returned error is reported, never propagated as a failure
// of the action that produced the event.
type Handler func(ctx context.Context, evt models.Event) error

type subscription struct {
	name    string
	handler Handler
}

type queued struct {
	ctx context.Context
	evt models.Event
}

// Bus is the in-process publish point between action handlers and the notification core.
// Handlers run in subscription order. In sync mode Publish runs them in the caller's goroutine;
// in async mode one worker drains a single FIFO queue, so a publisher's events are
// delivered in call order either way.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription

	// closeMu guards closed and the queue send; the worker never takes it
	closeMu sync.RWMutex
	closed  bool

	queue chan queued
	done  chan struct{}
	log   *zap.Logger
}

type BusOption func(*Bus)

// WithAsync detaches dispatch from the request path behind a queue of the given size
func WithAsync(queueSize int) BusOption {
	return func(b *Bus) {
		if queueSize <= 0 {
			queueSize = 1
		}
		b.queue = make(chan queued, queueSize)
	}
}

func NewBus(log *zap.Logger, opts ...BusOption) *Bus {
	b := &Bus{log: log.With(zap.String("component", "event.bus"))}
	for _, opt := range opts {
		opt(b)
	}
	if b.queue != nil {
		b.done = make(chan struct{})
		go b.run()
	}
	return b
}

// Subscribe registers a handler under a name used in logs
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: h})
}

// Publish hands evt to every subscriber. It never panics into the caller.
// In sync mode the returned error joins the handler errors and is a warning only;
// in async mode it is non-nil only when the event could not be queued.
func (b *Bus) Publish(ctx context.Context, evt models.Event) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	if b.queue == nil {
		return b.deliver(ctx, evt)
	}

	// the request context ends with the response; keep its values only
	select {
	case b.queue <- queued{ctx: context.WithoutCancel(ctx), evt: evt}:
		return nil
	case <-ctx.Done():
		b.log.Warn("event dropped, queue full",
			zap.String("kind", string(evt.Kind)), zap.String("event_id", evt.ID))
		return ctx.Err()
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for q := range b.queue {
		if err := b.deliver(q.ctx, q.evt); err != nil {
			b.log.Warn("async delivery finished with errors",
				zap.String("kind", string(q.evt.Kind)), zap.String("event_id", q.evt.ID), zap.Error(err))
		}
	}
}

func (b *Bus) deliver(ctx context.Context, evt models.Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := b.call(ctx, s, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) call(ctx context.Context, s subscription, evt models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("handler", s.name), zap.String("kind", string(evt.Kind)), zap.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, evt)
}

// Close stops accepting events and waits for the async queue to drain or ctx to end
func (b *Bus) Close(ctx context.Context) error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	b.closeMu.Unlock()

	if b.queue == nil {
		return nil
	}
	close(b.queue)
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
