package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"go.uber.org/zap"
)

// Mirror copies domain events to an external broker for consumers outside this process.
// It is a second bus subscriber; a failing mirror never affects notification delivery.
type Mirror interface {
	Publish(ctx context.Context, evt models.Event) error
	Close() error
}

// DefaultMirrorTimeout applies when MirrorHandler is given no timeout.
const DefaultMirrorTimeout = 250 * time.Millisecond

// MirrorHandler adapts a Mirror into a bus handler. Errors are logged and swallowed.
// Each publish runs under its own timeout: with a synchronous bus the handler runs on
// the emitting request, so a slow broker may delay that request by at most timeout.
func MirrorHandler(m Mirror, timeout time.Duration, log *zap.Logger) Handler {
	if timeout <= 0 {
		timeout = DefaultMirrorTimeout
	}
	log = log.With(zap.String("component", "event.mirror"))
	return func(ctx context.Context, evt models.Event) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := m.Publish(ctx, evt); err != nil {
			log.Warn("mirror publish failed",
				zap.String("kind", string(evt.Kind)), zap.String("event_id", evt.ID), zap.Error(err))
		}
		return nil
	}
}

func encodeEvent(evt models.Event) ([]byte, error) {
	return json.Marshal(evt)
}
