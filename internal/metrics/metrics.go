// Package metrics exposes Prometheus counters for the notification pipeline.
package metrics

import (
	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Push results
const (
	PushDelivered = "delivered"
	PushFailed    = "failed"
	PushTimeout   = "timeout"
)

// Collector is what the bus, dispatcher and socket hub record into
type Collector interface {
	EventPublished(kind models.EventKind)
	DispatchState(kind models.EventKind, state string)
	PersistFailure(kind models.EventKind)
	Push(kind models.EventKind, result string)
	ConnectionOpened()
	ConnectionClosed()
}

// Prometheus records into its own registry
type Prometheus struct {
	published      *prometheus.CounterVec
	dispatch       *prometheus.CounterVec
	persistFailure *prometheus.CounterVec
	pushes         *prometheus.CounterVec
	connections    prometheus.Gauge
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_events_published_total",
			Help: "Domain events published on the bus",
		}, []string{"kind"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_dispatch_total",
			Help: "Dispatcher state transitions",
		}, []string{"kind", "state"}),
		persistFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_notifications_persist_failures_total",
			Help: "Notification records that could not be stored",
		}, []string{"kind"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_pushes_total",
			Help: "Per-connection push attempts by result",
		}, []string{"kind", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_connections",
			Help: "Currently open realtime connections",
		}),
	}

	reg.MustRegister(p.published, p.dispatch, p.persistFailure, p.pushes, p.connections)
	return p
}

func (p *Prometheus) EventPublished(kind models.EventKind) {
	p.published.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) DispatchState(kind models.EventKind, state string) {
	p.dispatch.WithLabelValues(string(kind), state).Inc()
}

func (p *Prometheus) PersistFailure(kind models.EventKind) {
	p.persistFailure.WithLabelValues(string(kind)).Inc()
}

func (p *Prometheus) Push(kind models.EventKind, result string) {
	p.pushes.WithLabelValues(string(kind), result).Inc()
}

func (p *Prometheus) ConnectionOpened() { p.connections.Inc() }
func (p *Prometheus) ConnectionClosed() { p.connections.Dec() }

// NopCollector discards everything
type NopCollector struct{}

func (NopCollector) EventPublished(models.EventKind)        {}
func (NopCollector) DispatchState(models.EventKind, string) {}
func (NopCollector) PersistFailure(models.EventKind)        {}
func (NopCollector) Push(models.EventKind, string)          {}
func (NopCollector) ConnectionOpened()                      {}
func (NopCollector) ConnectionClosed()                      {}
