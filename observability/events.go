package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published   *prometheus.CounterVec
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking the committed event stream.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmigrate",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events published to stream subscribers, by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendmigrate",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped because a subscriber buffer was full.",
			}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendmigrate",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Open event stream subscriptions.",
			}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped, eventRegistry.subscribers)
	})
	return eventRegistry
}

// RecordPublished increments the publish counter for the event type.
func (m *eventMetrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.published.WithLabelValues(normalized).Inc()
}

// RecordDropped counts one event a slow subscriber missed.
func (m *eventMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// AddSubscribers adjusts the open subscription gauge.
func (m *eventMetrics) AddSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.subscribers.Add(delta)
}
