package observability

import "github.com/formbridge/formbridge/model"

// EventMetricsSink counts audit events by type as they are emitted.
type EventMetricsSink struct {
	metrics *Metrics
}

// NewEventMetricsSink creates a sink backed by the given metrics.
func NewEventMetricsSink(m *Metrics) *EventMetricsSink {
	return &EventMetricsSink{metrics: m}
}

// Emit records the event type.
func (s *EventMetricsSink) Emit(evt model.IntakeEvent) {
	s.metrics.RecordEventEmitted(evt.Type)
}
