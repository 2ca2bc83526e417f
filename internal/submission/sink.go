package submission

import "github.com/formbridge/formbridge/model"

// EventSink receives copies of audit events for downstream consumers
// (metrics, notifications). The authoritative log lives in the submission's
// own event sequence; sink emission is best-effort and must not block or
// fail an operation.
type EventSink interface {
	Emit(event model.IntakeEvent)
}

// NopSink discards all events.
type NopSink struct{}

// Emit discards the event.
func (NopSink) Emit(model.IntakeEvent) {}

// DeliveryDispatcher schedules webhook delivery for a submission. Dispatch
// is fire-and-forget: it must never block the request that triggered it.
type DeliveryDispatcher interface {
	Dispatch(submissionID string)
}

// NopDispatcher ignores dispatch requests.
type NopDispatcher struct{}

// Dispatch does nothing.
func (NopDispatcher) Dispatch(string) {}
