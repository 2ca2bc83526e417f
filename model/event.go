package model

import "time"

// Event type constants. This enumeration is closed: stores and sinks reject
// nothing, but the engine only ever emits these.
const (
	EventSubmissionCreated   = "submission.created"
	EventFieldUpdated        = "field.updated"
	EventValidationPassed    = "validation.passed"
	EventValidationFailed    = "validation.failed"
	EventUploadRequested     = "upload.requested"
	EventUploadCompleted     = "upload.completed"
	EventUploadFailed        = "upload.failed"
	EventSubmissionSubmitted = "submission.submitted"
	EventReviewRequested     = "review.requested"
	EventReviewApproved      = "review.approved"
	EventReviewRejected      = "review.rejected"
	EventDeliveryAttempted   = "delivery.attempted"
	EventDeliverySucceeded   = "delivery.succeeded"
	EventDeliveryFailed      = "delivery.failed"
	EventSubmissionFinalized = "submission.finalized"
	EventSubmissionCancelled = "submission.cancelled"
	EventSubmissionExpired   = "submission.expired"
	EventHandoffLinkIssued   = "handoff.link_issued"
	EventHandoffResumed      = "handoff.resumed"
)

// IntakeEvent is one entry in a submission's append-only audit log. Position
// is assigned by the store and strictly increases per submission.
type IntakeEvent struct {
	EventID      string         `json:"event_id"`
	Type         string         `json:"type"`
	SubmissionID string         `json:"submission_id"`
	Position     int64          `json:"position"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        Actor          `json:"actor"`
	State        string         `json:"state"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// EventFilter selects a subset of a submission's events. Zero values mean
// "no constraint". Filtering never reorders: results are always a subsequence
// of the chronological log.
type EventFilter struct {
	Types      []string
	ActorKinds []string
	Since      time.Time
	Until      time.Time
	Offset     int
	Limit      int
}

// Matches reports whether an event passes the filter's type, actor-kind, and
// time-range constraints. Offset and Limit are applied by the store.
func (f EventFilter) Matches(evt IntakeEvent) bool {
	if len(f.Types) > 0 && !containsString(f.Types, evt.Type) {
		return false
	}
	if len(f.ActorKinds) > 0 && !containsString(f.ActorKinds, evt.Actor.Kind) {
		return false
	}
	if !f.Since.IsZero() && evt.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && evt.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
