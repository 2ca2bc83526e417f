// Package submission owns the submission lifecycle: the state machine, the
// append-only event log, and the stores that persist both.
package submission

import (
	"context"
	"time"

	"github.com/formbridge/formbridge/model"
)

// Store persists submissions, their event logs, and delivery attempts.
//
// Create and Save persist the submission and append its events as a single
// logical unit: both land or neither does, so the audit log never diverges
// from submission state. Save is version-checked: it fails with a conflict if
// the stored version differs from the one the caller read.
type Store interface {
	// Create persists a new submission and its initial events.
	Create(ctx context.Context, sub model.Submission, events []model.IntakeEvent) error

	// Get retrieves a submission by ID.
	Get(ctx context.Context, id string) (model.Submission, error)

	// GetByResumeToken retrieves a submission by its current resume token.
	GetByResumeToken(ctx context.Context, tok string) (model.Submission, error)

	// Save persists an updated submission and appends events atomically,
	// with optimistic locking on the submission version.
	Save(ctx context.Context, sub model.Submission, events []model.IntakeEvent) error

	// AppendEvents appends audit events without touching submission state.
	// Used by read-shaped operations (validate, handoff) that still audit.
	AppendEvents(ctx context.Context, submissionID string, events []model.IntakeEvent) error

	// GetEvents returns a submission's events in strict occurrence order,
	// narrowed by the filter. Filtering selects a subsequence; it never
	// reorders.
	GetEvents(ctx context.Context, submissionID string, filter model.EventFilter) ([]model.IntakeEvent, error)

	// RecordAttempt persists one delivery attempt.
	RecordAttempt(ctx context.Context, attempt model.DeliveryAttempt) error

	// GetAttempts returns a submission's delivery attempts in order.
	GetAttempts(ctx context.Context, submissionID string) ([]model.DeliveryAttempt, error)

	// List returns submissions for an intake, newest first.
	List(ctx context.Context, intakeID string, filters ListFilters) ([]model.Submission, error)

	// FindExpired returns non-terminal submissions whose expires_at is
	// before the cutoff.
	FindExpired(ctx context.Context, cutoff time.Time) ([]model.Submission, error)
}

// ListFilters are optional filters for listing submissions.
type ListFilters struct {
	State  string
	Limit  int
	Offset int
}
