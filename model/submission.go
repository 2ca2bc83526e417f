package model

import "time"

// Submission state constants.
const (
	StateDraft          = "draft"
	StateInProgress     = "in_progress"
	StateAwaitingInput  = "awaiting_input"
	StateAwaitingUpload = "awaiting_upload"
	StateSubmitted      = "submitted"
	StateNeedsReview    = "needs_review"
	StateApproved       = "approved"
	StateRejected       = "rejected"
	StateFinalized      = "finalized"
	StateCancelled      = "cancelled"
	StateExpired        = "expired"
)

// Actor kind constants.
const (
	ActorKindAgent  = "agent"
	ActorKindHuman  = "human"
	ActorKindSystem = "system"
)

// transitions is the fixed directed graph of allowed state transitions.
// Terminal states have no outgoing edges and never appear as a source.
var transitions = map[string][]string{
	StateDraft:          {StateInProgress, StateAwaitingInput, StateAwaitingUpload, StateSubmitted, StateNeedsReview, StateCancelled, StateExpired},
	StateInProgress:     {StateInProgress, StateAwaitingInput, StateAwaitingUpload, StateSubmitted, StateNeedsReview, StateCancelled, StateExpired},
	StateAwaitingInput:  {StateInProgress, StateAwaitingInput, StateAwaitingUpload, StateSubmitted, StateNeedsReview, StateCancelled, StateExpired},
	StateAwaitingUpload: {StateInProgress, StateAwaitingInput, StateAwaitingUpload, StateSubmitted, StateNeedsReview, StateCancelled, StateExpired},
	StateSubmitted:      {StateFinalized, StateCancelled, StateExpired},
	StateNeedsReview:    {StateApproved, StateRejected, StateInProgress, StateDraft, StateCancelled, StateExpired},
	StateApproved:       {StateFinalized, StateCancelled, StateExpired},
}

// IsTerminalState reports whether a submission in the given state can never
// transition again.
func IsTerminalState(state string) bool {
	switch state {
	case StateFinalized, StateCancelled, StateRejected, StateExpired:
		return true
	}
	return false
}

// CanTransition reports whether the transition graph permits moving from one
// state to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Actor identifies who performed an action on a submission.
type Actor struct {
	Kind     string            `json:"kind"`
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SystemActor is the actor recorded for engine-driven transitions such as
// expiry and delivery finalization.
func SystemActor() Actor {
	return Actor{Kind: ActorKindSystem, ID: "system"}
}

// Upload status constants.
const (
	UploadPending   = "pending"
	UploadCompleted = "completed"
	UploadFailed    = "failed"
)

// UploadRecord tracks one requested upload on a submission.
type UploadRecord struct {
	UploadID    string     `json:"upload_id"`
	FieldPath   string     `json:"field_path"`
	Filename    string     `json:"filename,omitempty"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Submission is the persisted submission record. FieldAttribution's key set
// is always exactly the set of fields that have been explicitly set.
type Submission struct {
	ID                  string                  `json:"id"`
	IntakeID            string                  `json:"intake_id"`
	State               string                  `json:"state"`
	ResumeToken         string                  `json:"resume_token"`
	Fields              map[string]any          `json:"fields,omitempty"`
	FieldAttribution    map[string]Actor        `json:"field_attribution,omitempty"`
	CreatedBy           Actor                   `json:"created_by"`
	UpdatedBy           Actor                   `json:"updated_by"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
	ExpiresAt           *time.Time              `json:"expires_at,omitempty"`
	SeenIdempotencyKeys map[string]bool         `json:"seen_idempotency_keys,omitempty"`
	Uploads             map[string]UploadRecord `json:"uploads,omitempty"`
	Version             int                     `json:"version"`
}

// ExpiredAt reports whether the submission's TTL has elapsed at the given
// instant. Terminal states are frozen and never re-expire.
func (s Submission) ExpiredAt(now time.Time) bool {
	if IsTerminalState(s.State) {
		return false
	}
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// Clone returns a deep copy. Stores hand out clones so callers can't mutate
// persisted state through shared maps.
func (s Submission) Clone() Submission {
	out := s
	if s.Fields != nil {
		out.Fields = make(map[string]any, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	if s.FieldAttribution != nil {
		out.FieldAttribution = make(map[string]Actor, len(s.FieldAttribution))
		for k, v := range s.FieldAttribution {
			out.FieldAttribution[k] = v
		}
	}
	if s.SeenIdempotencyKeys != nil {
		out.SeenIdempotencyKeys = make(map[string]bool, len(s.SeenIdempotencyKeys))
		for k, v := range s.SeenIdempotencyKeys {
			out.SeenIdempotencyKeys[k] = v
		}
	}
	if s.Uploads != nil {
		out.Uploads = make(map[string]UploadRecord, len(s.Uploads))
		for k, v := range s.Uploads {
			out.Uploads[k] = v
		}
	}
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

// SubmissionSummary is the lightweight representation used in list views.
// It carries no field values and, deliberately, no resume token.
type SubmissionSummary struct {
	ID        string    `json:"submissionId"`
	IntakeID  string    `json:"intakeId"`
	State     string    `json:"state"`
	CreatedBy Actor     `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary projects the submission onto its list-view representation.
func (s Submission) Summary() SubmissionSummary {
	return SubmissionSummary{
		ID:        s.ID,
		IntakeID:  s.IntakeID,
		State:     s.State,
		CreatedBy: s.CreatedBy,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
