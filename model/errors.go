package model

import "fmt"

// Closed error type enumeration. Every structured error returned by the
// engine carries one of these.
const (
	ErrTypeNotFound           = "not_found"
	ErrTypeInvalidResumeToken = "invalid_resume_token"
	ErrTypeExpired            = "expired"
	ErrTypeConflict           = "conflict"
	ErrTypeValidationFailed   = "validation_failed"
	ErrTypeNeedsApproval      = "needs_approval"
	ErrTypeBadRequest         = "bad_request"
	ErrTypeUnauthorized       = "unauthorized"
	ErrTypeInternal           = "internal_error"
)

// ErrorEnvelope is the structured error result returned by every operation.
// It implements the error interface. Retryable tells an automated caller
// whether resubmitting the same request can ever succeed; NextActions tells
// it what to do instead.
type ErrorEnvelope struct {
	Type        string       `json:"type"`
	Message     string       `json:"message"`
	Retryable   bool         `json:"retryable"`
	NextActions []string     `json:"nextActions,omitempty"`
	Details     []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewNotFoundError returns a not_found error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Type: ErrTypeNotFound, Message: msg}
}

// NewInvalidResumeTokenError returns an invalid_resume_token error. The
// presented token is never echoed back.
func NewInvalidResumeTokenError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Type:        ErrTypeInvalidResumeToken,
		Message:     "resume token is not the most recently issued token for this submission",
		NextActions: []string{"reobtain_resume_token"},
	}
}

// NewExpiredError returns an expired error.
func NewExpiredError(submissionID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Type:    ErrTypeExpired,
		Message: fmt.Sprintf("submission %q has expired", submissionID),
	}
}

// NewConflictError returns a conflict error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Type: ErrTypeConflict, Message: msg}
}

// NewValidationFailedError returns a validation_failed error with field-level
// details. Validation failures are recoverable: the caller corrects input and
// retries.
func NewValidationFailedError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Type:        ErrTypeValidationFailed,
		Message:     "one or more fields are missing or invalid",
		Retryable:   true,
		NextActions: []string{"correct_fields"},
		Details:     details,
	}
}

// NewNeedsApprovalError returns a needs_approval outcome. This is a soft
// block, not a failure: the submission is parked in needs_review and a human
// must act before delivery proceeds.
func NewNeedsApprovalError(submissionID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Type:        ErrTypeNeedsApproval,
		Message:     fmt.Sprintf("submission %q requires human review before delivery", submissionID),
		NextActions: []string{"wait_for_review", "poll_submission_state"},
	}
}

// NewBadRequestError returns a bad_request error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Type: ErrTypeBadRequest, Message: msg}
}

// NewUnauthorizedError returns an unauthorized error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Type: ErrTypeUnauthorized, Message: msg}
}

// NewInternalError returns an internal_error.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Type:    ErrTypeInternal,
		Message: "an unexpected error occurred",
	}
}
