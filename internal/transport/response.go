// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the submission API.
package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/formbridge/formbridge/model"
)

// statusForType maps ErrorEnvelope types to HTTP status codes.
var statusForType = map[string]int{
	model.ErrTypeBadRequest:         http.StatusBadRequest,
	model.ErrTypeUnauthorized:       http.StatusUnauthorized,
	model.ErrTypeNotFound:           http.StatusNotFound,
	model.ErrTypeInvalidResumeToken: http.StatusConflict,
	model.ErrTypeConflict:           http.StatusConflict,
	model.ErrTypeExpired:            http.StatusGone,
	model.ErrTypeValidationFailed:   http.StatusUnprocessableEntity,
	model.ErrTypeNeedsApproval:      http.StatusAccepted,
	model.ErrTypeInternal:           http.StatusInternalServerError,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is returned.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := statusForType[ee.Type]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewBadRequestError(msg))
}

// submissionMetadata is the metadata block on submission responses.
type submissionMetadata struct {
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// submissionResponse is the standard submission representation.
type submissionResponse struct {
	SubmissionID  string             `json:"submissionId"`
	IntakeID      string             `json:"intakeId"`
	State         string             `json:"state"`
	ResumeToken   string             `json:"resumeToken,omitempty"`
	Fields        map[string]any     `json:"fields"`
	MissingFields []string           `json:"missingFields"`
	Metadata      submissionMetadata `json:"metadata"`
}

// newSubmissionResponse builds the wire representation of a submission.
// includeToken controls whether the current resume token is echoed; read
// paths that are not token-authenticated omit it.
func newSubmissionResponse(sub model.Submission, missing []string, includeToken bool) submissionResponse {
	resp := submissionResponse{
		SubmissionID:  sub.ID,
		IntakeID:      sub.IntakeID,
		State:         sub.State,
		Fields:        sub.Fields,
		MissingFields: missing,
		Metadata: submissionMetadata{
			CreatedAt: sub.CreatedAt,
			UpdatedAt: sub.UpdatedAt,
			ExpiresAt: sub.ExpiresAt,
		},
	}
	if resp.Fields == nil {
		resp.Fields = map[string]any{}
	}
	if resp.MissingFields == nil {
		resp.MissingFields = []string{}
	}
	if includeToken {
		resp.ResumeToken = sub.ResumeToken
	}
	return resp
}
