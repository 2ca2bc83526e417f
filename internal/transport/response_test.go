package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/formbridge/formbridge/model"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{model.NewBadRequestError("x"), http.StatusBadRequest},
		{model.NewUnauthorizedError("x"), http.StatusUnauthorized},
		{model.NewNotFoundError("x"), http.StatusNotFound},
		{model.NewInvalidResumeTokenError(), http.StatusConflict},
		{model.NewConflictError("x"), http.StatusConflict},
		{model.NewExpiredError("sub-1"), http.StatusGone},
		{model.NewValidationFailedError(nil), http.StatusUnprocessableEntity},
		{model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteError(rec, tt.err)
		if rec.Code != tt.status {
			t.Errorf("WriteError(%v) status = %d, want %d", tt.err, rec.Code, tt.status)
		}
	}
}

func TestWriteErrorWrapsPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if body == "" || !json.Valid(rec.Body.Bytes()) {
		t.Errorf("body = %q, want a JSON envelope", body)
	}
}

func TestSubmissionResponseTokenControl(t *testing.T) {
	sub := model.Submission{ID: "sub-1", IntakeID: "vendor-onboarding", ResumeToken: "fbrt_secret"}

	with := newSubmissionResponse(sub, nil, true)
	if with.ResumeToken != "fbrt_secret" {
		t.Error("token missing from token-authenticated response")
	}
	without := newSubmissionResponse(sub, nil, false)
	if without.ResumeToken != "" {
		t.Error("token leaked on a read path")
	}
	if without.Fields == nil || without.MissingFields == nil {
		t.Error("nil slices should serialize as empty, not null")
	}
}
