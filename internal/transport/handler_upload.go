package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/model"
)

func handleUploadRequest(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResumeToken string    `json:"resumeToken"`
			Actor       actorBody `json:"actor"`
			Field       string    `json:"field"`
			Filename    string    `json:"filename"`
			ContentType string    `json:"contentType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Field == "" {
			WriteBadRequest(w, "field is required")
			return
		}

		res, err := engine.RequestUpload(r.Context(), submission.RequestUploadParams{
			ID:          chi.URLParam(r, "submissionId"),
			ResumeToken: body.ResumeToken,
			Actor:       body.Actor.toModel(),
			FieldPath:   body.Field,
			Filename:    body.Filename,
			ContentType: body.ContentType,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]any{
			"upload":     res.Grant,
			"submission": newSubmissionResponse(res.Submission, nil, true),
		})
	}
}

func handleUploadConfirm(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResumeToken string    `json:"resumeToken"`
			Actor       actorBody `json:"actor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		res, err := engine.ConfirmUpload(r.Context(), submission.ConfirmUploadParams{
			ID:          chi.URLParam(r, "submissionId"),
			ResumeToken: body.ResumeToken,
			Actor:       body.Actor.toModel(),
			UploadID:    chi.URLParam(r, "uploadId"),
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, newSubmissionResponse(res.Submission, res.MissingFields, true))
	}
}
