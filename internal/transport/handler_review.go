package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/model"
)

type reviewBody struct {
	ResumeToken string    `json:"resumeToken"`
	Actor       actorBody `json:"actor"`
	Comment     string    `json:"comment"`
}

func handleReviewApprove(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body reviewBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		res, err := engine.Approve(r.Context(), submission.ReviewParams{
			ID:          chi.URLParam(r, "submissionId"),
			ResumeToken: body.ResumeToken,
			Actor:       reviewerActor(body.Actor),
			Comment:     body.Comment,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, newSubmissionResponse(res.Submission, nil, true))
	}
}

func handleReviewReject(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body reviewBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		res, err := engine.Reject(r.Context(), submission.ReviewParams{
			ID:          chi.URLParam(r, "submissionId"),
			ResumeToken: body.ResumeToken,
			Actor:       reviewerActor(body.Actor),
			Comment:     body.Comment,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, newSubmissionResponse(res.Submission, nil, false))
	}
}

func handleReviewRequestChanges(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResumeToken string            `json:"resumeToken"`
			Actor       actorBody         `json:"actor"`
			Comments    map[string]string `json:"comments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		res, err := engine.RequestChanges(r.Context(), submission.RequestChangesParams{
			ID:          chi.URLParam(r, "submissionId"),
			ResumeToken: body.ResumeToken,
			Actor:       reviewerActor(body.Actor),
			Comments:    body.Comments,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, newSubmissionResponse(res.Submission, res.MissingFields, true))
	}
}

// reviewerActor defaults the actor kind to human. Review decisions come from
// people unless a caller says otherwise.
func reviewerActor(a actorBody) model.Actor {
	if a.Kind == "" {
		a.Kind = model.ActorKindHuman
	}
	return a.toModel()
}
