package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/model"
)

// handleHandoffIssue mints a signed link for passing a submission to another
// party. The caller must hold the current resume token; the link wraps it,
// so any later mutation kills the link along with the token.
func handleHandoffIssue(engine *submission.Engine, signer *HandoffSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResumeToken string    `json:"resumeToken"`
			Actor       actorBody `json:"actor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		id := chi.URLParam(r, "submissionId")
		sub, err := engine.VerifyToken(r.Context(), id, body.ResumeToken)
		if err != nil {
			WriteError(w, err)
			return
		}

		link, err := signer.IssueLink(sub.ID, sub.ResumeToken)
		if err != nil {
			WriteError(w, err)
			return
		}
		if _, err := engine.HandoffIssued(r.Context(), sub.ID, body.Actor.toModel()); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]string{
			"submissionId": sub.ID,
			"link":         link,
		})
	}
}

// handleHandoffResume exchanges a signed link for the submission and its
// current resume token.
func handleHandoffResume(engine *submission.Engine, signer *HandoffSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string    `json:"token"`
			Actor actorBody `json:"actor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Token == "" {
			WriteBadRequest(w, "token is required")
			return
		}

		submissionID, resumeToken, err := signer.Verify(body.Token)
		if err != nil {
			WriteError(w, err)
			return
		}

		actor := body.Actor
		if actor.Kind == "" {
			actor.Kind = model.ActorKindHuman
		}
		sub, err := engine.HandoffResumed(r.Context(), submissionID, resumeToken, actor.toModel())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, newSubmissionResponse(sub, nil, true))
	}
}
