package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/model"
)

// actorBody is the wire representation of the acting party on mutating
// requests. A request without an actor is treated as an agent call.
type actorBody struct {
	Kind     string            `json:"kind"`
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (a actorBody) toModel() model.Actor {
	kind := a.Kind
	if kind == "" {
		kind = model.ActorKindAgent
	}
	return model.Actor{Kind: kind, ID: a.ID, Name: a.Name, Metadata: a.Metadata}
}

// idempotencyKey reads the dedup key from the body value or the
// X-Idempotency-Key header, body winning.
func idempotencyKey(r *http.Request, bodyKey string) string {
	if bodyKey != "" {
		return bodyKey
	}
	return r.Header.Get("X-Idempotency-Key")
}

func handleSubmissionCreate(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intakeID := chi.URLParam(r, "intakeId")

		var body struct {
			Fields         map[string]any `json:"fields"`
			Actor          actorBody      `json:"actor"`
			IdempotencyKey string         `json:"idempotencyKey"`
			TTLSeconds     *int64         `json:"ttlSeconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		params := submission.CreateParams{
			IntakeID:       intakeID,
			Actor:          body.Actor.toModel(),
			Fields:         body.Fields,
			IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		}
		if body.TTLSeconds != nil {
			params.TTL = time.Duration(*body.TTLSeconds) * time.Second
		}

		res, err := engine.Create(r.Context(), params)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, newSubmissionResponse(res.Submission, res.MissingFields, true))
	}
}

func handleSubmissionGet(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := engine.Get(r.Context(), chi.URLParam(r, "submissionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		// Read path is not token-authenticated, so the current token is
		// not echoed back.
		WriteJSON(w, http.StatusOK, newSubmissionResponse(sub, nil, false))
	}
}

func handleSubmissionList(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intakeID := chi.URLParam(r, "intakeId")
		filters := submission.ListFilters{
			State:  r.URL.Query().Get("state"),
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		}

		subs, err := engine.List(r.Context(), intakeID, filters)
		if err != nil {
			WriteError(w, err)
			return
		}

		items := make([]model.SubmissionSummary, 0, len(subs))
		for _, sub := range subs {
			items = append(items, sub.Summary())
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":   items,
			"limit":  filters.Limit,
			"offset": filters.Offset,
		})
	}
}

func handleSubmissionPatch(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResumeToken string         `json:"resumeToken"`
			Fields      map[string]any `json:"fields"`
			Actor       actorBody      `json:"actor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if len(body.Fields) == 0 {
			WriteError(w, model.NewBadRequestError("fields must not be empty"))
			return
		}

		res, err := engine.SetFields(r.Context(), submission.SetFieldsParams{
			ID:          chi.URLParam(r, "submissionId"),
			ResumeToken: body.ResumeToken,
			Actor:       body.Actor.toModel(),
			Fields:      body.Fields,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, newSubmissionResponse(res.Submission, res.MissingFields, true))
	}
}

func handleSubmissionValidate(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResumeToken string `json:"resumeToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		report, err := engine.Validate(r.Context(), chi.URLParam(r, "submissionId"), body.ResumeToken)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

func handleSubmissionSubmit(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResumeToken    string    `json:"resumeToken"`
			Actor          actorBody `json:"actor"`
			IdempotencyKey string    `json:"idempotencyKey"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		res, err := engine.Submit(r.Context(), submission.SubmitParams{
			ID:             chi.URLParam(r, "submissionId"),
			ResumeToken:    body.ResumeToken,
			Actor:          body.Actor.toModel(),
			IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		})
		if err != nil {
			WriteError(w, err)
			return
		}

		resp := map[string]any{
			"ok":         !res.NeedsApproval,
			"submission": newSubmissionResponse(res.Submission, nil, true),
		}
		status := http.StatusOK
		if res.NeedsApproval {
			// Gating is a parked outcome, not a failure. The typed
			// envelope tells an agent what to do next.
			resp["error"] = res.Envelope
			status = http.StatusAccepted
		}
		WriteJSON(w, status, resp)
	}
}

func handleSubmissionCancel(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResumeToken string    `json:"resumeToken"`
			Actor       actorBody `json:"actor"`
			Reason      string    `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		res, err := engine.Cancel(r.Context(), submission.CancelParams{
			ID:          chi.URLParam(r, "submissionId"),
			ResumeToken: body.ResumeToken,
			Actor:       body.Actor.toModel(),
			Reason:      body.Reason,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, newSubmissionResponse(res.Submission, nil, false))
	}
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
