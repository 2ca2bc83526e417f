package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/model"
)

func handleEventsList(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := model.EventFilter{
			Offset: queryInt(r, "offset", 0),
			Limit:  queryInt(r, "limit", 0),
		}
		if v := r.URL.Query().Get("types"); v != "" {
			filter.Types = strings.Split(v, ",")
		}
		if v := r.URL.Query().Get("actorKinds"); v != "" {
			filter.ActorKinds = strings.Split(v, ",")
		}
		var err error
		if filter.Since, err = queryTime(r, "since"); err != nil {
			WriteBadRequest(w, "since must be RFC 3339")
			return
		}
		if filter.Until, err = queryTime(r, "until"); err != nil {
			WriteBadRequest(w, "until must be RFC 3339")
			return
		}

		events, err := engine.GetEvents(r.Context(), chi.URLParam(r, "submissionId"), filter)
		if err != nil {
			WriteError(w, err)
			return
		}
		if events == nil {
			events = []model.IntakeEvent{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

// handleEventsExport streams the unfiltered audit log. Same data as the list
// endpoint but with submission context attached, intended for compliance
// export jobs. `?format=ndjson` switches from the JSON envelope to one event
// per line, which streaming consumers can process without buffering.
func handleEventsExport(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "submissionId")
		sub, err := engine.Get(r.Context(), id)
		if err != nil {
			WriteError(w, err)
			return
		}
		events, err := engine.GetEvents(r.Context(), id, model.EventFilter{})
		if err != nil {
			WriteError(w, err)
			return
		}
		if events == nil {
			events = []model.IntakeEvent{}
		}

		if r.URL.Query().Get("format") == "ndjson" {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			enc := json.NewEncoder(w)
			for _, evt := range events {
				if err := enc.Encode(evt); err != nil {
					return
				}
			}
			return
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"submissionId": sub.ID,
			"intakeId":     sub.IntakeID,
			"state":        sub.State,
			"exportedAt":   time.Now().UTC(),
			"events":       events,
		})
	}
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
