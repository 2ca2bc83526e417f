package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/internal/delivery"
	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/model"
)

func handleDeliveryList(engine *submission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attempts, err := engine.GetAttempts(r.Context(), chi.URLParam(r, "submissionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		if attempts == nil {
			attempts = []model.DeliveryAttempt{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": attempts})
	}
}

// handleDeliveryRetry restarts delivery for a submission stuck in submitted
// or approved after automatic retries were exhausted.
func handleDeliveryRetry(deliverer *delivery.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "submissionId")
		if err := deliverer.Retry(r.Context(), id); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{
			"submissionId": id,
			"status":       "delivery_scheduled",
		})
	}
}
