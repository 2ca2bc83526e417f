package transport

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/internal/intake"
)

func handleIntakeList(reg *intake.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"data": reg.IDs()})
	}
}

func handleIntakeGet(reg *intake.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "intakeId")
		in, ok := reg.Get(id)
		if !ok {
			WriteNotFound(w, fmt.Sprintf("intake %q not found", id))
			return
		}
		WriteJSON(w, http.StatusOK, in)
	}
}
