package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/adwheel/adwheel-backend/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса adwheel.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.CORS)
	r.Use(custommiddleware.Logger(h.logger))

	r.Post("/api/action", h.Action)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
