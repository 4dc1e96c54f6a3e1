package seed

import (
	"net/http"

	"github.com/bissquit/incident-desk/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler exposes the seeder over HTTP.
type Handler struct {
	seeder *Seeder
}

// NewHandler creates a new seed handler.
func NewHandler(seeder *Seeder) *Handler {
	return &Handler{seeder: seeder}
}

// RegisterRoutes registers seed routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/admin/seed", h.Seed)
}

// Seed handles POST /admin/seed.
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	result, err := h.seeder.Run(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}
