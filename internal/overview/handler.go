package overview

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/platform/auth"
	"kinledger/pkg/platform/httputil"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/overview", h.HandleOverview)
}

func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	o, err := h.service.Get(r.Context(), actor)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, o)
}
