package risk

import (
	"context"
	"net/http"

	"github.com/frahmantamala/purchase-core/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	AssessUser(ctx context.Context, userID string) *Assessment
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

func (h *Handler) AssessUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.WriteError(w, http.StatusBadRequest, "user id is required")
		return
	}

	h.WriteJSON(w, http.StatusOK, h.Service.AssessUser(r.Context(), userID))
}
