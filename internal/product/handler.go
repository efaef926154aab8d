package product

import (
	"context"
	"net/http"

	"github.com/frahmantamala/purchase-core/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListAvailable(ctx context.Context, limit, offset int) ([]*Product, error)
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

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset := h.Pagination(r)

	products, err := h.Service.ListAvailable(r.Context(), limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp := ProductsResponse{Products: make([]ProductResponse, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, p.ToResponse())
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Service.GetProduct(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, p.ToResponse())
}
