package purchase

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/loyalty"
	"github.com/frahmantamala/purchase-core/internal/payment"
	"github.com/frahmantamala/purchase-core/internal/transport"
)

type ServiceAPI interface {
	StartPurchase(ctx context.Context, req StartPurchaseRequest) (*payment.Payment, error)
	ApprovePurchase(ctx context.Context, paymentID, approverID string) (*ApprovalResult, error)
	RejectPurchase(ctx context.Context, paymentID, reason, rejecterID string) (*payment.Payment, error)
	CancelPurchase(ctx context.Context, paymentID, buyerID string) (*payment.Payment, error)
	ConfirmPaymentSent(ctx context.Context, paymentID, buyerID string) (*payment.Payment, error)
	GetPurchase(ctx context.Context, paymentID string) (*payment.Payment, error)
	GetPendingApprovals(ctx context.Context, limit, offset int) ([]*payment.Payment, error)
	GetBalance(ctx context.Context, userID string) (*loyalty.BalanceView, error)
	RedeemPoints(ctx context.Context, userID string, points int64) (*loyalty.Result, error)
	BlockCustomer(ctx context.Context, userID, reason string) error
	ReportFraud(ctx context.Context, userID string) error
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

func (h *Handler) operator(w http.ResponseWriter, r *http.Request, op string) (*internal.Operator, bool) {
	operator, ok := internal.OperatorFromContext(r.Context())
	if !ok {
		h.Logger.Error(op + ": operator not found in context")
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return operator, true
}

func (h *Handler) StartPurchase(w http.ResponseWriter, r *http.Request) {
	var req StartPurchaseRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Logger.Error("StartPurchase: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.IPAddress = clientIP(r)

	p, err := h.Service.StartPurchase(r.Context(), req)
	if err != nil {
		h.Logger.Warn("StartPurchase: service error", "error", err, "user_id", req.UserID, "product_id", req.ProductID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("StartPurchase: payment opened",
		"payment_id", p.ID,
		"user_id", p.BuyerID,
		"product_id", p.ProductID,
		"amount", p.Amount.String())

	h.WriteJSON(w, http.StatusCreated, ToPurchaseResponse(p))
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToPurchaseResponse(p))
}

func (h *Handler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	limit, offset := h.Pagination(r)

	pending, err := h.Service.GetPendingApprovals(r.Context(), limit, offset)
	if err != nil {
		h.Logger.Error("GetPendingApprovals: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	resp := PurchasesResponse{
		Purchases: make([]PurchaseResponse, 0, len(pending)),
		Limit:     limit,
		Offset:    offset,
	}
	for _, p := range pending {
		resp.Purchases = append(resp.Purchases, ToPurchaseResponse(p))
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ConfirmPaymentSent(w http.ResponseWriter, r *http.Request) {
	var dto BuyerActionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.Service.ConfirmPaymentSent(r.Context(), chi.URLParam(r, "id"), dto.UserID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToPurchaseResponse(p))
}

func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	var dto BuyerActionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.Service.CancelPurchase(r.Context(), chi.URLParam(r, "id"), dto.UserID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CancelPurchase: cancelled by buyer", "payment_id", p.ID, "user_id", dto.UserID)
	h.WriteJSON(w, http.StatusOK, ToPurchaseResponse(p))
}

func (h *Handler) ApprovePurchase(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.operator(w, r, "ApprovePurchase")
	if !ok {
		return
	}
	paymentID := chi.URLParam(r, "id")

	result, err := h.Service.ApprovePurchase(r.Context(), paymentID, operator.ID)
	if err != nil {
		h.Logger.Warn("ApprovePurchase: service error", "error", err, "payment_id", paymentID, "operator_id", operator.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("ApprovePurchase: payment approved",
		"payment_id", paymentID,
		"operator_id", operator.ID,
		"loyalty_pending", result.LoyaltyPending)

	h.WriteJSON(w, http.StatusOK, result.ToResponse())
}

func (h *Handler) RejectPurchase(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.operator(w, r, "RejectPurchase")
	if !ok {
		return
	}
	paymentID := chi.URLParam(r, "id")

	var dto RejectPurchaseDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.Logger.Error("RejectPurchase: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.Service.RejectPurchase(r.Context(), paymentID, dto.Reason, operator.ID)
	if err != nil {
		h.Logger.Warn("RejectPurchase: service error", "error", err, "payment_id", paymentID, "operator_id", operator.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToPurchaseResponse(p))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var dto RedeemPointsDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.Service.RedeemPoints(r.Context(), userID, dto.Points)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) BlockCustomer(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var dto BlockCustomerDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Service.BlockCustomer(r.Context(), userID, dto.Reason); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReportFraud(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ReportFraud(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
