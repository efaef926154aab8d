package purchase_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/loyalty"
	"github.com/frahmantamala/purchase-core/internal/payment"
	"github.com/frahmantamala/purchase-core/internal/purchase"
	"github.com/frahmantamala/purchase-core/internal/transport"
	"github.com/frahmantamala/purchase-core/pkg/logger"
)

type stubService struct {
	started    purchase.StartPurchaseRequest
	approver   string
	startErr   error
	approveErr error
	blocked    string
}

func (s *stubService) pending() *payment.Payment {
	return &payment.Payment{
		ID:          "pay-1",
		BuyerID:     "u1",
		ProductID:   "game-1",
		ProductName: "Space Game",
		Amount:      decimal.RequireFromString("59.90"),
		Status:      payment.StatusPending,
		CreatedAt:   time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC),
		ExpiresAt:   time.Date(2025, 5, 10, 8, 30, 0, 0, time.UTC),
	}
}

func (s *stubService) StartPurchase(_ context.Context, req purchase.StartPurchaseRequest) (*payment.Payment, error) {
	s.started = req
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.pending(), nil
}

func (s *stubService) ApprovePurchase(_ context.Context, _ string, approverID string) (*purchase.ApprovalResult, error) {
	s.approver = approverID
	if s.approveErr != nil {
		return nil, s.approveErr
	}
	p := s.pending()
	p.Status = payment.StatusCompleted
	return &purchase.ApprovalResult{Payment: p, DeliveredCredential: "KEY-AAAA", PointsCredited: 59, Balance: 59, Tier: 1}, nil
}

func (s *stubService) RejectPurchase(_ context.Context, _ string, reason, rejecterID string) (*payment.Payment, error) {
	p := s.pending()
	p.Status = payment.StatusRejected
	p.RejectionReason = &reason
	p.RejecterID = &rejecterID
	return p, nil
}

func (s *stubService) CancelPurchase(_ context.Context, _ string, buyerID string) (*payment.Payment, error) {
	if buyerID != "u1" {
		return nil, internal.ErrNotPaymentOwner
	}
	return s.pending(), nil
}

func (s *stubService) ConfirmPaymentSent(_ context.Context, _ string, _ string) (*payment.Payment, error) {
	p := s.pending()
	p.Status = payment.StatusProcessing
	return p, nil
}

func (s *stubService) GetPurchase(_ context.Context, id string) (*payment.Payment, error) {
	if id != "pay-1" {
		return nil, internal.ErrPaymentNotFound
	}
	return s.pending(), nil
}

func (s *stubService) GetPendingApprovals(_ context.Context, _, _ int) ([]*payment.Payment, error) {
	return []*payment.Payment{s.pending()}, nil
}

func (s *stubService) GetBalance(_ context.Context, userID string) (*loyalty.BalanceView, error) {
	return &loyalty.BalanceView{UserID: userID, Balance: 59, Tier: 1}, nil
}

func (s *stubService) RedeemPoints(_ context.Context, _ string, _ int64) (*loyalty.Result, error) {
	return nil, internal.ErrInsufficientBalance
}

func (s *stubService) BlockCustomer(_ context.Context, userID, _ string) error {
	s.blocked = userID
	return nil
}

func (s *stubService) ReportFraud(_ context.Context, _ string) error {
	return internal.ErrCustomerNotFound
}

var _ = Describe("Purchase Handler", func() {
	var (
		stub   *stubService
		router *chi.Mux
	)

	withOperator := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op := &internal.Operator{ID: "op-7", Permissions: []string{"approve_payments"}}
			next.ServeHTTP(w, r.WithContext(internal.ContextWithOperator(r.Context(), op)))
		})
	}

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		stub = &stubService{}
		handler := purchase.NewHandler(transport.NewBaseHandler(logger.Discard()), stub)

		router = chi.NewRouter()
		router.Post("/purchases", handler.StartPurchase)
		router.Get("/purchases/{id}", handler.GetPurchase)
		router.Post("/purchases/{id}/cancel", handler.CancelPurchase)
		router.Get("/users/{userID}/loyalty", handler.GetBalance)
		router.Post("/users/{userID}/loyalty/redeem", handler.RedeemPoints)
		router.Post("/customers/{userID}/fraud-reports", handler.ReportFraud)
		router.Post("/unauthenticated/{id}/approve", handler.ApprovePurchase)
		router.Group(func(r chi.Router) {
			r.Use(withOperator)
			r.Get("/admin/purchases/pending", handler.GetPendingApprovals)
			r.Post("/admin/purchases/{id}/approve", handler.ApprovePurchase)
			r.Post("/admin/purchases/{id}/reject", handler.RejectPurchase)
			r.Post("/admin/customers/{userID}/block", handler.BlockCustomer)
		})
	})

	It("opens a purchase and captures the client address", func() {
		rec := serve(http.MethodPost, "/purchases", `{"user_id":"u1","product_id":"game-1"}`)

		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(stub.started.IPAddress).To(Equal("192.0.2.10"))

		var body purchase.PurchaseResponse
		Expect(json.NewDecoder(rec.Body).Decode(&body)).To(Succeed())
		Expect(body.ID).To(Equal("pay-1"))
		Expect(body.Status).To(Equal("PENDING"))
	})

	It("prefers the forwarded address", func() {
		req := httptest.NewRequest(http.MethodPost, "/purchases", strings.NewReader(`{"user_id":"u1","product_id":"game-1"}`))
		req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(stub.started.IPAddress).To(Equal("203.0.113.5"))
	})

	It("rejects unknown fields", func() {
		rec := serve(http.MethodPost, "/purchases", `{"user_id":"u1","product_id":"game-1","price":"0"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("renders risk rejections as forbidden with their reasons", func() {
		stub.startErr = internal.ErrRiskRejected.WithDetails(purchase.RiskRejection{Score: 100, Reasons: []string{"account_blocked"}})

		rec := serve(http.MethodPost, "/purchases", `{"user_id":"u1","product_id":"game-1"}`)

		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(rec.Body.String()).To(ContainSubstring("RISK_REJECTED"))
		Expect(rec.Body.String()).To(ContainSubstring("account_blocked"))
	})

	It("returns 404 for unknown purchases", func() {
		rec := serve(http.MethodGet, "/purchases/missing", "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("refuses cancellation by another buyer", func() {
		rec := serve(http.MethodPost, "/purchases/pay-1/cancel", `{"user_id":"u2"}`)
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	It("approves as the authenticated operator", func() {
		rec := serve(http.MethodPost, "/admin/purchases/pay-1/approve", "")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(stub.approver).To(Equal("op-7"))

		var body purchase.ApprovalResponse
		Expect(json.NewDecoder(rec.Body).Decode(&body)).To(Succeed())
		Expect(body.DeliveredCredential).To(Equal("KEY-AAAA"))
		Expect(body.PointsCredited).To(Equal(int64(59)))
		Expect(body.Purchase.Status).To(Equal("COMPLETED"))
	})

	It("maps approval conflicts to 409", func() {
		stub.approveErr = internal.ErrInvalidState
		rec := serve(http.MethodPost, "/admin/purchases/pay-1/approve", "")
		Expect(rec.Code).To(Equal(http.StatusConflict))
	})

	It("requires an operator to approve", func() {
		rec := serve(http.MethodPost, "/unauthenticated/pay-1/approve", "")
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(stub.approver).To(BeEmpty())
	})

	It("rejects with the operator as rejecter", func() {
		rec := serve(http.MethodPost, "/admin/purchases/pay-1/reject", `{"reason":"no transfer received"}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body purchase.PurchaseResponse
		Expect(json.NewDecoder(rec.Body).Decode(&body)).To(Succeed())
		Expect(*body.RejecterID).To(Equal("op-7"))
		Expect(*body.RejectionReason).To(Equal("no transfer received"))
	})

	It("lists pending approvals", func() {
		rec := serve(http.MethodGet, "/admin/purchases/pending?limit=5", "")

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body purchase.PurchasesResponse
		Expect(json.NewDecoder(rec.Body).Decode(&body)).To(Succeed())
		Expect(body.Purchases).To(HaveLen(1))
		Expect(body.Limit).To(Equal(5))
	})

	It("serves loyalty balances and refuses overdrafts", func() {
		rec := serve(http.MethodGet, "/users/u1/loyalty", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"balance":59`))

		rec = serve(http.MethodPost, "/users/u1/loyalty/redeem", `{"points":500}`)
		Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
	})

	It("blocks customers and reports unknown ones", func() {
		rec := serve(http.MethodPost, "/admin/customers/u9/block", `{"reason":"chargeback"}`)
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(stub.blocked).To(Equal("u9"))

		rec = serve(http.MethodPost, "/customers/ghost/fraud-reports", "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})
