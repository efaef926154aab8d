package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/frahmantamala/purchase-core/internal/auth"
	"github.com/frahmantamala/purchase-core/internal/product"
	"github.com/frahmantamala/purchase-core/internal/purchase"
	"github.com/frahmantamala/purchase-core/internal/risk"
	"github.com/frahmantamala/purchase-core/internal/transport/middleware"
)

const APIBasePath = "/api/v1"

type Handlers struct {
	Health   *HealthHandler
	Auth     *auth.Handler
	RBAC     *auth.RBACAuthorization
	Purchase *purchase.Handler
	Product  *product.Handler
	Risk     *risk.Handler
}

// RegisterAllRoutes mounts the API under APIBasePath. validator may be nil
// when request validation is switched off.
func RegisterAllRoutes(router *chi.Mux, h Handlers, validator *middleware.RequestValidator, specPath string, logger *slog.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, specPath)
	})
	router.Handle("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yml"),
		httpSwagger.DocExpansion("list"),
	))

	router.Route(APIBasePath, func(r chi.Router) {
		if validator != nil {
			r.Use(validator.Middleware)
		}

		r.Get("/health", h.Health.HealthCheck)
		r.Get("/ping", h.Health.Ping)

		r.Route("/auth", func(sr chi.Router) {
			sr.Post("/login", h.Auth.Login)
			sr.Post("/refresh", h.Auth.RefreshToken)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			pr.Route("/purchases", func(er chi.Router) {
				er.Post("/", h.Purchase.StartPurchase)
				er.With(h.RBAC.RequireManagePurchases()).Get("/pending", h.Purchase.GetPendingApprovals)
				er.Get("/{id}", h.Purchase.GetPurchase)
				er.Post("/{id}/confirm", h.Purchase.ConfirmPaymentSent)
				er.Post("/{id}/cancel", h.Purchase.CancelPurchase)
				er.With(h.RBAC.RequireApprovePayments()).Patch("/{id}/approve", h.Purchase.ApprovePurchase)
				er.With(h.RBAC.RequireRejectPayments()).Patch("/{id}/reject", h.Purchase.RejectPurchase)
			})

			pr.Route("/loyalty/{userID}", func(lr chi.Router) {
				lr.Get("/", h.Purchase.GetBalance)
				lr.Post("/redeem", h.Purchase.RedeemPoints)
			})

			pr.Route("/customers/{userID}", func(cr chi.Router) {
				cr.Use(h.RBAC.RequireManagePurchases())
				cr.Post("/block", h.Purchase.BlockCustomer)
				cr.Post("/fraud-reports", h.Purchase.ReportFraud)
			})

			pr.Get("/risk/users/{userID}", h.Risk.AssessUser)

			pr.Get("/products", h.Product.ListProducts)
			pr.Get("/products/{id}", h.Product.GetProduct)
		})
	})
}
