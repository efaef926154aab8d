package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/transport"
)

type RBACAuthorization struct {
	base *transport.BaseHandler
}

func NewRBACAuthorization(logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{base: transport.NewBaseHandler(logger)}
}

// Require lets the request through when the operator holds any of the given
// permissions. Admin satisfies every check.
func (ra *RBACAuthorization) Require(permissions ...string) func(http.Handler) http.Handler {
	allowed := append([]string{PermissionAdmin}, permissions...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator, ok := internal.OperatorFromContext(r.Context())
			if !ok {
				ra.base.Logger.Warn("authorization check failed: operator not found in context")
				ra.base.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if !operator.HasAnyPermission(allowed...) {
				ra.base.Logger.WarnContext(r.Context(), "access denied: insufficient permissions",
					"operator_id", operator.ID,
					"required_permissions", permissions,
					"operator_permissions", operator.Permissions)
				ra.base.HandleServiceError(w, internal.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (ra *RBACAuthorization) RequireApprovePayments() func(http.Handler) http.Handler {
	return ra.Require(PermissionApprovePayments)
}

func (ra *RBACAuthorization) RequireRejectPayments() func(http.Handler) http.Handler {
	return ra.Require(PermissionRejectPayments)
}

func (ra *RBACAuthorization) RequireManagePurchases() func(http.Handler) http.Handler {
	return ra.Require(PermissionManagePurchases)
}
