package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextOperatorKey ctxKey = "operator"

// Operator is the authenticated back-office principal attached to a request.
type Operator struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions,omitempty"`
}

func (o *Operator) HasPermission(permission string) bool {
	for _, p := range o.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func (o *Operator) HasAnyPermission(permissions ...string) bool {
	for _, p := range permissions {
		if o.HasPermission(p) {
			return true
		}
	}
	return false
}

func OperatorFromContext(ctx context.Context) (*Operator, bool) {
	if ctx == nil {
		return nil, false
	}
	op, ok := ctx.Value(ContextOperatorKey).(*Operator)
	return op, ok && op != nil
}

func ContextWithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, ContextOperatorKey, op)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
