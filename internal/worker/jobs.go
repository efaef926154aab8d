package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/purchase-core/internal/payment"
)

// Processor performs the per-payment maintenance steps.
type Processor interface {
	ExpirePayment(ctx context.Context, paymentID string) (*payment.Payment, error)
	RepairCredit(ctx context.Context, paymentID string) error
}

// Source finds payments that need maintenance.
type Source interface {
	ListDueForExpiry(ctx context.Context, limit int) ([]*payment.Payment, error)
	ListCompletedWithoutCredit(ctx context.Context, limit int) ([]*payment.Payment, error)
}

// NewJobHandler routes jobs to the processor.
func NewJobHandler(proc Processor, logger *slog.Logger) HandlerFunc {
	return func(ctx context.Context, job Job) error {
		switch job.Kind {
		case JobExpirePayment:
			p, err := proc.ExpirePayment(ctx, job.PaymentID)
			if err != nil {
				return err
			}
			logger.Debug("expire job done", "payment_id", job.PaymentID, "status", p.Status)
			return nil
		case JobRepairCredit:
			if err := proc.RepairCredit(ctx, job.PaymentID); err != nil {
				return err
			}
			logger.Info("loyalty credit repaired", "payment_id", job.PaymentID)
			return nil
		default:
			return fmt.Errorf("unknown job kind %q", job.Kind)
		}
	}
}
