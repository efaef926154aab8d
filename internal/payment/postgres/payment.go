package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	paymentDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/payment"
	productDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/product"
	"github.com/frahmantamala/purchase-core/internal/loyalty"
	"github.com/frahmantamala/purchase-core/internal/payment"
)

// PaymentRepository expresses every state transition as a conditional update
// guarded by the current status, so concurrent callers cannot both win.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) payment.RepositoryAPI {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *paymentDatamodel.Payment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prod productDatamodel.Product
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id = ?", p.ProductID).
			First(&prod).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return payment.ErrProductMissing
			}
			return err
		}
		if !prod.Available || prod.Sold {
			return payment.ErrProductUnavailable
		}
		return tx.Create(p).Error
	})
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*paymentDatamodel.Payment, error) {
	var p paymentDatamodel.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&paymentDatamodel.Payment{}).
		Where("id = ? AND status = ? AND expires_at >= ?", id, string(payment.StatusPending), at).
		Updates(map[string]interface{}{
			"status":        string(payment.StatusProcessing),
			"processing_at": at,
			"updated_at":    at,
		})
	return conditional(result)
}

// Complete moves the payment to COMPLETED and the product to sold. Either
// both rows change or neither does.
func (r *PaymentRepository) Complete(ctx context.Context, id, approverID string, at time.Time, issue payment.IssueFunc) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&paymentDatamodel.Payment{}).
			Where("id = ? AND status IN ? AND expires_at >= ?", id, payment.OpenStatuses, at).
			Updates(map[string]interface{}{
				"status":       string(payment.StatusCompleted),
				"approver_id":  approverID,
				"completed_at": at,
				"updated_at":   at,
			})
		if err := conditional(result); err != nil {
			return err
		}

		var row paymentDatamodel.Payment
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}

		result = tx.Model(&productDatamodel.Product{}).
			Where("id = ? AND sold = ? AND available = ?", row.ProductID, false, true).
			Updates(map[string]interface{}{
				"sold":       true,
				"available":  false,
				"sold_to":    row.BuyerID,
				"sold_at":    at,
				"updated_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return payment.ErrProductUnavailable
		}

		var prod productDatamodel.Product
		if err := tx.Select("delivery_payload").Where("id = ?", row.ProductID).First(&prod).Error; err != nil {
			return err
		}
		credential, err := issue(&row, prod.DeliveryPayload)
		if err != nil {
			return err
		}
		return tx.Model(&paymentDatamodel.Payment{}).
			Where("id = ?", id).
			Update("delivered_credential", credential).Error
	})
}

func (r *PaymentRepository) Reject(ctx context.Context, id, rejecterID, reason string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&paymentDatamodel.Payment{}).
		Where("id = ? AND status IN ?", id, payment.OpenStatuses).
		Updates(map[string]interface{}{
			"status":           string(payment.StatusRejected),
			"rejecter_id":      rejecterID,
			"rejection_reason": reason,
			"rejected_at":      at,
			"updated_at":       at,
		})
	return conditional(result)
}

// Expire applies only to open payments whose window ended before at.
func (r *PaymentRepository) Expire(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&paymentDatamodel.Payment{}).
		Where("id = ? AND status IN ? AND expires_at < ?", id, payment.OpenStatuses, at).
		Updates(map[string]interface{}{
			"status":           string(payment.StatusExpired),
			"rejecter_id":      payment.SystemActor,
			"rejection_reason": payment.ReasonExpired,
			"rejected_at":      at,
			"updated_at":       at,
		})
	return conditional(result)
}

func (r *PaymentRepository) ListOpen(ctx context.Context, limit, offset int) ([]*paymentDatamodel.Payment, error) {
	var rows []*paymentDatamodel.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ?", payment.OpenStatuses).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

func (r *PaymentRepository) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*paymentDatamodel.Payment, error) {
	var rows []*paymentDatamodel.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", payment.OpenStatuses, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListCompletedWithoutCredit finds sales the loyalty ledger never heard of.
func (r *PaymentRepository) ListCompletedWithoutCredit(ctx context.Context, limit int) ([]*paymentDatamodel.Payment, error) {
	var rows []*paymentDatamodel.Payment
	err := r.db.WithContext(ctx).
		Select("payments.*").
		Joins("LEFT JOIN loyalty_transactions lt ON lt.payment_id = payments.id AND lt.reason = ?", string(loyalty.ReasonPurchase)).
		Where("payments.status = ? AND lt.id IS NULL", string(payment.StatusCompleted)).
		Order("payments.completed_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func conditional(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return payment.ErrStateConflict
	}
	return nil
}
