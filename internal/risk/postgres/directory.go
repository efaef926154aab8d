package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/purchase-core/internal/core/clock"
	customerDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/customer"
	paymentDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/payment"
	"github.com/frahmantamala/purchase-core/internal/payment"
	"github.com/frahmantamala/purchase-core/internal/risk"
)

// DirectoryRepository reads customer standing and history for the risk
// engine and records the activity it scores.
type DirectoryRepository struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewDirectoryRepository(db *gorm.DB, clk clock.Clock) *DirectoryRepository {
	return &DirectoryRepository{db: db, clock: clk}
}

func (r *DirectoryRepository) GetUserProfile(ctx context.Context, userID string) (*risk.UserProfile, error) {
	var c customerDatamodel.Customer
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, risk.ErrUserNotFound
		}
		return nil, err
	}

	profile := &risk.UserProfile{
		UserID:       c.ID,
		Email:        c.Email,
		CreatedAt:    c.CreatedAt,
		IsBlocked:    c.IsBlocked,
		FraudReports: c.FraudReports,
	}
	if c.BlockReason != nil {
		profile.BlockReason = *c.BlockReason
	}
	return profile, nil
}

// GetUserHistory returns the newest activities first.
func (r *DirectoryRepository) GetUserHistory(ctx context.Context, userID string, limit int) ([]risk.Activity, error) {
	var rows []customerDatamodel.Activity
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	history := make([]risk.Activity, 0, len(rows))
	for _, row := range rows {
		history = append(history, risk.Activity{
			Action:    row.Action,
			Timestamp: row.CreatedAt,
			Data:      map[string]interface{}(row.Data),
		})
	}
	return history, nil
}

func (r *DirectoryRepository) GetPurchaseHistory(ctx context.Context, userID string) ([]risk.PurchaseRecord, error) {
	var rows []paymentDatamodel.Payment
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND status = ?", userID, string(payment.StatusCompleted)).
		Order("completed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	purchases := make([]risk.PurchaseRecord, 0, len(rows))
	for _, row := range rows {
		date := row.CreatedAt
		if row.CompletedAt != nil {
			date = *row.CompletedAt
		}
		purchases = append(purchases, risk.PurchaseRecord{
			PaymentID: row.ID,
			ProductID: row.ProductID,
			Amount:    row.Amount,
			Method:    row.PaymentMethod,
			Date:      date,
		})
	}
	return purchases, nil
}

// EnsureCustomer registers a customer on first contact and leaves existing
// rows untouched.
func (r *DirectoryRepository) EnsureCustomer(ctx context.Context, userID, name, email string) error {
	now := r.clock.Now()
	c := customerDatamodel.Customer{
		ID:        userID,
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&c).Error
}

func (r *DirectoryRepository) RecordActivity(ctx context.Context, userID, action string, data map[string]interface{}) error {
	row := customerDatamodel.Activity{
		ID:         uuid.New().String(),
		CustomerID: userID,
		Action:     action,
		Data:       datatypes.JSONMap(data),
		CreatedAt:  r.clock.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record %s activity: %w", action, err)
	}
	return nil
}

func (r *DirectoryRepository) BlockCustomer(ctx context.Context, userID, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&customerDatamodel.Customer{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"is_blocked":   true,
			"block_reason": reason,
			"updated_at":   r.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return risk.ErrUserNotFound
	}
	return nil
}

func (r *DirectoryRepository) ReportFraud(ctx context.Context, userID string) error {
	result := r.db.WithContext(ctx).
		Model(&customerDatamodel.Customer{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"fraud_reports": gorm.Expr("fraud_reports + ?", 1),
			"updated_at":    r.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return risk.ErrUserNotFound
	}
	return nil
}
