package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	loyaltyDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/loyalty"
	"github.com/frahmantamala/purchase-core/internal/loyalty"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) loyalty.RepositoryAPI {
	return &LedgerRepository{db: db}
}

// Transact takes a row lock on the account so reconciliation is serialised
// across processes as well.
func (r *LedgerRepository) Transact(ctx context.Context, userID string, fn func(tx loyalty.LedgerTx, acct *loyaltyDatamodel.Account) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct loyaltyDatamodel.Account
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&acct).Error
		switch {
		case err == nil:
			return fn(&ledgerTx{db: tx}, &acct)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fn(&ledgerTx{db: tx}, nil)
		default:
			return err
		}
	})
}

type ledgerTx struct {
	db *gorm.DB
}

func (t *ledgerTx) CreateAccount(a *loyaltyDatamodel.Account) error {
	return t.db.Create(a).Error
}

func (t *ledgerTx) SaveAccount(a *loyaltyDatamodel.Account) error {
	return t.db.Model(&loyaltyDatamodel.Account{}).
		Where("user_id = ?", a.UserID).
		Updates(map[string]interface{}{
			"balance":         a.Balance,
			"lifetime_points": a.LifetimePoints,
			"updated_at":      a.UpdatedAt,
		}).Error
}

func (t *ledgerTx) ListExpiring(userID string, now time.Time) ([]*loyaltyDatamodel.Transaction, error) {
	var rows []*loyaltyDatamodel.Transaction
	err := t.db.
		Where("user_id = ? AND status = ? AND points > 0 AND expires_at IS NOT NULL AND expires_at <= ?",
			userID, string(loyalty.StatusActive), now).
		Order("expires_at ASC").
		Find(&rows).Error
	return rows, err
}

func (t *ledgerTx) MarkExpired(ids []string) error {
	return t.db.Model(&loyaltyDatamodel.Transaction{}).
		Where("id IN ? AND status = ?", ids, string(loyalty.StatusActive)).
		Update("status", string(loyalty.StatusExpired)).Error
}

func (t *ledgerTx) Append(entry *loyaltyDatamodel.Transaction) error {
	return t.db.Create(entry).Error
}

func (t *ledgerTx) FindByPayment(paymentID string, reason loyalty.Reason) (*loyaltyDatamodel.Transaction, error) {
	var row loyaltyDatamodel.Transaction
	err := t.db.Where("payment_id = ? AND reason = ?", paymentID, string(reason)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (t *ledgerTx) ListTransactions(userID string, limit int) ([]*loyaltyDatamodel.Transaction, error) {
	var rows []*loyaltyDatamodel.Transaction
	err := t.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (t *ledgerTx) SumPoints(userID string) (int64, error) {
	var sum int64
	err := t.db.Model(&loyaltyDatamodel.Transaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error
	return sum, err
}
