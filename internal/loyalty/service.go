package loyalty

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/core/clock"
	"github.com/frahmantamala/purchase-core/internal/core/common/validation"
	loyaltyDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/loyalty"
	"github.com/frahmantamala/purchase-core/internal/core/storage"
)

// LedgerTx is the unit of work handed to Transact. Every call runs in the
// same store transaction.
type LedgerTx interface {
	CreateAccount(a *loyaltyDatamodel.Account) error
	SaveAccount(a *loyaltyDatamodel.Account) error
	ListExpiring(userID string, now time.Time) ([]*loyaltyDatamodel.Transaction, error)
	MarkExpired(ids []string) error
	Append(t *loyaltyDatamodel.Transaction) error
	FindByPayment(paymentID string, reason Reason) (*loyaltyDatamodel.Transaction, error)
	ListTransactions(userID string, limit int) ([]*loyaltyDatamodel.Transaction, error)
	SumPoints(userID string) (int64, error)
}

type RepositoryAPI interface {
	// Transact locks the user's account row, if any, and runs fn in one
	// transaction. acct is nil for users without an account.
	Transact(ctx context.Context, userID string, fn func(tx LedgerTx, acct *loyaltyDatamodel.Account) error) error
}

type ServiceConfig struct {
	CreditExpiry time.Duration
	Policy       storage.Policy
}

type Service struct {
	repo   RepositoryAPI
	locks  *userLocks
	expiry time.Duration
	policy storage.Policy
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, cfg ServiceConfig, clk clock.Clock, logger *slog.Logger) *Service {
	if cfg.CreditExpiry <= 0 {
		cfg.CreditExpiry = DefaultCreditExpiry
	}
	return &Service{
		repo:   repo,
		locks:  newUserLocks(),
		expiry: cfg.CreditExpiry,
		policy: cfg.Policy,
		clock:  clk,
		logger: logger,
	}
}

// Credit appends a positive entry that expires after the configured window.
// PURCHASE credits referencing a payment are applied at most once; a zero
// point PURCHASE entry is allowed as a marker that the payment was handled.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (*Result, error) {
	if req.Reason == "" {
		req.Reason = ReasonBonus
	}
	marker := req.Reason == ReasonPurchase && req.PaymentID != "" && req.Points == 0
	if !marker {
		if err := validation.ValidatePoints(req.Points); err != nil {
			return nil, err
		}
	}

	var res *Result
	err := s.transact(ctx, req.UserID, func(tx LedgerTx, acct *loyaltyDatamodel.Account, now time.Time) error {
		if acct == nil {
			acct = &loyaltyDatamodel.Account{UserID: req.UserID, CreatedAt: now, UpdatedAt: now}
			if err := tx.CreateAccount(acct); err != nil {
				return err
			}
		}
		if err := s.reconcile(tx, acct, now); err != nil {
			return err
		}

		if req.PaymentID != "" {
			existing, err := tx.FindByPayment(req.PaymentID, req.Reason)
			if err != nil {
				return err
			}
			if existing != nil {
				res = result(acct, existing.ID)
				res.Duplicate = true
				return nil
			}
		}

		expiresAt := now.Add(s.expiry)
		entry := &loyaltyDatamodel.Transaction{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			Points:    req.Points,
			Reason:    string(req.Reason),
			Status:    string(StatusActive),
			ExpiresAt: &expiresAt,
			Metadata:  datatypes.JSONMap(req.Metadata),
			CreatedAt: now,
		}
		if marker {
			entry.Status = string(StatusUsed)
			entry.ExpiresAt = nil
		}
		if req.PaymentID != "" {
			entry.PaymentID = &req.PaymentID
		}
		if req.ProductID != "" {
			entry.ProductID = &req.ProductID
		}
		if err := tx.Append(entry); err != nil {
			return err
		}

		acct.Balance += req.Points
		acct.LifetimePoints += req.Points
		acct.UpdatedAt = now
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}
		res = result(acct, entry.ID)
		return nil
	})
	if err != nil {
		return nil, s.storeError("credit", req.UserID, err)
	}

	if res.Duplicate {
		s.logger.Info("loyalty credit already applied",
			"user_id", req.UserID,
			"payment_id", req.PaymentID)
	} else {
		s.logger.Info("loyalty points credited",
			"user_id", req.UserID,
			"points", req.Points,
			"reason", req.Reason,
			"balance", res.Balance,
			"tier", res.Tier)
	}
	return res, nil
}

// Debit removes points from the aggregate balance. It fails with
// InsufficientBalance when the reconciled balance is too small; the
// reconciliation itself is kept.
func (s *Service) Debit(ctx context.Context, req DebitRequest) (*Result, error) {
	if req.Reason == "" {
		req.Reason = ReasonRedeem
	}
	if err := validation.ValidatePoints(req.Points); err != nil {
		return nil, err
	}

	var (
		res          *Result
		insufficient bool
	)
	err := s.transact(ctx, req.UserID, func(tx LedgerTx, acct *loyaltyDatamodel.Account, now time.Time) error {
		if acct == nil {
			insufficient = true
			return nil
		}
		if err := s.reconcile(tx, acct, now); err != nil {
			return err
		}
		if req.Points > acct.Balance {
			insufficient = true
			return nil
		}

		entry := &loyaltyDatamodel.Transaction{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			Points:    -req.Points,
			Reason:    string(req.Reason),
			Status:    string(StatusUsed),
			Metadata:  datatypes.JSONMap(req.Metadata),
			CreatedAt: now,
		}
		if err := tx.Append(entry); err != nil {
			return err
		}

		acct.Balance -= req.Points
		acct.UpdatedAt = now
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}
		res = result(acct, entry.ID)
		return nil
	})
	if err != nil {
		return nil, s.storeError("debit", req.UserID, err)
	}
	if insufficient {
		s.logger.Warn("loyalty debit refused", "user_id", req.UserID, "points", req.Points)
		return nil, internal.ErrInsufficientBalance
	}

	s.logger.Info("loyalty points debited",
		"user_id", req.UserID,
		"points", req.Points,
		"reason", req.Reason,
		"balance", res.Balance)
	return res, nil
}

// GetBalance reconciles the account and returns it with its newest entries.
func (s *Service) GetBalance(ctx context.Context, userID string, limit int) (*BalanceView, error) {
	if limit <= 0 {
		limit = 50
	}
	view := &BalanceView{UserID: userID, Tier: TierForPoints(0), Transactions: []*Transaction{}}
	err := s.transact(ctx, userID, func(tx LedgerTx, acct *loyaltyDatamodel.Account, now time.Time) error {
		if acct == nil {
			return nil
		}
		if err := s.reconcile(tx, acct, now); err != nil {
			return err
		}
		rows, err := tx.ListTransactions(userID, limit)
		if err != nil {
			return err
		}

		view.Balance = acct.Balance
		view.LifetimePoints = acct.LifetimePoints
		view.Tier = TierForPoints(acct.LifetimePoints)
		for _, row := range rows {
			view.Transactions = append(view.Transactions, transactionFromDataModel(row))
		}
		return nil
	})
	if err != nil {
		return nil, s.storeError("get balance", userID, err)
	}
	return view, nil
}

// Reconcile runs the expiration pass on its own.
func (s *Service) Reconcile(ctx context.Context, userID string) (*Result, error) {
	res := &Result{UserID: userID, Tier: TierForPoints(0)}
	err := s.transact(ctx, userID, func(tx LedgerTx, acct *loyaltyDatamodel.Account, now time.Time) error {
		if acct == nil {
			return nil
		}
		if err := s.reconcile(tx, acct, now); err != nil {
			return err
		}
		res = result(acct, "")
		return nil
	})
	if err != nil {
		return nil, s.storeError("reconcile", userID, err)
	}
	return res, nil
}

// VerifyBalance reports whether the stored balance matches the ledger.
func (s *Service) VerifyBalance(ctx context.Context, userID string) (*BalanceCheck, error) {
	check := &BalanceCheck{UserID: userID}
	err := s.transact(ctx, userID, func(tx LedgerTx, acct *loyaltyDatamodel.Account, now time.Time) error {
		if acct == nil {
			return nil
		}
		if err := s.reconcile(tx, acct, now); err != nil {
			return err
		}
		sum, err := tx.SumPoints(userID)
		if err != nil {
			return err
		}
		check.Stored = acct.Balance
		check.LedgerSum = sum
		return nil
	})
	if err != nil {
		return nil, s.storeError("verify balance", userID, err)
	}
	if !check.Consistent() {
		s.logger.Error("loyalty balance drift detected",
			"user_id", userID,
			"stored", check.Stored,
			"ledger_sum", check.LedgerSum)
	}
	return check, nil
}

func (s *Service) transact(ctx context.Context, userID string, fn func(tx LedgerTx, acct *loyaltyDatamodel.Account, now time.Time) error) error {
	if userID == "" {
		return internal.NewValidationFieldError("user_id", "user_id is required", internal.ErrCodeValidationFailed)
	}
	unlock := s.locks.lock(userID)
	defer unlock()

	return storage.Write(ctx, s.policy, func(ctx context.Context) error {
		return s.repo.Transact(ctx, userID, func(tx LedgerTx, acct *loyaltyDatamodel.Account) error {
			return fn(tx, acct, s.clock.Now())
		})
	})
}

// reconcile flips ACTIVE credits whose expiry has passed to EXPIRED and
// books a single EXPIRATION debit for them. The debit never takes the
// balance below zero. With nothing newly expired it changes nothing.
func (s *Service) reconcile(tx LedgerTx, acct *loyaltyDatamodel.Account, now time.Time) error {
	expiring, err := tx.ListExpiring(acct.UserID, now)
	if err != nil {
		return err
	}
	if len(expiring) == 0 {
		return nil
	}

	ids := make([]string, 0, len(expiring))
	var total int64
	for _, t := range expiring {
		ids = append(ids, t.ID)
		total += t.Points
	}
	if err := tx.MarkExpired(ids); err != nil {
		return err
	}

	debit := total
	if debit > acct.Balance {
		debit = acct.Balance
	}
	if debit > 0 {
		entry := &loyaltyDatamodel.Transaction{
			ID:     uuid.New().String(),
			UserID: acct.UserID,
			Points: -debit,
			Reason: string(ReasonExpiration),
			Status: string(StatusUsed),
			Metadata: datatypes.JSONMap{
				"expired_transactions": len(ids),
				"expired_points":       total,
			},
			CreatedAt: now,
		}
		if err := tx.Append(entry); err != nil {
			return err
		}
		acct.Balance -= debit
	}
	acct.UpdatedAt = now
	if err := tx.SaveAccount(acct); err != nil {
		return err
	}

	s.logger.Info("loyalty points expired",
		"user_id", acct.UserID,
		"entries", len(ids),
		"points", debit,
		"balance", acct.Balance)
	return nil
}

func (s *Service) storeError(op, userID string, err error) error {
	var appErr *internal.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	s.logger.Error("loyalty ledger "+op+" failed", "user_id", userID, "error", err)
	return internal.ErrStoreUnavailable.WithCause(err)
}
