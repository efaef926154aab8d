package purchase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/core/clock"
	"github.com/frahmantamala/purchase-core/internal/core/common/validation"
	"github.com/frahmantamala/purchase-core/internal/core/events"
	"github.com/frahmantamala/purchase-core/internal/loyalty"
	"github.com/frahmantamala/purchase-core/internal/payment"
	"github.com/frahmantamala/purchase-core/internal/product"
	"github.com/frahmantamala/purchase-core/internal/risk"
	"github.com/frahmantamala/purchase-core/pkg/logger"
)

type Catalog interface {
	LookupForSale(ctx context.Context, id string) (*product.Product, error)
}

type RiskAssessor interface {
	AssessUser(ctx context.Context, userID string) *risk.Assessment
	AssessTransaction(ctx context.Context, attempt risk.TransactionAttempt) *risk.TransactionDecision
	Invalidate(ctx context.Context, userID string)
}

type Payments interface {
	Create(ctx context.Context, req payment.CreatePaymentRequest) (*payment.Payment, error)
	Get(ctx context.Context, id string) (*payment.Payment, error)
	MarkProcessing(ctx context.Context, id, buyerID string) (*payment.Payment, error)
	Approve(ctx context.Context, id, approverID string) (*payment.Payment, error)
	Reject(ctx context.Context, id, reason, rejecterID string) (*payment.Payment, error)
	Expire(ctx context.Context, id string) (*payment.Payment, error)
	ListPending(ctx context.Context, limit, offset int) ([]*payment.Payment, error)
	ListDueForExpiry(ctx context.Context, limit int) ([]*payment.Payment, error)
	ListCompletedWithoutCredit(ctx context.Context, limit int) ([]*payment.Payment, error)
}

type Ledger interface {
	Credit(ctx context.Context, req loyalty.CreditRequest) (*loyalty.Result, error)
	Debit(ctx context.Context, req loyalty.DebitRequest) (*loyalty.Result, error)
	GetBalance(ctx context.Context, userID string, limit int) (*loyalty.BalanceView, error)
}

// Customers records who buys and what they do, feeding the risk engine.
type Customers interface {
	EnsureCustomer(ctx context.Context, userID, name, email string) error
	RecordActivity(ctx context.Context, userID, action string, data map[string]interface{}) error
	BlockCustomer(ctx context.Context, userID, reason string) error
	ReportFraud(ctx context.Context, userID string) error
}

type Dependencies struct {
	Catalog   Catalog
	Risk      RiskAssessor
	Payments  Payments
	Ledger    Ledger
	Customers Customers
	Publisher events.Publisher
}

type Config struct {
	PointsPerUnit        decimal.Decimal
	DefaultPaymentMethod string
	BalanceHistoryLimit  int
}

func DefaultConfig() Config {
	return Config{
		PointsPerUnit:        decimal.NewFromInt(1),
		DefaultPaymentMethod: "bank_transfer",
		BalanceHistoryLimit:  50,
	}
}

func ConfigFrom(purchaseCfg internal.PurchaseConfig, loyaltyCfg internal.LoyaltyConfig) (Config, error) {
	cfg := DefaultConfig()
	if loyaltyCfg.PointsPerUnit != "" {
		rate, err := decimal.NewFromString(loyaltyCfg.PointsPerUnit)
		if err != nil {
			return cfg, err
		}
		cfg.PointsPerUnit = rate
	}
	if purchaseCfg.DefaultPaymentMethod != "" {
		cfg.DefaultPaymentMethod = purchaseCfg.DefaultPaymentMethod
	}
	return cfg, nil
}

// Service sequences risk assessment, the payment state machine and the
// loyalty ledger for one purchase.
type Service struct {
	deps   Dependencies
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(deps Dependencies, cfg Config, clk clock.Clock, lg *slog.Logger) *Service {
	if cfg.BalanceHistoryLimit <= 0 {
		cfg.BalanceHistoryLimit = 50
	}
	return &Service{deps: deps, cfg: cfg, clock: clk, logger: lg}
}

// PointsFor converts a payment amount into loyalty points, rounding down.
func (s *Service) PointsFor(amount decimal.Decimal) int64 {
	points := amount.Mul(s.cfg.PointsPerUnit).Floor().IntPart()
	if points < 0 {
		return 0
	}
	return points
}

// StartPurchase gates the attempt through the risk engine and opens a
// payment for the product.
func (s *Service) StartPurchase(ctx context.Context, req StartPurchaseRequest) (*payment.Payment, error) {
	v := validation.NewValidator()
	v.Field("user_id", req.UserID).Required().MaxLength(64)
	v.Field("product_id", req.ProductID).Required().MaxLength(64)
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = s.cfg.DefaultPaymentMethod
	}

	if err := s.deps.Customers.EnsureCustomer(ctx, req.UserID, req.UserName, req.Email); err != nil {
		s.log(ctx).Error("failed to register customer", "user_id", req.UserID, "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}

	prod, err := s.deps.Catalog.LookupForSale(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !prod.ForSale() {
		return nil, internal.ErrProductUnavailable
	}

	decision := s.deps.Risk.AssessTransaction(ctx, risk.TransactionAttempt{
		UserID:        req.UserID,
		ProductID:     prod.ID,
		Amount:        prod.Price,
		PaymentMethod: req.PaymentMethod,
		IPAddress:     req.IPAddress,
	})

	s.recordActivity(ctx, req.UserID, risk.ActionPurchaseAttempt, map[string]interface{}{
		"product_id":     prod.ID,
		"amount":         prod.Price.String(),
		"payment_method": req.PaymentMethod,
		"ip_address":     req.IPAddress,
		"risk_score":     decision.Score,
		"approved":       decision.Approved,
	})
	s.deps.Risk.Invalidate(ctx, req.UserID)

	if !decision.Approved {
		s.log(ctx).Warn("purchase rejected by risk assessment",
			"user_id", req.UserID,
			"product_id", prod.ID,
			"score", decision.Score,
			"reasons", decision.Reasons)
		return nil, internal.ErrRiskRejected.WithDetails(RiskRejection{
			Score:   decision.Score,
			Reasons: decision.Reasons,
		})
	}

	p, err := s.deps.Payments.Create(ctx, payment.CreatePaymentRequest{
		BuyerID:       req.UserID,
		BuyerName:     req.UserName,
		ProductID:     prod.ID,
		ProductName:   prod.Name,
		Amount:        prod.Price,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewPurchaseStartedEvent(p.ID, p.BuyerID, p.ProductID, p.Amount.String(), p.CreatedAt))
	return p, nil
}

// ApprovePurchase completes the payment and credits loyalty points. A failed
// credit leaves the sale in place and is reported as pending; the repair
// job applies it later.
func (s *Service) ApprovePurchase(ctx context.Context, paymentID, approverID string) (*ApprovalResult, error) {
	p, err := s.deps.Payments.Approve(ctx, paymentID, approverID)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, p.BuyerID, risk.ActionPurchaseCompleted, map[string]interface{}{
		"payment_id": p.ID,
		"product_id": p.ProductID,
		"amount":     p.Amount.String(),
	})

	res := &ApprovalResult{Payment: p}
	if p.DeliveredCredential != nil {
		res.DeliveredCredential = *p.DeliveredCredential
	}

	credit, err := s.creditPurchase(ctx, p)
	if err != nil {
		s.log(ctx).Error("loyalty credit failed, left for repair",
			"payment_id", p.ID,
			"user_id", p.BuyerID,
			"error", err)
		res.LoyaltyPending = true
		return res, nil
	}

	res.PointsCredited = s.PointsFor(p.Amount)
	res.Balance = credit.Balance
	res.Tier = credit.Tier
	return res, nil
}

func (s *Service) RejectPurchase(ctx context.Context, paymentID, reason, rejecterID string) (*payment.Payment, error) {
	return s.deps.Payments.Reject(ctx, paymentID, reason, rejecterID)
}

// CancelPurchase lets the buyer withdraw before approval.
func (s *Service) CancelPurchase(ctx context.Context, paymentID, buyerID string) (*payment.Payment, error) {
	p, err := s.deps.Payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.OwnedBy(buyerID) {
		return nil, internal.ErrNotPaymentOwner
	}
	return s.deps.Payments.Reject(ctx, paymentID, payment.ReasonCancelledByBuyer, buyerID)
}

// ConfirmPaymentSent records the buyer's claim of having paid.
func (s *Service) ConfirmPaymentSent(ctx context.Context, paymentID, buyerID string) (*payment.Payment, error) {
	return s.deps.Payments.MarkProcessing(ctx, paymentID, buyerID)
}

func (s *Service) GetPurchase(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return s.deps.Payments.Get(ctx, paymentID)
}

func (s *Service) GetPendingApprovals(ctx context.Context, limit, offset int) ([]*payment.Payment, error) {
	return s.deps.Payments.ListPending(ctx, limit, offset)
}

func (s *Service) GetBalance(ctx context.Context, userID string) (*loyalty.BalanceView, error) {
	return s.deps.Ledger.GetBalance(ctx, userID, s.cfg.BalanceHistoryLimit)
}

func (s *Service) RedeemPoints(ctx context.Context, userID string, points int64) (*loyalty.Result, error) {
	return s.deps.Ledger.Debit(ctx, loyalty.DebitRequest{
		UserID: userID,
		Points: points,
		Reason: loyalty.ReasonRedeem,
	})
}

func (s *Service) AssessUser(ctx context.Context, userID string) *risk.Assessment {
	return s.deps.Risk.AssessUser(ctx, userID)
}

func (s *Service) BlockCustomer(ctx context.Context, userID, reason string) error {
	if err := validation.ValidateRejectionReason(reason); err != nil {
		return err
	}
	if err := s.deps.Customers.BlockCustomer(ctx, userID, reason); err != nil {
		return s.customerError("block", userID, err)
	}

	s.log(ctx).Warn("customer blocked", "user_id", userID, "reason", reason)
	s.deps.Risk.Invalidate(ctx, userID)
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishSync(ctx, events.NewCustomerBlockedEvent(userID, reason, s.clock.Now())); err != nil {
			s.log(ctx).Error("failed to publish customer blocked event", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (s *Service) ReportFraud(ctx context.Context, userID string) error {
	if err := s.deps.Customers.ReportFraud(ctx, userID); err != nil {
		return s.customerError("report fraud", userID, err)
	}
	s.log(ctx).Warn("fraud reported", "user_id", userID)
	s.deps.Risk.Invalidate(ctx, userID)
	return nil
}

// RepairCredit applies the loyalty credit of one completed payment if it is
// still missing.
func (s *Service) RepairCredit(ctx context.Context, paymentID string) error {
	p, err := s.deps.Payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != payment.StatusCompleted {
		return internal.ErrInvalidState
	}
	_, err = s.creditPurchase(ctx, p)
	return err
}

// RepairLoyaltyCredits credits completed payments the ledger has no entry
// for and returns how many were repaired.
func (s *Service) RepairLoyaltyCredits(ctx context.Context, limit int) (int, error) {
	missing, err := s.deps.Payments.ListCompletedWithoutCredit(ctx, limit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, p := range missing {
		if _, err := s.creditPurchase(ctx, p); err != nil {
			s.log(ctx).Error("loyalty repair failed", "payment_id", p.ID, "error", err)
			continue
		}
		repaired++
	}
	if repaired > 0 {
		s.log(ctx).Info("loyalty credits repaired", "count", repaired)
	}
	return repaired, nil
}

// ExpirePayment is the sweep's single-payment step.
func (s *Service) ExpirePayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return s.deps.Payments.Expire(ctx, paymentID)
}

// ExpireOverdue expires open payments past their window and returns how
// many changed state.
func (s *Service) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	due, err := s.deps.Payments.ListDueForExpiry(ctx, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range due {
		current, err := s.deps.Payments.Expire(ctx, p.ID)
		if err != nil {
			s.log(ctx).Error("payment expiry failed", "payment_id", p.ID, "error", err)
			continue
		}
		if current.Status == payment.StatusExpired {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) creditPurchase(ctx context.Context, p *payment.Payment) (*loyalty.Result, error) {
	points := s.PointsFor(p.Amount)
	res, err := s.deps.Ledger.Credit(ctx, loyalty.CreditRequest{
		UserID:    p.BuyerID,
		Points:    points,
		Reason:    loyalty.ReasonPurchase,
		PaymentID: p.ID,
		ProductID: p.ProductID,
		Metadata: map[string]interface{}{
			"amount":       p.Amount.String(),
			"product_name": p.ProductName,
		},
	})
	if err != nil {
		return nil, err
	}

	if !res.Duplicate {
		s.publish(ctx, events.NewLoyaltyCreditedEvent(p.BuyerID, p.ID, points, res.Balance, res.Tier, s.clock.Now()))
	}
	return res, nil
}

func (s *Service) recordActivity(ctx context.Context, userID, action string, data map[string]interface{}) {
	if err := s.deps.Customers.RecordActivity(ctx, userID, action, data); err != nil {
		s.log(ctx).Warn("failed to record customer activity",
			"user_id", userID,
			"action", action,
			"error", err)
	}
}

func (s *Service) customerError(op, userID string, err error) error {
	var appErr *internal.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, risk.ErrUserNotFound) {
		return internal.ErrCustomerNotFound
	}
	s.logger.Error("customer "+op+" failed", "user_id", userID, "error", err)
	return internal.ErrStoreUnavailable.WithCause(err)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(ctx, event); err != nil {
		s.log(ctx).Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, s.logger)
}
