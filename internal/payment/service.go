package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/core/clock"
	"github.com/frahmantamala/purchase-core/internal/core/common/validation"
	paymentDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/payment"
	"github.com/frahmantamala/purchase-core/internal/core/events"
	"github.com/frahmantamala/purchase-core/internal/core/storage"
)

// Repository sentinels. The service translates them into the error taxonomy.
var (
	ErrNotFound           = errors.New("payment not found")
	ErrStateConflict      = errors.New("payment state changed concurrently")
	ErrProductMissing     = errors.New("product does not exist")
	ErrProductUnavailable = errors.New("product is not available for sale")
)

const DefaultTimeout = 30 * time.Minute

// IssueFunc is invoked inside the approval transaction once the product has
// been marked sold.
type IssueFunc func(p *paymentDatamodel.Payment, deliveryPayload string) (string, error)

type RepositoryAPI interface {
	Create(ctx context.Context, p *paymentDatamodel.Payment) error
	GetByID(ctx context.Context, id string) (*paymentDatamodel.Payment, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id, approverID string, at time.Time, issue IssueFunc) error
	Reject(ctx context.Context, id, rejecterID, reason string, at time.Time) error
	Expire(ctx context.Context, id string, at time.Time) error
	ListOpen(ctx context.Context, limit, offset int) ([]*paymentDatamodel.Payment, error)
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*paymentDatamodel.Payment, error)
	ListCompletedWithoutCredit(ctx context.Context, limit int) ([]*paymentDatamodel.Payment, error)
}

type CreatePaymentRequest struct {
	BuyerID       string
	BuyerName     string
	ProductID     string
	ProductName   string
	Amount        decimal.Decimal
	PaymentMethod string
}

type ServiceConfig struct {
	Timeout  time.Duration
	Policy   storage.Policy
	Renderer InstructionRenderer
	Issuer   CredentialIssuer
}

type Service struct {
	repo      RepositoryAPI
	publisher events.Publisher
	renderer  InstructionRenderer
	issuer    CredentialIssuer
	timeout   time.Duration
	policy    storage.Policy
	clock     clock.Clock
	logger    *slog.Logger
}

func NewService(repo RepositoryAPI, publisher events.Publisher, cfg ServiceConfig, clk clock.Clock, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Renderer == nil {
		cfg.Renderer = PlaceholderRenderer{}
	}
	if cfg.Issuer == nil {
		cfg.Issuer = StoredCredentialIssuer{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		renderer:  cfg.Renderer,
		issuer:    cfg.Issuer,
		timeout:   cfg.Timeout,
		policy:    cfg.Policy,
		clock:     clk,
		logger:    logger,
	}
}

// Create opens a PENDING payment. The product's availability is checked
// against the store in the same transaction as the insert.
func (s *Service) Create(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	v := validation.NewValidator()
	v.Field("buyer_id", req.BuyerID).Required().MaxLength(64)
	v.Field("product_id", req.ProductID).Required().MaxLength(64)
	v.Field("amount", req.Amount).NonNegative(internal.ErrCodeInvalidAmount)
	if err := v.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p := &Payment{
		ID:            uuid.New().String(),
		BuyerID:       req.BuyerID,
		BuyerName:     req.BuyerName,
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.timeout),
		UpdatedAt:     now,
	}

	instruction, err := s.renderer.Render(ctx, p)
	if err != nil {
		s.logger.Error("failed to render payment instruction", "payment_id", p.ID, "error", err)
		return nil, internal.NewInternalError("failed to render payment instruction", err)
	}
	p.InstructionCode = instruction.Code
	p.ReferenceImage = instruction.ReferenceImage

	err = storage.Write(ctx, s.policy, func(ctx context.Context) error {
		return s.repo.Create(ctx, ToDataModel(p))
	})
	switch {
	case errors.Is(err, ErrProductMissing):
		return nil, internal.ErrProductNotFound
	case errors.Is(err, ErrProductUnavailable):
		return nil, internal.ErrProductUnavailable
	case err != nil:
		s.logger.Error("failed to create payment", "payment_id", p.ID, "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}

	s.logger.Info("payment created",
		"payment_id", p.ID,
		"buyer_id", p.BuyerID,
		"product_id", p.ProductID,
		"amount", p.Amount.String(),
		"expires_at", p.ExpiresAt)
	return p, nil
}

// Get reads a payment, expiring it first if its window has elapsed.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.expireIfDue(ctx, p)
}

// MarkProcessing records that the buyer reports having paid. Repeating the
// call while PROCESSING is a no-op.
func (s *Service) MarkProcessing(ctx context.Context, id, buyerID string) (*Payment, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.OwnedBy(buyerID) {
		return nil, internal.ErrNotPaymentOwner
	}

	for attempt := 0; attempt < 2; attempt++ {
		switch p.Status {
		case StatusProcessing:
			return p, nil
		case StatusExpired:
			return nil, internal.ErrPaymentExpired
		case StatusCompleted, StatusRejected:
			return nil, internal.ErrInvalidState
		}

		now := s.clock.Now()
		err = storage.Write(ctx, s.policy, func(ctx context.Context) error {
			return s.repo.MarkProcessing(ctx, id, now)
		})
		if err == nil {
			s.logger.Info("payment marked processing", "payment_id", id, "buyer_id", buyerID)
			return s.load(ctx, id)
		}
		if !errors.Is(err, ErrStateConflict) {
			s.logger.Error("failed to mark payment processing", "payment_id", id, "error", err)
			return nil, internal.ErrStoreUnavailable.WithCause(err)
		}
		if p, err = s.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return nil, internal.ErrInvalidState
}

// Approve completes the payment and marks the product sold in one store
// transaction. A payment whose window elapsed is expired and reported as
// such. Losing a race for the product rejects the payment.
func (s *Service) Approve(ctx context.Context, id, approverID string) (*Payment, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := approvable(p); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	issue := func(row *paymentDatamodel.Payment, deliveryPayload string) (string, error) {
		return s.issuer.Issue(ctx, FromDataModel(row), deliveryPayload)
	}
	err = storage.Write(ctx, s.policy, func(ctx context.Context) error {
		return s.repo.Complete(ctx, id, approverID, now, issue)
	})

	switch {
	case err == nil:
		completed, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		s.logger.Info("payment approved",
			"payment_id", id,
			"approver_id", approverID,
			"product_id", completed.ProductID,
			"amount", completed.Amount.String())
		s.publish(ctx, events.NewPaymentCompletedEvent(completed.ID, completed.BuyerID, completed.ProductID,
			completed.Amount.String(), approverID, now))
		return completed, nil

	case errors.Is(err, ErrProductUnavailable):
		s.logger.Warn("product already sold, rejecting payment",
			"payment_id", id,
			"product_id", p.ProductID)
		if _, rerr := s.reject(ctx, p, SystemActor, ReasonProductUnavailable); rerr != nil &&
			!errors.Is(rerr, internal.ErrAlreadyRejected) {
			s.logger.Error("failed to reject payment for sold product", "payment_id", id, "error", rerr)
		}
		return nil, internal.ErrProductUnavailable

	case errors.Is(err, ErrStateConflict):
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := approvable(current); err != nil {
			return nil, err
		}
		return nil, internal.ErrInvalidState

	default:
		s.logger.Error("failed to approve payment", "payment_id", id, "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}
}

func approvable(p *Payment) error {
	switch p.Status {
	case StatusExpired:
		return internal.ErrPaymentExpired
	case StatusCompleted, StatusRejected:
		return internal.ErrInvalidState
	}
	return nil
}

// Reject closes an open payment with the given reason.
func (s *Service) Reject(ctx context.Context, id, reason, rejecterID string) (*Payment, error) {
	if err := validation.ValidateRejectionReason(reason); err != nil {
		return nil, err
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.reject(ctx, p, rejecterID, reason)
}

func (s *Service) reject(ctx context.Context, p *Payment, rejecterID, reason string) (*Payment, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if err := rejectable(p); err != nil {
			return nil, err
		}

		now := s.clock.Now()
		err := storage.Write(ctx, s.policy, func(ctx context.Context) error {
			return s.repo.Reject(ctx, p.ID, rejecterID, reason, now)
		})
		if err == nil {
			rejected, err := s.load(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			s.logger.Info("payment rejected",
				"payment_id", p.ID,
				"rejecter_id", rejecterID,
				"reason", reason)
			s.publish(ctx, events.NewPaymentRejectedEvent(rejected.ID, rejected.BuyerID, rejected.ProductID,
				rejected.Amount.String(), rejecterID, reason, now))
			return rejected, nil
		}
		if !errors.Is(err, ErrStateConflict) {
			s.logger.Error("failed to reject payment", "payment_id", p.ID, "error", err)
			return nil, internal.ErrStoreUnavailable.WithCause(err)
		}
		if p, err = s.Get(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return nil, internal.ErrInvalidState
}

func rejectable(p *Payment) error {
	switch p.Status {
	case StatusCompleted:
		return internal.ErrAlreadyCompleted
	case StatusRejected:
		return internal.ErrAlreadyRejected
	case StatusExpired:
		return internal.ErrInvalidState
	}
	return nil
}

// Expire moves an overdue open payment to EXPIRED. It returns the current
// record either way and may be called repeatedly.
func (s *Service) Expire(ctx context.Context, id string) (*Payment, error) {
	return s.Get(ctx, id)
}

// ListPending returns open payments oldest first. Overdue ones found along
// the way are expired and left out.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]*Payment, error) {
	var rows []*paymentDatamodel.Payment
	err := storage.Read(ctx, s.policy, func(ctx context.Context) error {
		var err error
		rows, err = s.repo.ListOpen(ctx, limit, offset)
		return err
	})
	if err != nil {
		s.logger.Error("failed to list pending payments", "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}

	pending := make([]*Payment, 0, len(rows))
	for _, row := range rows {
		p, err := s.expireIfDue(ctx, FromDataModel(row))
		if err != nil {
			return nil, err
		}
		if p.Status.IsOpen() {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// ListDueForExpiry feeds the expiration sweep.
func (s *Service) ListDueForExpiry(ctx context.Context, limit int) ([]*Payment, error) {
	now := s.clock.Now()
	var rows []*paymentDatamodel.Payment
	err := storage.Read(ctx, s.policy, func(ctx context.Context) error {
		var err error
		rows, err = s.repo.ListDueForExpiry(ctx, now, limit)
		return err
	})
	if err != nil {
		s.logger.Error("failed to list payments due for expiry", "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}
	return fromRows(rows), nil
}

// ListCompletedWithoutCredit feeds the loyalty repair job.
func (s *Service) ListCompletedWithoutCredit(ctx context.Context, limit int) ([]*Payment, error) {
	var rows []*paymentDatamodel.Payment
	err := storage.Read(ctx, s.policy, func(ctx context.Context) error {
		var err error
		rows, err = s.repo.ListCompletedWithoutCredit(ctx, limit)
		return err
	})
	if err != nil {
		s.logger.Error("failed to list uncredited payments", "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}
	return fromRows(rows), nil
}

func fromRows(rows []*paymentDatamodel.Payment) []*Payment {
	out := make([]*Payment, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromDataModel(row))
	}
	return out
}

func (s *Service) load(ctx context.Context, id string) (*Payment, error) {
	var row *paymentDatamodel.Payment
	err := storage.Read(ctx, s.policy, func(ctx context.Context) error {
		var err error
		row, err = s.repo.GetByID(ctx, id)
		return err
	}, ErrNotFound)
	if errors.Is(err, ErrNotFound) {
		return nil, internal.ErrPaymentNotFound
	}
	if err != nil {
		s.logger.Error("failed to load payment", "payment_id", id, "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}
	return FromDataModel(row), nil
}

func (s *Service) expireIfDue(ctx context.Context, p *Payment) (*Payment, error) {
	now := s.clock.Now()
	if !p.IsOverdue(now) {
		return p, nil
	}

	err := storage.Write(ctx, s.policy, func(ctx context.Context) error {
		return s.repo.Expire(ctx, p.ID, now)
	})
	switch {
	case err == nil:
		s.logger.Info("payment expired",
			"payment_id", p.ID,
			"buyer_id", p.BuyerID,
			"expires_at", p.ExpiresAt)
		s.publish(ctx, events.NewPaymentExpiredEvent(p.ID, p.BuyerID, p.ProductID, p.Amount.String(), now))
	case errors.Is(err, ErrStateConflict):
		// another caller moved it first
	default:
		s.logger.Error("failed to expire payment", "payment_id", p.ID, "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}
	return s.load(ctx, p.ID)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSync(ctx, event); err != nil {
		s.logger.Error("failed to publish payment event",
			"event_type", event.EventType(),
			"error", err)
	}
}
