package payment

import (
	"time"

	paymentDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/payment"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusRejected   Status = "REJECTED"
	StatusExpired    Status = "EXPIRED"
)

// OpenStatuses are the states a payment may still leave.
var OpenStatuses = []string{string(StatusPending), string(StatusProcessing)}

func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusProcessing
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusExpired
}

// SystemActor is recorded as the rejecter for transitions nobody asked for.
const SystemActor = "system"

const (
	ReasonProductUnavailable = "product_unavailable"
	ReasonExpired            = "expired"
	ReasonCancelledByBuyer   = "cancelled_by_buyer"
)

type Payment struct {
	ID                  string          `json:"id"`
	BuyerID             string          `json:"buyer_id"`
	BuyerName           string          `json:"buyer_name"`
	ProductID           string          `json:"product_id"`
	ProductName         string          `json:"product_name"`
	Amount              decimal.Decimal `json:"amount"`
	PaymentMethod       string          `json:"payment_method"`
	Status              Status          `json:"status"`
	InstructionCode     string          `json:"instruction_code"`
	ReferenceImage      string          `json:"reference_image,omitempty"`
	DeliveredCredential *string         `json:"-"`
	ApproverID          *string         `json:"approver_id,omitempty"`
	RejecterID          *string         `json:"rejecter_id,omitempty"`
	RejectionReason     *string         `json:"rejection_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	ExpiresAt           time.Time       `json:"expires_at"`
	ProcessingAt        *time.Time      `json:"processing_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	RejectedAt          *time.Time      `json:"rejected_at,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsOverdue reports whether an open payment has outlived its window.
func (p *Payment) IsOverdue(now time.Time) bool {
	return p.Status.IsOpen() && now.After(p.ExpiresAt)
}

func (p *Payment) OwnedBy(buyerID string) bool {
	return p.BuyerID == buyerID
}

func ToDataModel(p *Payment) *paymentDatamodel.Payment {
	return &paymentDatamodel.Payment{
		ID:                  p.ID,
		BuyerID:             p.BuyerID,
		BuyerName:           p.BuyerName,
		ProductID:           p.ProductID,
		ProductName:         p.ProductName,
		Amount:              p.Amount,
		PaymentMethod:       p.PaymentMethod,
		Status:              string(p.Status),
		InstructionCode:     p.InstructionCode,
		ReferenceImage:      p.ReferenceImage,
		DeliveredCredential: p.DeliveredCredential,
		ApproverID:          p.ApproverID,
		RejecterID:          p.RejecterID,
		RejectionReason:     p.RejectionReason,
		CreatedAt:           p.CreatedAt,
		ExpiresAt:           p.ExpiresAt,
		ProcessingAt:        p.ProcessingAt,
		CompletedAt:         p.CompletedAt,
		RejectedAt:          p.RejectedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func FromDataModel(p *paymentDatamodel.Payment) *Payment {
	return &Payment{
		ID:                  p.ID,
		BuyerID:             p.BuyerID,
		BuyerName:           p.BuyerName,
		ProductID:           p.ProductID,
		ProductName:         p.ProductName,
		Amount:              p.Amount,
		PaymentMethod:       p.PaymentMethod,
		Status:              Status(p.Status),
		InstructionCode:     p.InstructionCode,
		ReferenceImage:      p.ReferenceImage,
		DeliveredCredential: p.DeliveredCredential,
		ApproverID:          p.ApproverID,
		RejecterID:          p.RejecterID,
		RejectionReason:     p.RejectionReason,
		CreatedAt:           p.CreatedAt,
		ExpiresAt:           p.ExpiresAt,
		ProcessingAt:        p.ProcessingAt,
		CompletedAt:         p.CompletedAt,
		RejectedAt:          p.RejectedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}
