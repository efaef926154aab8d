package purchase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-core/internal/payment"
)

type StartPurchaseRequest struct {
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name"`
	Email         string `json:"email"`
	ProductID     string `json:"product_id"`
	PaymentMethod string `json:"payment_method"`
	IPAddress     string `json:"-"`
}

// RiskRejection is attached to RISK_REJECTED errors.
type RiskRejection struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

type ApprovalResult struct {
	Payment             *payment.Payment
	DeliveredCredential string
	PointsCredited      int64
	Balance             int64
	Tier                int
	LoyaltyPending      bool
}

type BuyerActionDTO struct {
	UserID string `json:"user_id"`
}

type RejectPurchaseDTO struct {
	Reason string `json:"reason"`
}

type RedeemPointsDTO struct {
	Points int64 `json:"points"`
}

type BlockCustomerDTO struct {
	Reason string `json:"reason"`
}

type PurchaseResponse struct {
	ID              string          `json:"id"`
	BuyerID         string          `json:"buyer_id"`
	BuyerName       string          `json:"buyer_name"`
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"payment_method"`
	Status          string          `json:"status"`
	InstructionCode string          `json:"instruction_code"`
	ReferenceImage  string          `json:"reference_image,omitempty"`
	ApproverID      *string         `json:"approver_id,omitempty"`
	RejecterID      *string         `json:"rejecter_id,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

type PurchasesResponse struct {
	Purchases []PurchaseResponse `json:"purchases"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

type ApprovalResponse struct {
	Purchase            PurchaseResponse `json:"purchase"`
	DeliveredCredential string           `json:"delivered_credential"`
	PointsCredited      int64            `json:"points_credited"`
	Balance             int64            `json:"balance"`
	Tier                int              `json:"tier"`
	LoyaltyPending      bool             `json:"loyalty_pending"`
}

func ToPurchaseResponse(p *payment.Payment) PurchaseResponse {
	return PurchaseResponse{
		ID:              p.ID,
		BuyerID:         p.BuyerID,
		BuyerName:       p.BuyerName,
		ProductID:       p.ProductID,
		ProductName:     p.ProductName,
		Amount:          p.Amount,
		PaymentMethod:   p.PaymentMethod,
		Status:          string(p.Status),
		InstructionCode: p.InstructionCode,
		ReferenceImage:  p.ReferenceImage,
		ApproverID:      p.ApproverID,
		RejecterID:      p.RejecterID,
		RejectionReason: p.RejectionReason,
		CreatedAt:       p.CreatedAt,
		ExpiresAt:       p.ExpiresAt,
		CompletedAt:     p.CompletedAt,
	}
}

func (r *ApprovalResult) ToResponse() ApprovalResponse {
	return ApprovalResponse{
		Purchase:            ToPurchaseResponse(r.Payment),
		DeliveredCredential: r.DeliveredCredential,
		PointsCredited:      r.PointsCredited,
		Balance:             r.Balance,
		Tier:                r.Tier,
		LoyaltyPending:      r.LoyaltyPending,
	}
}
