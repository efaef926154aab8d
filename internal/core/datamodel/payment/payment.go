package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID                  string          `gorm:"primaryKey;type:varchar(36)"`
	BuyerID             string          `gorm:"column:buyer_id;not null;index"`
	BuyerName           string          `gorm:"column:buyer_name"`
	ProductID           string          `gorm:"column:product_id;not null;index"`
	ProductName         string          `gorm:"column:product_name"`
	Amount              decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	PaymentMethod       string          `gorm:"column:payment_method"`
	Status              string          `gorm:"column:status;not null;index:idx_payments_status_expires,priority:1"`
	InstructionCode     string          `gorm:"column:instruction_code"`
	ReferenceImage      string          `gorm:"column:reference_image;type:text"`
	DeliveredCredential *string         `gorm:"column:delivered_credential;type:text"`
	ApproverID          *string         `gorm:"column:approver_id"`
	RejecterID          *string         `gorm:"column:rejecter_id"`
	RejectionReason     *string         `gorm:"column:rejection_reason"`
	CreatedAt           time.Time       `gorm:"column:created_at;not null"`
	ExpiresAt           time.Time       `gorm:"column:expires_at;not null;index:idx_payments_status_expires,priority:2"`
	ProcessingAt        *time.Time      `gorm:"column:processing_at"`
	CompletedAt         *time.Time      `gorm:"column:completed_at"`
	RejectedAt          *time.Time      `gorm:"column:rejected_at"`
	UpdatedAt           time.Time       `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
