package loyalty

import (
	"time"

	"gorm.io/datatypes"
)

type Account struct {
	UserID         string    `gorm:"primaryKey;column:user_id;type:varchar(64)"`
	Balance        int64     `gorm:"column:balance;not null"`
	LifetimePoints int64     `gorm:"column:lifetime_points;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Account) TableName() string {
	return "loyalty_accounts"
}

type Transaction struct {
	ID        string            `gorm:"primaryKey;type:varchar(36)"`
	UserID    string            `gorm:"column:user_id;not null;index:idx_loyalty_tx_user_status_expires,priority:1"`
	Points    int64             `gorm:"column:points;not null"`
	Reason    string            `gorm:"column:reason;not null;uniqueIndex:idx_loyalty_tx_payment_reason,priority:2"`
	Status    string            `gorm:"column:status;not null;index:idx_loyalty_tx_user_status_expires,priority:2"`
	ExpiresAt *time.Time        `gorm:"column:expires_at;index:idx_loyalty_tx_user_status_expires,priority:3"`
	PaymentID *string           `gorm:"column:payment_id;uniqueIndex:idx_loyalty_tx_payment_reason,priority:1"`
	ProductID *string           `gorm:"column:product_id"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
}

func (Transaction) TableName() string {
	return "loyalty_transactions"
}
