package product

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product carries the availability pair. Bool columns have no gorm default so
// that an explicit false is written on insert.
type Product struct {
	ID              string          `gorm:"primaryKey;type:varchar(64)"`
	Name            string          `gorm:"column:name;not null"`
	Description     string          `gorm:"column:description"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Available       bool            `gorm:"column:available;not null"`
	Sold            bool            `gorm:"column:sold;not null"`
	SoldTo          *string         `gorm:"column:sold_to"`
	SoldAt          *time.Time      `gorm:"column:sold_at"`
	DeliveryPayload string          `gorm:"column:delivery_payload;type:text"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (Product) TableName() string {
	return "products"
}
