package customer

import (
	"time"

	"gorm.io/datatypes"
)

type Customer struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)"`
	Name         string    `gorm:"column:name"`
	Email        string    `gorm:"column:email"`
	IsBlocked    bool      `gorm:"column:is_blocked;not null"`
	BlockReason  *string   `gorm:"column:block_reason"`
	FraudReports int       `gorm:"column:fraud_reports;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

type Activity struct {
	ID         string            `gorm:"primaryKey;type:varchar(36)"`
	CustomerID string            `gorm:"column:customer_id;not null;index:idx_customer_activities_customer_created,priority:1"`
	Action     string            `gorm:"column:action;not null"`
	Data       datatypes.JSONMap `gorm:"column:data"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null;index:idx_customer_activities_customer_created,priority:2"`
}

func (Activity) TableName() string {
	return "customer_activities"
}
