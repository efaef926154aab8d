package operator

import "time"

type Operator struct {
	ID           int64     `gorm:"primaryKey"`
	Email        string    `gorm:"column:email;not null;uniqueIndex"`
	Name         string    `gorm:"column:name;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	IsActive     bool      `gorm:"column:is_active;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (Operator) TableName() string {
	return "operators"
}

type Permission struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"column:name;not null;uniqueIndex"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (Permission) TableName() string {
	return "permissions"
}

type OperatorPermission struct {
	OperatorID   int64     `gorm:"primaryKey;column:operator_id"`
	PermissionID int64     `gorm:"primaryKey;column:permission_id"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (OperatorPermission) TableName() string {
	return "operator_permissions"
}
