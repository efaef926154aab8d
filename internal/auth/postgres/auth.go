package auth

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/auth"
	operatorDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/operator"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetCredentials(ctx context.Context, email string) (*auth.Credentials, error) {
	var op operatorDatamodel.Operator
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrOperatorNotFound
		}
		return nil, err
	}
	return &auth.Credentials{
		OperatorID:   op.ID,
		PasswordHash: op.PasswordHash,
		IsActive:     op.IsActive,
	}, nil
}

func (r *Repository) GetOperatorWithPermissions(ctx context.Context, operatorID int64) (*internal.Operator, error) {
	var op operatorDatamodel.Operator
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", operatorID, true).
		First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrOperatorNotFound
		}
		return nil, err
	}

	var permissions []string
	err = r.db.WithContext(ctx).
		Table("permissions p").
		Select("p.name").
		Joins("JOIN operator_permissions op ON p.id = op.permission_id").
		Where("op.operator_id = ?", operatorID).
		Order("p.name").
		Pluck("p.name", &permissions).Error
	if err != nil {
		return nil, err
	}

	return &internal.Operator{
		ID:          strconv.FormatInt(op.ID, 10),
		Email:       op.Email,
		Permissions: permissions,
	}, nil
}

// CreateOperator stores an operator and grants the named permissions,
// creating permission rows that do not exist yet.
func (r *Repository) CreateOperator(ctx context.Context, email, name, passwordHash string, permissions []string) (int64, error) {
	op := operatorDatamodel.Operator{
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		IsActive:     true,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&op).Error; err != nil {
			return err
		}
		for _, permName := range permissions {
			perm := operatorDatamodel.Permission{Name: permName}
			if err := tx.Where("name = ?", permName).FirstOrCreate(&perm).Error; err != nil {
				return err
			}
			link := operatorDatamodel.OperatorPermission{OperatorID: op.ID, PermissionID: perm.ID}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return op.ID, nil
}
