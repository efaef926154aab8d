package postgres

import (
	"context"
	"errors"

	productDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/product"
	"github.com/frahmantamala/purchase-core/internal/product"
	"gorm.io/gorm"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) product.RepositoryAPI {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*productDatamodel.Product, error) {
	var p productDatamodel.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, product.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) ListAvailable(ctx context.Context, limit, offset int) ([]*productDatamodel.Product, error) {
	var products []*productDatamodel.Product
	err := r.db.WithContext(ctx).
		Where("available = ? AND sold = ?", true, false).
		Order("name ASC").
		Limit(limit).
		Offset(offset).
		Find(&products).Error
	return products, err
}

func (r *ProductRepository) Create(ctx context.Context, p *productDatamodel.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}
