package product

import (
	"time"

	productDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/product"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Available       bool            `json:"available"`
	Sold            bool            `json:"sold"`
	SoldTo          *string         `json:"sold_to,omitempty"`
	SoldAt          *time.Time      `json:"sold_at,omitempty"`
	DeliveryPayload string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ForSale reports whether a new payment may be opened against the product.
func (p *Product) ForSale() bool {
	return p.Available && !p.Sold
}

func NewProduct(id, name string, price decimal.Decimal, deliveryPayload string, now time.Time) *Product {
	return &Product{
		ID:              id,
		Name:            name,
		Price:           price,
		Available:       true,
		DeliveryPayload: deliveryPayload,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func ToDataModel(p *Product) *productDatamodel.Product {
	return &productDatamodel.Product{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Price:           p.Price,
		Available:       p.Available,
		Sold:            p.Sold,
		SoldTo:          p.SoldTo,
		SoldAt:          p.SoldAt,
		DeliveryPayload: p.DeliveryPayload,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func FromDataModel(p *productDatamodel.Product) *Product {
	return &Product{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Price:           p.Price,
		Available:       p.Available,
		Sold:            p.Sold,
		SoldTo:          p.SoldTo,
		SoldAt:          p.SoldAt,
		DeliveryPayload: p.DeliveryPayload,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
