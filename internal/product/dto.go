package product

import "github.com/shopspring/decimal"

type ProductResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
	Sold      bool            `json:"sold"`
}

type ProductsResponse struct {
	Products []ProductResponse `json:"products"`
}

func (p *Product) ToResponse() ProductResponse {
	return ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Available: p.Available,
		Sold:      p.Sold,
	}
}
