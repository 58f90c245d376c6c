// Package product holds the catalog entities owned by the product service.
package product

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("product not found")
	ErrDuplicateSKU = errors.New("a product with this SKU already exists")
	ErrInvalidPrice = errors.New("price must not be negative")
)

type Product struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Price         float64   `json:"price"`
	SalePrice     float64   `json:"salePrice"`
	FeaturedImage string    `json:"featuredImage,omitempty"`
	IsDigital     bool      `json:"isDigital"`
	Weight        float64   `json:"weight"`
	CategoryID    string    `json:"categoryId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (p *Product) Validate() error {
	if p.Price < 0 || p.SalePrice < 0 {
		return ErrInvalidPrice
	}
	return nil
}
