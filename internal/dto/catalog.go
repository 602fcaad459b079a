package dto

import (
	"time"

	"github.com/openbasket/marketplace-api/internal/models"
)

// CreateProductRequest captures POST /catalog/products payload.
type CreateProductRequest struct {
	SupplierID string  `json:"supplierId" binding:"required"`
	SKU        string  `json:"sku" binding:"required"`
	Name       string  `json:"name" binding:"required"`
	Price      float64 `json:"price" binding:"required,gt=0"`
}

// ProductItem is the catalog entry returned to clients.
type ProductItem struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"storeId"`
	SupplierID string    `json:"supplierId"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Price      float64   `json:"price"`
	Active     bool      `json:"active"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ProductFromModel maps a catalog product onto the response shape.
func ProductFromModel(p *models.Product) ProductItem {
	return ProductItem{
		ID:         p.ID,
		StoreID:    p.StoreID,
		SupplierID: p.SupplierID,
		SKU:        p.SKU,
		Name:       p.Name,
		Price:      p.Price,
		Active:     p.Active,
		UpdatedAt:  p.UpdatedAt,
	}
}
