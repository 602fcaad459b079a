package models

import "time"

// Product is a catalog entry scoped to a store and the supplier that lists it.
// SKUs are stored upper-cased; lookups normalize to the same canonical case.
type Product struct {
	ID         string     `db:"id" json:"id"`
	StoreID    string     `db:"store_id" json:"store_id"`
	SupplierID string     `db:"supplier_id" json:"supplier_id"`
	SKU        string     `db:"sku" json:"sku"`
	Name       string     `db:"name" json:"name"`
	Price      float64    `db:"price" json:"price"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ProductFilter captures filtering criteria for listing catalog products.
type ProductFilter struct {
	StoreID    string
	SupplierID string
	Search     string
	Page       int
	PageSize   int
}
