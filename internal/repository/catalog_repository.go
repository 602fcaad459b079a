package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openbasket/marketplace-api/internal/models"
)

// CatalogRepository persists catalog products scoped to store and supplier.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Create inserts a new product row.
func (r *CatalogRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	const query = `INSERT INTO products (id, store_id, supplier_id, sku, name, price, active, created_at, updated_at)
VALUES (:id, :store_id, :supplier_id, :sku, :name, :price, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, product); err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// GetByID returns a product by its identifier.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	const query = `SELECT id, store_id, supplier_id, sku, name, price, active, created_at, updated_at, deleted_at
FROM products WHERE id = $1 AND deleted_at IS NULL`
	var product models.Product
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &product, nil
}

// FindBySKU resolves a SKU for the given store and supplier. SKUs are stored
// upper-cased; callers pass the normalized form.
func (r *CatalogRepository) FindBySKU(ctx context.Context, storeID, supplierID, sku string) (*models.Product, error) {
	const query = `SELECT id, store_id, supplier_id, sku, name, price, active, created_at, updated_at, deleted_at
FROM products WHERE store_id = $1 AND supplier_id = $2 AND sku = $3 AND active = TRUE AND deleted_at IS NULL`
	var product models.Product
	if err := r.db.GetContext(ctx, &product, query, storeID, supplierID, sku); err != nil {
		return nil, fmt.Errorf("find product by sku: %w", err)
	}
	return &product, nil
}

// List fetches products matching the filter ordered by SKU.
func (r *CatalogRepository) List(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	conditions := []string{"store_id = $1", "deleted_at IS NULL"}
	args := []interface{}{filter.StoreID}
	argPos := 2

	if filter.SupplierID != "" {
		conditions = append(conditions, fmt.Sprintf("supplier_id = $%d", argPos))
		args = append(args, filter.SupplierID)
		argPos++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(sku ILIKE $%d OR name ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT id, store_id, supplier_id, sku, name, price, active, created_at, updated_at, deleted_at
FROM products WHERE %s ORDER BY sku ASC LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), argPos, argPos+1)
	args = append(args, pageSize, (page-1)*pageSize)

	var products []models.Product
	if err := r.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}
