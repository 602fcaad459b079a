package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/openbasket/marketplace-api/internal/models"
)

func TestCatalogRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO products")).
		WithArgs(sqlmock.AnyArg(), "store-1", "supplier-1", "A-1", "Widget", 9.99, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	product := &models.Product{
		StoreID:    "store-1",
		SupplierID: "supplier-1",
		SKU:        "A-1",
		Name:       "Widget",
		Price:      9.99,
		Active:     true,
	}
	require.NoError(t, repo.Create(context.Background(), product))
	require.NotEmpty(t, product.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryFindBySKU(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	rows := sqlmock.NewRows([]string{"id", "store_id", "supplier_id", "sku", "name", "price", "active", "created_at", "updated_at", "deleted_at"}).
		AddRow("p1", "store-1", "supplier-1", "A-1", "Widget", 9.99, true, time.Now(), time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE store_id = $1 AND supplier_id = $2 AND sku = $3")).
		WithArgs("store-1", "supplier-1", "A-1").
		WillReturnRows(rows)

	product, err := repo.FindBySKU(context.Background(), "store-1", "supplier-1", "A-1")
	require.NoError(t, err)
	require.Equal(t, "p1", product.ID)
	require.Equal(t, 9.99, product.Price)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryFindBySKUNotFound(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE store_id = $1 AND supplier_id = $2 AND sku = $3")).
		WithArgs("store-1", "supplier-1", "GHOST").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindBySKU(context.Background(), "store-1", "supplier-1", "GHOST")
	require.Error(t, err)
	// The validator relies on unwrapping to classify unknown SKUs.
	require.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestCatalogRepositoryList(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	rows := sqlmock.NewRows([]string{"id", "store_id", "supplier_id", "sku", "name", "price", "active", "created_at", "updated_at", "deleted_at"}).
		AddRow("p1", "store-1", "supplier-1", "A-1", "Widget", 9.99, true, time.Now(), time.Now(), nil).
		AddRow("p2", "store-1", "supplier-1", "B-2", "Gadget", 4.50, true, time.Now(), time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE store_id = $1 AND deleted_at IS NULL AND supplier_id = $2")).
		WithArgs("store-1", "supplier-1", 50, 0).
		WillReturnRows(rows)

	products, err := repo.List(context.Background(), models.ProductFilter{StoreID: "store-1", SupplierID: "supplier-1"})
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryListWithSearch(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	rows := sqlmock.NewRows([]string{"id", "store_id", "supplier_id", "sku", "name", "price", "active", "created_at", "updated_at", "deleted_at"}).
		AddRow("p1", "store-1", "supplier-1", "A-1", "Widget", 9.99, true, time.Now(), time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("sku ILIKE $2 OR name ILIKE $2")).
		WithArgs("store-1", "%wid%", 50, 0).
		WillReturnRows(rows)

	products, err := repo.List(context.Background(), models.ProductFilter{StoreID: "store-1", Search: "wid"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
