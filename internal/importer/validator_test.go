package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbasket/marketplace-api/internal/models"
)

type stubCatalog struct {
	mu       sync.Mutex
	products map[string]*models.Product
	err      error
	calls    int
}

func (s *stubCatalog) FindBySKU(_ context.Context, _, _, sku string) (*models.Product, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	product, ok := s.products[sku]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return product, nil
}

func catalogWith(products ...*models.Product) *stubCatalog {
	bySKU := make(map[string]*models.Product, len(products))
	for _, p := range products {
		bySKU[p.SKU] = p
	}
	return &stubCatalog{products: bySKU}
}

func parsedRow(number int, sku string, price float64, warnings ...models.RowError) ParsedRow {
	return ParsedRow{
		RowNumber:     number,
		SKU:           sku,
		NewPrice:      &price,
		ParseWarnings: warnings,
		RawData:       models.RawRowData{"SKU": sku},
	}
}

// parsedRowNoPrice mimics a row whose price cell failed to parse.
func parsedRowNoPrice(number int, sku string, warnings ...models.RowError) ParsedRow {
	return ParsedRow{
		RowNumber:     number,
		SKU:           sku,
		ParseWarnings: warnings,
		RawData:       models.RawRowData{"SKU": sku},
	}
}

func TestValidateAllValid(t *testing.T) {
	catalog := catalogWith(
		&models.Product{ID: "p1", SKU: "A-1", Price: 10},
		&models.Product{ID: "p2", SKU: "B-2", Price: 20},
	)
	v := NewValidator(catalog, 2)

	results, err := v.Validate(context.Background(), []ParsedRow{
		parsedRow(1, "A-1", 12),
		parsedRow(2, "B-2", 18),
	}, "store-1", "supplier-1")

	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, rv := range results {
		require.Equal(t, i+1, rv.Row.RowNumber)
		require.True(t, rv.Result.Valid)
		require.Empty(t, rv.Result.Errors)
		require.NotNil(t, rv.Result.ProductID)
		require.NotNil(t, rv.Result.OldPrice)
	}
	require.Equal(t, "p1", *results[0].Result.ProductID)
	require.Equal(t, 10.0, *results[0].Result.OldPrice)
}

func TestValidateUnknownSKU(t *testing.T) {
	v := NewValidator(catalogWith(), 1)

	results, err := v.Validate(context.Background(), []ParsedRow{parsedRow(1, "GHOST", 5)}, "store-1", "supplier-1")

	require.NoError(t, err)
	require.Len(t, results, 1)
	result := results[0].Result
	require.False(t, result.Valid)
	require.Nil(t, result.ProductID)
	require.Nil(t, result.OldPrice)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "sku", result.Errors[0].Field)
	require.Equal(t, "SKU not found for this supplier", result.Errors[0].Message)
}

func TestValidateNonPositivePrice(t *testing.T) {
	catalog := catalogWith(&models.Product{ID: "p1", SKU: "A-1", Price: 10})
	v := NewValidator(catalog, 1)

	for _, price := range []float64{0, -3} {
		results, err := v.Validate(context.Background(), []ParsedRow{parsedRow(1, "A-1", price)}, "store-1", "supplier-1")
		require.NoError(t, err)
		result := results[0].Result
		require.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		require.Equal(t, "price must be a positive number", result.Errors[0].Message)
		// SKU resolved even though price failed.
		require.NotNil(t, result.ProductID)
	}
}

func TestValidateParseWarningCarriesOver(t *testing.T) {
	catalog := catalogWith(&models.Product{ID: "p1", SKU: "A-1", Price: 10})
	v := NewValidator(catalog, 1)

	warning := models.RowError{Field: "price", Message: "invalid price format"}
	results, err := v.Validate(context.Background(), []ParsedRow{parsedRowNoPrice(1, "A-1", warning)}, "store-1", "supplier-1")

	require.NoError(t, err)
	result := results[0].Result
	require.False(t, result.Valid)
	// The parse warning stands alone, no duplicate positive-price error.
	require.Len(t, result.Errors, 1)
	require.Equal(t, "invalid price format", result.Errors[0].Message)
}

func TestValidateAccumulatesErrors(t *testing.T) {
	v := NewValidator(catalogWith(), 1)

	results, err := v.Validate(context.Background(), []ParsedRow{parsedRow(1, "GHOST", -1)}, "store-1", "supplier-1")

	require.NoError(t, err)
	result := results[0].Result
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	require.Equal(t, "sku", result.Errors[0].Field)
	require.Equal(t, "price", result.Errors[1].Field)
}

func TestValidateMixedBatch(t *testing.T) {
	catalog := catalogWith(&models.Product{ID: "p1", SKU: "A-1", Price: 10})
	v := NewValidator(catalog, 3)

	results, err := v.Validate(context.Background(), []ParsedRow{
		parsedRow(1, "A-1", 11),
		parsedRow(2, "GHOST", 5),
		parsedRow(3, "A-1", -2),
	}, "store-1", "supplier-1")

	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].Result.Valid)
	require.False(t, results[1].Result.Valid)
	require.False(t, results[2].Result.Valid)
	// Order matches input regardless of worker scheduling.
	for i, rv := range results {
		require.Equal(t, i+1, rv.Row.RowNumber)
	}
}

func TestValidateMaxDeviationRule(t *testing.T) {
	catalog := catalogWith(&models.Product{ID: "p1", SKU: "A-1", Price: 100})
	v := NewValidator(catalog, 1, MaxDeviationRule(50))

	results, err := v.Validate(context.Background(), []ParsedRow{
		parsedRow(1, "A-1", 120),
		parsedRow(2, "A-1", 300),
	}, "store-1", "supplier-1")

	require.NoError(t, err)
	require.True(t, results[0].Result.Valid)
	require.False(t, results[1].Result.Valid)
	require.Contains(t, results[1].Result.Errors[0].Message, "deviates")
}

func TestMaxDeviationRuleDisabled(t *testing.T) {
	rule := MaxDeviationRule(0)
	require.Nil(t, rule(parsedRow(1, "A-1", 10000), &models.Product{Price: 1}))
}

func TestValidateInfrastructureErrorAborts(t *testing.T) {
	catalog := &stubCatalog{err: fmt.Errorf("connection refused")}
	v := NewValidator(catalog, 2)

	_, err := v.Validate(context.Background(), []ParsedRow{parsedRow(1, "A-1", 5)}, "store-1", "supplier-1")

	require.Error(t, err)
	require.Contains(t, err.Error(), "resolve sku")
	require.False(t, errors.Is(err, sql.ErrNoRows))
}
