package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/openbasket/marketplace-api/internal/models"
)

const (
	msgSKUNotFound  = "SKU not found for this supplier"
	msgInvalidPrice = "price must be a positive number"

	defaultValidationWorkers = 4
)

// CatalogLookup resolves SKUs against catalog state. Implementations must be
// safe for concurrent use; validation never mutates catalog data.
type CatalogLookup interface {
	FindBySKU(ctx context.Context, storeID, supplierID, sku string) (*models.Product, error)
}

// ValidationResult is the handoff contract between row validation and the
// orchestrator. ProductID and OldPrice stay nil when the SKU did not resolve.
type ValidationResult struct {
	Valid     bool
	Errors    []models.RowError
	ProductID *string
	OldPrice  *float64
}

// RowValidation pairs a parsed row with its validation outcome.
type RowValidation struct {
	Row    ParsedRow
	Result ValidationResult
}

// Rule is a pluggable sanity predicate evaluated after SKU resolution and the
// positive-price check both pass. Rules do not short-circuit each other, so a
// row can accumulate errors from several rules at once.
type Rule func(row ParsedRow, product *models.Product) *models.RowError

// MaxDeviationRule rejects price changes that stray more than percent from the
// current catalog price. A cap of zero or less disables the rule.
func MaxDeviationRule(percent float64) Rule {
	return func(row ParsedRow, product *models.Product) *models.RowError {
		if percent <= 0 || product == nil || product.Price <= 0 || row.NewPrice == nil {
			return nil
		}
		deviation := math.Abs(*row.NewPrice-product.Price) / product.Price * 100
		if deviation > percent {
			return &models.RowError{
				Field:   "price",
				Message: fmt.Sprintf("price deviates %.1f%% from current price (max %.1f%%)", deviation, percent),
			}
		}
		return nil
	}
}

// Validator applies per-row validation against catalog state. Each row is
// independent; validation is a pure computation over catalog lookups.
type Validator struct {
	catalog CatalogLookup
	rules   []Rule
	workers int
}

// NewValidator constructs a validator with optional extra sanity rules.
func NewValidator(catalog CatalogLookup, workers int, rules ...Rule) *Validator {
	if workers <= 0 {
		workers = defaultValidationWorkers
	}
	return &Validator{catalog: catalog, rules: rules, workers: workers}
}

// Validate checks every parsed row for the given store and supplier, fanning
// work across a bounded pool and returning results in input order. A catalog
// lookup failure aborts with an error; rule failures never do.
func (v *Validator) Validate(ctx context.Context, rows []ParsedRow, storeID, supplierID string) ([]RowValidation, error) {
	results := make([]RowValidation, len(rows))

	sem := make(chan struct{}, v.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, row := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, row ParsedRow) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := v.validateRow(ctx, row, storeID, supplierID)
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			results[i] = RowValidation{Row: row, Result: result}
			mu.Unlock()
		}(i, row)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (v *Validator) validateRow(ctx context.Context, row ParsedRow, storeID, supplierID string) (ValidationResult, error) {
	result := ValidationResult{}
	result.Errors = append(result.Errors, row.ParseWarnings...)

	product, err := v.catalog.FindBySKU(ctx, storeID, supplierID, row.SKU)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			product = nil
		} else {
			return result, fmt.Errorf("resolve sku %q: %w", row.SKU, err)
		}
	}

	if product == nil {
		result.Errors = append(result.Errors, models.RowError{Field: "sku", Message: msgSKUNotFound})
	} else {
		result.ProductID = &product.ID
		oldPrice := product.Price
		result.OldPrice = &oldPrice
	}

	priceOK := row.NewPrice != nil && !math.IsInf(*row.NewPrice, 0) && *row.NewPrice > 0
	if !priceOK && len(row.ParseWarnings) == 0 {
		result.Errors = append(result.Errors, models.RowError{Field: "price", Message: msgInvalidPrice})
	}

	if product != nil && priceOK {
		for _, rule := range v.rules {
			if ruleErr := rule(row, product); ruleErr != nil {
				result.Errors = append(result.Errors, *ruleErr)
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}
