package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/openbasket/marketplace-api/internal/dto"
	"github.com/openbasket/marketplace-api/internal/models"
	appErrors "github.com/openbasket/marketplace-api/pkg/errors"
)

type catalogStore interface {
	Create(ctx context.Context, product *models.Product) error
	GetByID(ctx context.Context, id string) (*models.Product, error)
	FindBySKU(ctx context.Context, storeID, supplierID, sku string) (*models.Product, error)
	List(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
}

// CatalogService manages catalog products and serves the SKU lookups the
// import pipeline validates against, read-through cached since validation is
// read-only and SKU-heavy.
type CatalogService struct {
	repo   catalogStore
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogService constructs the service.
func NewCatalogService(repo catalogStore, cache *CacheService, ttl time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CatalogService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// FindBySKU resolves a SKU for the given store and supplier. It satisfies the
// importer's catalog lookup contract; unresolved SKUs surface as sql.ErrNoRows
// for the validator to translate into a row error.
func (s *CatalogService) FindBySKU(ctx context.Context, storeID, supplierID, sku string) (*models.Product, error) {
	key := skuCacheKey(storeID, supplierID, sku)
	var cached models.Product
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	product, err := s.repo.FindBySKU(ctx, storeID, supplierID, sku)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, product, s.ttl); err != nil {
		s.logger.Warn("failed to cache sku lookup", zap.String("sku", sku), zap.Error(err))
	}
	return product, nil
}

// CreateProduct registers a catalog entry and invalidates the lookup cache for
// its SKU.
func (s *CatalogService) CreateProduct(ctx context.Context, req dto.CreateProductRequest, actor *models.JWTClaims) (*dto.ProductItem, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleSupplier {
		return nil, appErrors.ErrForbidden
	}

	product := &models.Product{
		StoreID:    actor.StoreID,
		SupplierID: req.SupplierID,
		SKU:        strings.ToUpper(strings.TrimSpace(req.SKU)),
		Name:       strings.TrimSpace(req.Name),
		Price:      req.Price,
		Active:     true,
	}
	if product.SKU == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sku is required")
	}
	if err := s.repo.Create(ctx, product); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, appErrors.Clone(appErrors.ErrConflict, "sku already exists for this supplier")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create product")
	}

	if err := s.cache.Invalidate(ctx, skuCacheKey(product.StoreID, product.SupplierID, product.SKU)); err != nil {
		s.logger.Warn("failed to invalidate sku cache", zap.String("sku", product.SKU), zap.Error(err))
	}

	item := dto.ProductFromModel(product)
	return &item, nil
}

// GetProduct returns a single catalog entry within the actor's store.
func (s *CatalogService) GetProduct(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ProductItem, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load product")
	}
	if product.StoreID != actor.StoreID {
		return nil, appErrors.ErrNotFound
	}
	item := dto.ProductFromModel(product)
	return &item, nil
}

// ListProducts returns catalog entries for the actor's store. Suppliers only
// see their own listings.
func (s *CatalogService) ListProducts(ctx context.Context, filter models.ProductFilter, actor *models.JWTClaims) ([]dto.ProductItem, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter.StoreID = actor.StoreID
	if actor.Role == models.RoleSupplier {
		if actor.SupplierID == nil {
			return nil, appErrors.ErrForbidden
		}
		filter.SupplierID = *actor.SupplierID
	}
	products, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list products")
	}
	items := make([]dto.ProductItem, 0, len(products))
	for i := range products {
		items = append(items, dto.ProductFromModel(&products[i]))
	}
	return items, nil
}

func skuCacheKey(storeID, supplierID, sku string) string {
	return fmt.Sprintf("catalog:sku:%s:%s:%s", storeID, supplierID, sku)
}
