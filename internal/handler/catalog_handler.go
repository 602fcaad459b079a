package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openbasket/marketplace-api/internal/dto"
	"github.com/openbasket/marketplace-api/internal/models"
	appErrors "github.com/openbasket/marketplace-api/pkg/errors"
	"github.com/openbasket/marketplace-api/pkg/response"
)

type catalogService interface {
	CreateProduct(ctx context.Context, req dto.CreateProductRequest, actor *models.JWTClaims) (*dto.ProductItem, error)
	GetProduct(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ProductItem, error)
	ListProducts(ctx context.Context, filter models.ProductFilter, actor *models.JWTClaims) ([]dto.ProductItem, error)
}

// CatalogHandler exposes catalog product endpoints.
type CatalogHandler struct {
	catalog catalogService
}

// NewCatalogHandler constructs the handler.
func NewCatalogHandler(catalog catalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Create godoc
// @Summary Register a catalog product
// @Tags Catalog
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /catalog/products [post]
func (h *CatalogHandler) Create(c *gin.Context) {
	var req dto.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid product payload"))
		return
	}
	product, err := h.catalog.CreateProduct(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, product)
}

// Get godoc
// @Summary Catalog product detail
// @Tags Catalog
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} response.Envelope
// @Router /catalog/products/{id} [get]
func (h *CatalogHandler) Get(c *gin.Context) {
	product, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, product, nil)
}

// List godoc
// @Summary List catalog products
// @Tags Catalog
// @Produce json
// @Param search query string false "SKU or name search"
// @Param supplierId query string false "Supplier ID"
// @Success 200 {object} response.Envelope
// @Router /catalog/products [get]
func (h *CatalogHandler) List(c *gin.Context) {
	filter := models.ProductFilter{
		SupplierID: c.Query("supplierId"),
		Search:     c.Query("search"),
		Page:       intQuery(c, "page", 1),
		PageSize:   intQuery(c, "pageSize", 50),
	}
	products, err := h.catalog.ListProducts(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, products, nil)
}
