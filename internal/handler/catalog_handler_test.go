package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/openbasket/marketplace-api/internal/dto"
	"github.com/openbasket/marketplace-api/internal/models"
	appErrors "github.com/openbasket/marketplace-api/pkg/errors"
)

type catalogServiceMock struct {
	createResp *dto.ProductItem
	createErr  error
	createReq  dto.CreateProductRequest
	getResp    *dto.ProductItem
	getErr     error
	getID      string
	listResp   []dto.ProductItem
	listErr    error
	listFilter models.ProductFilter
}

func (m *catalogServiceMock) CreateProduct(_ context.Context, req dto.CreateProductRequest, _ *models.JWTClaims) (*dto.ProductItem, error) {
	m.createReq = req
	return m.createResp, m.createErr
}

func (m *catalogServiceMock) GetProduct(_ context.Context, id string, _ *models.JWTClaims) (*dto.ProductItem, error) {
	m.getID = id
	return m.getResp, m.getErr
}

func (m *catalogServiceMock) ListProducts(_ context.Context, filter models.ProductFilter, _ *models.JWTClaims) ([]dto.ProductItem, error) {
	m.listFilter = filter
	return m.listResp, m.listErr
}

func TestCatalogCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &catalogServiceMock{createResp: &dto.ProductItem{ID: "p1", SKU: "A-1"}}
	h := NewCatalogHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body := `{"supplierId":"supplier-1","sku":"a-1","name":"Widget","price":19.9}`
	c.Request = httptest.NewRequest(http.MethodPost, "/catalog/products", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	supplierContext(c)

	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "a-1", mock.createReq.SKU)

	var envelope struct {
		Data dto.ProductItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "p1", envelope.Data.ID)
}

func TestCatalogCreateRejectsBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewCatalogHandler(&catalogServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/catalog/products", strings.NewReader(`{"sku":"a-1"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	supplierContext(c)

	h.Create(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCatalogGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &catalogServiceMock{getErr: appErrors.ErrNotFound}
	h := NewCatalogHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/catalog/products/p9", nil)
	c.Params = gin.Params{{Key: "id", Value: "p9"}}
	supplierContext(c)

	h.Get(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "p9", mock.getID)
}

func TestCatalogListParsesQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &catalogServiceMock{listResp: []dto.ProductItem{{ID: "p1"}}}
	h := NewCatalogHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/catalog/products?supplierId=supplier-1&search=wid&page=2&pageSize=10", nil)
	supplierContext(c)

	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "supplier-1", mock.listFilter.SupplierID)
	require.Equal(t, "wid", mock.listFilter.Search)
	require.Equal(t, 2, mock.listFilter.Page)
	require.Equal(t, 10, mock.listFilter.PageSize)
}
