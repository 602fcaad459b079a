package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/openbasket/marketplace-api/internal/dto"
	"github.com/openbasket/marketplace-api/internal/middleware"
	"github.com/openbasket/marketplace-api/internal/models"
	"github.com/openbasket/marketplace-api/internal/service"
	appErrors "github.com/openbasket/marketplace-api/pkg/errors"
)

type importServiceMock struct {
	createResp  *dto.ImportJobResponse
	createErr   error
	createKind  models.ImportFileKind
	getResp     *dto.ImportJobDetail
	getErr      error
	listResp    []dto.ImportJobDetail
	listFilter  dto.ImportJobFilter
	listErr     error
	rowsResp    []dto.StagedRowItem
	rowsStatus  *models.StagedRowStatus
	rowsErr     error
	submitResp  *dto.SubmitApprovalResponse
	submitErr   error
	exportResp  *dto.ExportResponse
	exportFmt   string
	exportErr   error
	download    *service.ImportDownload
	downloadErr error
}

func (m *importServiceMock) CreateJob(_ context.Context, kind models.ImportFileKind, _ string, content io.Reader, _ *models.JWTClaims) (*dto.ImportJobResponse, error) {
	m.createKind = kind
	if content != nil {
		_, _ = io.Copy(io.Discard, content)
	}
	return m.createResp, m.createErr
}

func (m *importServiceMock) GetJob(_ context.Context, _ string, _ *models.JWTClaims) (*dto.ImportJobDetail, error) {
	return m.getResp, m.getErr
}

func (m *importServiceMock) ListJobs(_ context.Context, filter dto.ImportJobFilter, _ *models.JWTClaims) ([]dto.ImportJobDetail, error) {
	m.listFilter = filter
	return m.listResp, m.listErr
}

func (m *importServiceMock) ListStagedRows(_ context.Context, _ string, status *models.StagedRowStatus, _ *models.JWTClaims) ([]dto.StagedRowItem, error) {
	m.rowsStatus = status
	return m.rowsResp, m.rowsErr
}

func (m *importServiceMock) SubmitForApproval(_ context.Context, _ string, _ *models.JWTClaims) (*dto.SubmitApprovalResponse, error) {
	return m.submitResp, m.submitErr
}

func (m *importServiceMock) ExportStagedRows(_ context.Context, _ string, format string, _ *models.JWTClaims) (*dto.ExportResponse, error) {
	m.exportFmt = format
	return m.exportResp, m.exportErr
}

func (m *importServiceMock) ResolveDownload(_ context.Context, _ string) (*service.ImportDownload, error) {
	return m.download, m.downloadErr
}

func supplierContext(c *gin.Context) {
	supplierID := "supplier-1"
	c.Set(middleware.ContextUserKey, &models.JWTClaims{
		UserID: "u1", Role: models.RoleSupplier, StoreID: "store-1", SupplierID: &supplierID,
	})
}

func multipartUpload(t *testing.T, kind, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	if kind != "" {
		require.NoError(t, writer.WriteField("fileKind", kind))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func TestPriceImportHandlerUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &importServiceMock{
		createResp: &dto.ImportJobResponse{ID: "job-1", Status: models.ImportStatusUploaded, FileKind: models.ImportFileKindCSV},
	}
	handler := NewPriceImportHandler(mockSvc, 0)

	body, contentType := multipartUpload(t, "csv", "prices.csv", "SKU,Price\nA-1,10\n")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	supplierContext(c)

	handler.Upload(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, models.ImportFileKindCSV, mockSvc.createKind)

	var envelope struct {
		Data dto.ImportJobResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "job-1", envelope.Data.ID)
	require.Equal(t, models.ImportStatusUploaded, envelope.Data.Status)
}

func TestPriceImportHandlerUploadMissingKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPriceImportHandler(&importServiceMock{}, 0)

	body, contentType := multipartUpload(t, "", "prices.csv", "SKU,Price\n")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	supplierContext(c)

	handler.Upload(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPriceImportHandlerUploadMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPriceImportHandler(&importServiceMock{}, 0)

	body, contentType := multipartUpload(t, "csv", "", "")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	supplierContext(c)

	handler.Upload(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPriceImportHandlerGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &importServiceMock{
		getResp: &dto.ImportJobDetail{ID: "job-1", Status: models.ImportStatusPendingApproval, TotalRows: 3, ValidRows: 2, InvalidRows: 1, Errors: models.ImportErrorList{}},
	}
	handler := NewPriceImportHandler(mockSvc, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/imports/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	supplierContext(c)

	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data dto.ImportJobDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, 2, envelope.Data.ValidRows)
	require.NotNil(t, envelope.Data.Errors)
}

func TestPriceImportHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPriceImportHandler(&importServiceMock{getErr: appErrors.ErrNotFound}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/imports/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	supplierContext(c)

	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPriceImportHandlerListParsesStatusFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &importServiceMock{listResp: []dto.ImportJobDetail{}}
	handler := NewPriceImportHandler(mockSvc, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/imports?status=pending_approval,validation_failed&page=2&pageSize=10", nil)
	supplierContext(c)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []models.ImportJobStatus{models.ImportStatusPendingApproval, models.ImportStatusValidationFailed}, mockSvc.listFilter.Status)
	require.Equal(t, 2, mockSvc.listFilter.Page)
	require.Equal(t, 10, mockSvc.listFilter.PageSize)
}

func TestPriceImportHandlerListRejectsUnknownStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPriceImportHandler(&importServiceMock{}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/imports?status=bogus", nil)
	supplierContext(c)

	handler.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPriceImportHandlerRowsStatusFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &importServiceMock{rowsResp: []dto.StagedRowItem{}}
	handler := NewPriceImportHandler(mockSvc, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/imports/job-1/rows?status=invalid", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	supplierContext(c)

	handler.Rows(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.rowsStatus)
	require.Equal(t, models.StagedRowInvalid, *mockSvc.rowsStatus)
}

func TestPriceImportHandlerRowsRejectsBadStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPriceImportHandler(&importServiceMock{}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/imports/job-1/rows?status=maybe", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	supplierContext(c)

	handler.Rows(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPriceImportHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &importServiceMock{
		submitResp: &dto.SubmitApprovalResponse{ID: "job-1", Status: models.ImportStatusPendingApproval, ValidRows: 2, Submitted: true},
	}
	handler := NewPriceImportHandler(mockSvc, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/imports/job-1/submit", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	supplierContext(c)

	handler.Submit(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPriceImportHandlerSubmitPreconditionFailed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPriceImportHandler(&importServiceMock{submitErr: appErrors.ErrPreconditionFailed}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/imports/job-1/submit", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	supplierContext(c)

	handler.Submit(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestPriceImportHandlerExportDefaultsToCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &importServiceMock{
		exportResp: &dto.ExportResponse{URL: "/api/v1/imports/downloads/tok", ExpiresAt: time.Now().Add(time.Hour)},
	}
	handler := NewPriceImportHandler(mockSvc, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/imports/job-1/export", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	supplierContext(c)

	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "csv", mockSvc.exportFmt)
}

func TestPriceImportHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tmp, err := os.CreateTemp(t.TempDir(), "export-*.csv")
	require.NoError(t, err)
	_, err = tmp.WriteString("Row,SKU\n1,A-1\n")
	require.NoError(t, err)
	_, err = tmp.Seek(0, io.SeekStart)
	require.NoError(t, err)

	mockSvc := &importServiceMock{
		download: &service.ImportDownload{File: tmp, Filename: "job-1.csv", ExpiresAt: time.Now().Add(time.Hour)},
	}
	handler := NewPriceImportHandler(mockSvc, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/imports/downloads/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "job-1.csv")
	require.Contains(t, w.Body.String(), "A-1")
}

func TestPriceImportHandlerDownloadRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPriceImportHandler(&importServiceMock{downloadErr: appErrors.ErrForbidden}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/imports/downloads/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	handler.Download(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestPriceImportHandlerUploadTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPriceImportHandler(&importServiceMock{}, 8)

	body, contentType := multipartUpload(t, "csv", "prices.csv", "SKU,Price\nA-1,10\n")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/imports", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	supplierContext(c)

	handler.Upload(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
