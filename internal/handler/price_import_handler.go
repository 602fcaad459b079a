package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openbasket/marketplace-api/internal/dto"
	"github.com/openbasket/marketplace-api/internal/models"
	"github.com/openbasket/marketplace-api/internal/service"
	appErrors "github.com/openbasket/marketplace-api/pkg/errors"
	"github.com/openbasket/marketplace-api/pkg/response"
)

type priceImportService interface {
	CreateJob(ctx context.Context, kind models.ImportFileKind, filename string, content io.Reader, actor *models.JWTClaims) (*dto.ImportJobResponse, error)
	GetJob(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ImportJobDetail, error)
	ListJobs(ctx context.Context, filter dto.ImportJobFilter, actor *models.JWTClaims) ([]dto.ImportJobDetail, error)
	ListStagedRows(ctx context.Context, jobID string, status *models.StagedRowStatus, actor *models.JWTClaims) ([]dto.StagedRowItem, error)
	SubmitForApproval(ctx context.Context, jobID string, actor *models.JWTClaims) (*dto.SubmitApprovalResponse, error)
	ExportStagedRows(ctx context.Context, jobID, format string, actor *models.JWTClaims) (*dto.ExportResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ImportDownload, error)
}

// PriceImportHandler exposes the price import endpoints.
type PriceImportHandler struct {
	imports        priceImportService
	maxUploadBytes int64
}

// NewPriceImportHandler constructs the handler. maxUploadBytes caps the size
// of accepted price files; zero or negative means 10 MiB.
func NewPriceImportHandler(imports priceImportService, maxUploadBytes int64) *PriceImportHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &PriceImportHandler{imports: imports, maxUploadBytes: maxUploadBytes}
}

// Upload godoc
// @Summary Upload a price update file
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param fileKind formData string true "File kind (csv or xlsx)"
// @Param file formData file true "Price file"
// @Success 201 {object} response.Envelope
// @Router /imports [post]
func (h *PriceImportHandler) Upload(c *gin.Context) {
	kind := models.ImportFileKind(strings.TrimSpace(c.PostForm("fileKind")))
	if kind == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "fileKind is required"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file exceeds the %d byte upload limit", h.maxUploadBytes)))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	job, err := h.imports.CreateJob(c.Request.Context(), kind, fileHeader.Filename, file, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, job)
}

// Get godoc
// @Summary Import job detail with error list
// @Tags Imports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /imports/{id} [get]
func (h *PriceImportHandler) Get(c *gin.Context) {
	job, err := h.imports.GetJob(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// List godoc
// @Summary List import jobs for the caller's store
// @Tags Imports
// @Produce json
// @Param status query string false "Comma-separated statuses"
// @Param supplierId query string false "Supplier ID (operators only)"
// @Success 200 {object} response.Envelope
// @Router /imports [get]
func (h *PriceImportHandler) List(c *gin.Context) {
	filter := dto.ImportJobFilter{
		SupplierID: c.Query("supplierId"),
		Page:       intQuery(c, "page", 1),
		PageSize:   intQuery(c, "pageSize", 20),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.ImportJobStatus(strings.TrimSpace(part))
			switch status {
			case models.ImportStatusUploaded, models.ImportStatusProcessing,
				models.ImportStatusPendingApproval, models.ImportStatusValidationFailed:
				filter.Status = append(filter.Status, status)
			default:
				response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown status filter"))
				return
			}
		}
	}

	jobs, err := h.imports.ListJobs(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, nil)
}

// Rows godoc
// @Summary Staged rows of an import job, in file order
// @Tags Imports
// @Produce json
// @Param id path string true "Job ID"
// @Param status query string false "Row status (valid or invalid)"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/rows [get]
func (h *PriceImportHandler) Rows(c *gin.Context) {
	var status *models.StagedRowStatus
	if raw := c.Query("status"); raw != "" {
		value := models.StagedRowStatus(raw)
		if value != models.StagedRowValid && value != models.StagedRowInvalid {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status must be valid or invalid"))
			return
		}
		status = &value
	}

	rows, err := h.imports.ListStagedRows(c.Request.Context(), c.Param("id"), status, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Submit godoc
// @Summary Submit a pending_approval job to the approval workflow
// @Tags Imports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/submit [post]
func (h *PriceImportHandler) Submit(c *gin.Context) {
	result, err := h.imports.SubmitForApproval(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Export staged rows as a signed download
// @Tags Imports
// @Produce json
// @Param id path string true "Job ID"
// @Param format query string true "Export format (csv or pdf)"
// @Success 200 {object} response.Envelope
// @Router /imports/{id}/export [post]
func (h *PriceImportHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	result, err := h.imports.ExportStagedRows(c.Request.Context(), c.Param("id"), format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download a staged-row export via signed token
// @Tags Imports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200
// @Router /imports/downloads/{token} [get]
func (h *PriceImportHandler) Download(c *gin.Context) {
	download, err := h.imports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", download.File, nil)
}
