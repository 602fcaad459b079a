package dto

import (
	"time"

	"github.com/openbasket/marketplace-api/internal/models"
)

// CreateImportRequest captures the multipart upload metadata for a price file.
// The file itself travels as the "file" form part.
type CreateImportRequest struct {
	FileKind models.ImportFileKind `form:"fileKind" binding:"required"`
}

// ImportJobResponse is returned after an upload is accepted.
type ImportJobResponse struct {
	ID       string                 `json:"id"`
	Status   models.ImportJobStatus `json:"status"`
	FileKind models.ImportFileKind  `json:"fileKind"`
}

// ImportJobDetail exposes the full job record to operators and suppliers.
type ImportJobDetail struct {
	ID          string                 `json:"id"`
	StoreID     string                 `json:"storeId"`
	SupplierID  string                 `json:"supplierId"`
	FileKind    models.ImportFileKind  `json:"fileKind"`
	Status      models.ImportJobStatus `json:"status"`
	TotalRows   int                    `json:"totalRows"`
	ValidRows   int                    `json:"validRows"`
	InvalidRows int                    `json:"invalidRows"`
	Errors      []models.ImportError   `json:"errors"`
	CreatedAt   time.Time              `json:"createdAt"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
}

// ImportJobFilter carries list query parameters.
type ImportJobFilter struct {
	SupplierID string
	Status     []models.ImportJobStatus
	Page       int
	PageSize   int
}

// StagedRowItem exposes one audited row of an uploaded file.
type StagedRowItem struct {
	ID        string                 `json:"id"`
	RowNumber int                    `json:"rowNumber"`
	RawData   map[string]string      `json:"rawData"`
	SKU       string                 `json:"sku"`
	NewPrice  *float64               `json:"newPrice"`
	ProductID *string                `json:"productId,omitempty"`
	OldPrice  *float64               `json:"oldPrice,omitempty"`
	Errors    []models.RowError      `json:"errors"`
	Status    models.StagedRowStatus `json:"status"`
}

// SubmitApprovalResponse confirms a job was forwarded to the approval workflow.
type SubmitApprovalResponse struct {
	ID        string                 `json:"id"`
	Status    models.ImportJobStatus `json:"status"`
	ValidRows int                    `json:"validRows"`
	Submitted bool                   `json:"submitted"`
}

// ExportResponse returns a signed download link for a staged-row export.
type ExportResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
