package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ImportFileKind enumerates supported price file encodings.
type ImportFileKind string

const (
	ImportFileKindCSV  ImportFileKind = "csv"
	ImportFileKindXLSX ImportFileKind = "xlsx"
)

// ValidImportFileKind reports whether the declared kind is part of the closed set.
func ValidImportFileKind(k ImportFileKind) bool {
	return k == ImportFileKindCSV || k == ImportFileKindXLSX
}

// ImportJobStatus captures the price import lifecycle states owned by this service.
// Post-approval states (approved/applied/rejected) belong to the approval workflow
// and are never written by the ingestion pipeline.
type ImportJobStatus string

const (
	ImportStatusUploaded         ImportJobStatus = "uploaded"
	ImportStatusProcessing       ImportJobStatus = "processing"
	ImportStatusPendingApproval  ImportJobStatus = "pending_approval"
	ImportStatusValidationFailed ImportJobStatus = "validation_failed"
)

// CanTransition reports whether moving from s to next is an allowed lifecycle step.
func (s ImportJobStatus) CanTransition(next ImportJobStatus) bool {
	switch s {
	case ImportStatusUploaded:
		return next == ImportStatusProcessing
	case ImportStatusProcessing:
		return next == ImportStatusPendingApproval || next == ImportStatusValidationFailed
	default:
		return false
	}
}

// Terminal reports whether the pipeline takes no further automatic action.
func (s ImportJobStatus) Terminal() bool {
	return s == ImportStatusPendingApproval || s == ImportStatusValidationFailed
}

// ImportError is the stable wire shape shared by file-level and row-level errors.
// Row 0 denotes a file-level error not attributable to a specific data row.
type ImportError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ImportErrorList persists the ordered error sequence as JSONB.
type ImportErrorList []ImportError

// Value marshals the error list for persistence.
func (l ImportErrorList) Value() (driver.Value, error) {
	if l == nil {
		l = ImportErrorList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal import errors: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the error list.
func (l *ImportErrorList) Scan(value interface{}) error {
	if value == nil {
		*l = ImportErrorList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ImportErrorList", value)
	}
	if len(data) == 0 {
		*l = ImportErrorList{}
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return fmt.Errorf("unmarshal import errors: %w", err)
	}
	return nil
}

// PriceImportJob is the unit of work representing one uploaded price-update file
// and its processing outcome. Jobs are retained for audit and never deleted here.
type PriceImportJob struct {
	ID          string          `db:"id" json:"id"`
	StoreID     string          `db:"store_id" json:"store_id"`
	SupplierID  string          `db:"supplier_id" json:"supplier_id"`
	FileRef     string          `db:"file_ref" json:"file_ref"`
	FileKind    ImportFileKind  `db:"file_kind" json:"file_kind"`
	Status      ImportJobStatus `db:"status" json:"status"`
	TotalRows   int             `db:"total_rows" json:"total_rows"`
	ValidRows   int             `db:"valid_rows" json:"valid_rows"`
	InvalidRows int             `db:"invalid_rows" json:"invalid_rows"`
	Errors      ImportErrorList `db:"errors" json:"errors"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	StartedAt   *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// StagedRowStatus marks a staged row outcome.
type StagedRowStatus string

const (
	StagedRowValid   StagedRowStatus = "valid"
	StagedRowInvalid StagedRowStatus = "invalid"
)

// RawRowData preserves the original column→value mapping for audit, as JSONB.
type RawRowData map[string]string

// Value marshals raw row data for persistence.
func (d RawRowData) Value() (driver.Value, error) {
	if d == nil {
		d = RawRowData{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal raw row data: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the raw data map.
func (d *RawRowData) Scan(value interface{}) error {
	if value == nil {
		*d = RawRowData{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for RawRowData", value)
	}
	if len(data) == 0 {
		*d = RawRowData{}
		return nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("unmarshal raw row data: %w", err)
	}
	return nil
}

// RowErrorList persists per-row validation errors as JSONB.
type RowErrorList []RowError

// RowError describes a single field-level validation failure.
type RowError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Value marshals the row error list for persistence.
func (l RowErrorList) Value() (driver.Value, error) {
	if l == nil {
		l = RowErrorList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal row errors: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the row error list.
func (l *RowErrorList) Scan(value interface{}) error {
	if value == nil {
		*l = RowErrorList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for RowErrorList", value)
	}
	if len(data) == 0 {
		*l = RowErrorList{}
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return fmt.Errorf("unmarshal row errors: %w", err)
	}
	return nil
}

// StagedRow is the write-once per-row outcome persisted during processing so
// operators can audit every line of the uploaded file, not just accepted ones.
type StagedRow struct {
	ID        string          `db:"id" json:"id"`
	JobID     string          `db:"job_id" json:"job_id"`
	RowNumber int             `db:"row_number" json:"row_number"`
	RawData   RawRowData      `db:"raw_data" json:"raw_data"`
	SKU       string          `db:"sku" json:"sku"`
	NewPrice  *float64        `db:"new_price" json:"new_price"`
	ProductID *string         `db:"product_id" json:"product_id,omitempty"`
	OldPrice  *float64        `db:"old_price" json:"old_price,omitempty"`
	Errors    RowErrorList    `db:"errors" json:"errors"`
	Status    StagedRowStatus `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// ImportJobFilter captures filtering criteria for listing import jobs.
type ImportJobFilter struct {
	StoreID    string
	SupplierID string
	Status     []ImportJobStatus
	Page       int
	PageSize   int
}
