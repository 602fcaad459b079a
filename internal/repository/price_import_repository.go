package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openbasket/marketplace-api/internal/models"
)

// PriceImportRepository persists import jobs and their staged rows.
type PriceImportRepository struct {
	db *sqlx.DB
}

// NewPriceImportRepository constructs the repository.
func NewPriceImportRepository(db *sqlx.DB) *PriceImportRepository {
	return &PriceImportRepository{db: db}
}

// CreateJob inserts a new import job row with generated defaults.
func (r *PriceImportRepository) CreateJob(ctx context.Context, job *models.PriceImportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ImportStatusUploaded
	}
	if job.Errors == nil {
		job.Errors = models.ImportErrorList{}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO price_import_jobs (id, store_id, supplier_id, file_ref, file_kind, status, total_rows, valid_rows, invalid_rows, errors, created_at, started_at, completed_at)
VALUES (:id, :store_id, :supplier_id, :file_ref, :file_kind, :status, :total_rows, :valid_rows, :invalid_rows, :errors, :created_at, :started_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

// GetJobByID returns a job row by its identifier.
func (r *PriceImportRepository) GetJobByID(ctx context.Context, id string) (*models.PriceImportJob, error) {
	const query = `SELECT id, store_id, supplier_id, file_ref, file_kind, status, total_rows, valid_rows, invalid_rows, errors, created_at, started_at, completed_at
FROM price_import_jobs WHERE id = $1`
	var job models.PriceImportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return &job, nil
}

// ListJobs fetches jobs matching the filter, newest first.
func (r *PriceImportRepository) ListJobs(ctx context.Context, filter models.ImportJobFilter) ([]models.PriceImportJob, error) {
	conditions := []string{"store_id = $1"}
	args := []interface{}{filter.StoreID}
	argPos := 2

	if filter.SupplierID != "" {
		conditions = append(conditions, fmt.Sprintf("supplier_id = $%d", argPos))
		args = append(args, filter.SupplierID)
		argPos++
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argPos)
			args = append(args, status)
			argPos++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT id, store_id, supplier_id, file_ref, file_kind, status, total_rows, valid_rows, invalid_rows, errors, created_at, started_at, completed_at
FROM price_import_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), argPos, argPos+1)
	args = append(args, pageSize, (page-1)*pageSize)

	var jobs []models.PriceImportJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	return jobs, nil
}

// ListUploaded fetches jobs still awaiting processing (used for cold start
// recovery).
func (r *PriceImportRepository) ListUploaded(ctx context.Context, limit int) ([]models.PriceImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, store_id, supplier_id, file_ref, file_kind, status, total_rows, valid_rows, invalid_rows, errors, created_at, started_at, completed_at
FROM price_import_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	var jobs []models.PriceImportJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ImportStatusUploaded, limit); err != nil {
		return nil, fmt.Errorf("list uploaded import jobs: %w", err)
	}
	return jobs, nil
}

// TransitionToProcessing performs the compare-and-set from uploaded to
// processing. The first writer wins; a false return means another invocation
// already claimed the job (or it is past this phase) and the caller must no-op.
func (r *PriceImportRepository) TransitionToProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	const query = `UPDATE price_import_jobs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, models.ImportStatusProcessing, startedAt, id, models.ImportStatusUploaded)
	if err != nil {
		return false, fmt.Errorf("transition import job to processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition import job to processing: %w", err)
	}
	return affected == 1, nil
}

// FinalizeJob writes counters, the error list, the terminal status and the
// completion time in a single statement. Only processing jobs may be finalized.
func (r *PriceImportRepository) FinalizeJob(ctx context.Context, id string, status models.ImportJobStatus, totalRows, validRows, invalidRows int, errs models.ImportErrorList, completedAt time.Time) error {
	if !models.ImportStatusProcessing.CanTransition(status) {
		return fmt.Errorf("finalize import job: illegal transition processing -> %s", status)
	}
	if errs == nil {
		errs = models.ImportErrorList{}
	}
	const query = `UPDATE price_import_jobs
SET status = $1, total_rows = $2, valid_rows = $3, invalid_rows = $4, errors = $5, completed_at = $6
WHERE id = $7 AND status = $8`
	res, err := r.db.ExecContext(ctx, query, status, totalRows, validRows, invalidRows, errs, completedAt, id, models.ImportStatusProcessing)
	if err != nil {
		return fmt.Errorf("finalize import job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize import job: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("finalize import job %s: job not in processing", id)
	}
	return nil
}

// AppendStagedRow persists one write-once staged row. There is deliberately no
// update or delete counterpart; a new job produces a fresh set of rows.
func (r *PriceImportRepository) AppendStagedRow(ctx context.Context, row *models.StagedRow) (string, error) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Errors == nil {
		row.Errors = models.RowErrorList{}
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO staged_price_rows (id, job_id, row_number, raw_data, sku, new_price, product_id, old_price, errors, status, created_at)
VALUES (:id, :job_id, :row_number, :raw_data, :sku, :new_price, :product_id, :old_price, :errors, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return "", fmt.Errorf("append staged row: %w", err)
	}
	return row.ID, nil
}

// ListStagedRows returns a job's staged rows in row order, optionally filtered
// by row status.
func (r *PriceImportRepository) ListStagedRows(ctx context.Context, jobID string, status *models.StagedRowStatus) ([]models.StagedRow, error) {
	query := `SELECT id, job_id, row_number, raw_data, sku, new_price, product_id, old_price, errors, status, created_at
FROM staged_price_rows WHERE job_id = $1`
	args := []interface{}{jobID}
	if status != nil {
		query += " AND status = $2"
		args = append(args, *status)
	}
	query += " ORDER BY row_number ASC"

	var rows []models.StagedRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list staged rows: %w", err)
	}
	return rows, nil
}

// CountStagedRows reports how many staged rows already exist for a job. The
// orchestrator uses it as an idempotence backstop before staging.
func (r *PriceImportRepository) CountStagedRows(ctx context.Context, jobID string) (int, error) {
	const query = `SELECT COUNT(*) FROM staged_price_rows WHERE job_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, jobID); err != nil {
		return 0, fmt.Errorf("count staged rows: %w", err)
	}
	return count, nil
}
