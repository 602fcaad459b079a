package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/openbasket/marketplace-api/internal/models"
)

func newImportRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPriceImportRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO price_import_jobs")).
		WithArgs(sqlmock.AnyArg(), "store-1", "supplier-1", "imports/f.csv", "csv", "uploaded", 0, 0, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.PriceImportJob{
		StoreID:    "store-1",
		SupplierID: "supplier-1",
		FileRef:    "imports/f.csv",
		FileKind:   models.ImportFileKindCSV,
	}
	require.NoError(t, repo.CreateJob(context.Background(), job))
	require.NotEmpty(t, job.ID)
	require.Equal(t, models.ImportStatusUploaded, job.Status)

	rows := sqlmock.NewRows([]string{"id", "store_id", "supplier_id", "file_ref", "file_kind", "status", "total_rows", "valid_rows", "invalid_rows", "errors", "created_at", "started_at", "completed_at"}).
		AddRow(job.ID, "store-1", "supplier-1", "imports/f.csv", "csv", "uploaded", 0, 0, 0, `[]`, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM price_import_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, fetched.ID)
	require.Equal(t, models.ImportStatusUploaded, fetched.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImportRepositoryGetNotFound(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM price_import_jobs WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetJobByID(context.Background(), "missing")
	require.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestPriceImportRepositoryTransitionToProcessing(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	started := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE price_import_jobs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4")).
		WithArgs(models.ImportStatusProcessing, started, "job-1", models.ImportStatusUploaded).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.TransitionToProcessing(context.Background(), "job-1", started)
	require.NoError(t, err)
	require.True(t, claimed)

	// Second attempt finds no uploaded row and yields false without error.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE price_import_jobs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4")).
		WithArgs(models.ImportStatusProcessing, started, "job-1", models.ImportStatusUploaded).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err = repo.TransitionToProcessing(context.Background(), "job-1", started)
	require.NoError(t, err)
	require.False(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImportRepositoryFinalizeJob(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	completed := time.Now().UTC()
	errs := models.ImportErrorList{{Row: 2, Field: "price", Message: "price must be a positive number"}}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE price_import_jobs")).
		WithArgs(models.ImportStatusPendingApproval, 3, 2, 1, errs, completed, "job-1", models.ImportStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.FinalizeJob(context.Background(), "job-1", models.ImportStatusPendingApproval, 3, 2, 1, errs, completed)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImportRepositoryFinalizeJobRejectsBadTransition(t *testing.T) {
	db, _, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	err := repo.FinalizeJob(context.Background(), "job-1", models.ImportStatusUploaded, 0, 0, 0, nil, time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "illegal transition")
}

func TestPriceImportRepositoryFinalizeJobNotProcessing(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	completed := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE price_import_jobs")).
		WithArgs(models.ImportStatusValidationFailed, 0, 0, 0, models.ImportErrorList{}, completed, "job-1", models.ImportStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.FinalizeJob(context.Background(), "job-1", models.ImportStatusValidationFailed, 0, 0, 0, nil, completed)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not in processing")
}

func TestPriceImportRepositoryAppendStagedRow(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO staged_price_rows")).
		WithArgs(sqlmock.AnyArg(), "job-1", 1, sqlmock.AnyArg(), "A-1", 10.5, nil, nil, sqlmock.AnyArg(), "valid", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	newPrice := 10.5
	id, err := repo.AppendStagedRow(context.Background(), &models.StagedRow{
		JobID:     "job-1",
		RowNumber: 1,
		RawData:   models.RawRowData{"SKU": "A-1", "Price": "10.5"},
		SKU:       "A-1",
		NewPrice:  &newPrice,
		Status:    models.StagedRowValid,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImportRepositoryListStagedRows(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	rows := sqlmock.NewRows([]string{"id", "job_id", "row_number", "raw_data", "sku", "new_price", "product_id", "old_price", "errors", "status", "created_at"}).
		AddRow("row-1", "job-1", 1, `{"SKU":"A-1"}`, "A-1", 10.5, nil, nil, `[]`, "valid", time.Now()).
		AddRow("row-2", "job-1", 2, `{"SKU":"B-2"}`, "B-2", 0.0, nil, nil, `[{"field":"price","message":"price must be a positive number"}]`, "invalid", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM staged_price_rows WHERE job_id = $1")).
		WithArgs("job-1").
		WillReturnRows(rows)

	staged, err := repo.ListStagedRows(context.Background(), "job-1", nil)
	require.NoError(t, err)
	require.Len(t, staged, 2)
	require.Equal(t, "A-1", staged[0].SKU)
	require.Equal(t, models.StagedRowInvalid, staged[1].Status)
	require.Len(t, staged[1].Errors, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImportRepositoryListStagedRowsByStatus(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	status := models.StagedRowInvalid
	rows := sqlmock.NewRows([]string{"id", "job_id", "row_number", "raw_data", "sku", "new_price", "product_id", "old_price", "errors", "status", "created_at"}).
		AddRow("row-2", "job-1", 2, `{}`, "B-2", 0.0, nil, nil, `[]`, "invalid", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM staged_price_rows WHERE job_id = $1 AND status = $2")).
		WithArgs("job-1", status).
		WillReturnRows(rows)

	staged, err := repo.ListStagedRows(context.Background(), "job-1", &status)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImportRepositoryListJobs(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	rows := sqlmock.NewRows([]string{"id", "store_id", "supplier_id", "file_ref", "file_kind", "status", "total_rows", "valid_rows", "invalid_rows", "errors", "created_at", "started_at", "completed_at"}).
		AddRow("job-1", "store-1", "supplier-1", "imports/f.csv", "csv", "pending_approval", 3, 2, 1, `[]`, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM price_import_jobs WHERE store_id = $1 AND supplier_id = $2 AND status IN ($3)")).
		WithArgs("store-1", "supplier-1", models.ImportStatusPendingApproval, 20, 0).
		WillReturnRows(rows)

	jobs, err := repo.ListJobs(context.Background(), models.ImportJobFilter{
		StoreID:    "store-1",
		SupplierID: "supplier-1",
		Status:     []models.ImportJobStatus{models.ImportStatusPendingApproval},
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 2, jobs[0].ValidRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImportRepositoryListUploaded(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	rows := sqlmock.NewRows([]string{"id", "store_id", "supplier_id", "file_ref", "file_kind", "status", "total_rows", "valid_rows", "invalid_rows", "errors", "created_at", "started_at", "completed_at"}).
		AddRow("job-1", "store-1", "supplier-1", "imports/f.csv", "csv", "uploaded", 0, 0, 0, `[]`, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM price_import_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs(models.ImportStatusUploaded, 50).
		WillReturnRows(rows)

	jobs, err := repo.ListUploaded(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImportRepositoryCountStagedRows(t *testing.T) {
	db, mock, cleanup := newImportRepoMock(t)
	defer cleanup()
	repo := NewPriceImportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM staged_price_rows WHERE job_id = $1")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountStagedRows(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
