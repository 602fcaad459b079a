package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openbasket/marketplace-api/internal/dto"
	"github.com/openbasket/marketplace-api/internal/importer"
	"github.com/openbasket/marketplace-api/internal/models"
	appErrors "github.com/openbasket/marketplace-api/pkg/errors"
	"github.com/openbasket/marketplace-api/pkg/export"
	"github.com/openbasket/marketplace-api/pkg/jobs"
)

type importJobStore interface {
	CreateJob(ctx context.Context, job *models.PriceImportJob) error
	GetJobByID(ctx context.Context, id string) (*models.PriceImportJob, error)
	ListJobs(ctx context.Context, filter models.ImportJobFilter) ([]models.PriceImportJob, error)
	ListUploaded(ctx context.Context, limit int) ([]models.PriceImportJob, error)
	TransitionToProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error)
	FinalizeJob(ctx context.Context, id string, status models.ImportJobStatus, totalRows, validRows, invalidRows int, errs models.ImportErrorList, completedAt time.Time) error
	AppendStagedRow(ctx context.Context, row *models.StagedRow) (string, error)
	CountStagedRows(ctx context.Context, jobID string) (int, error)
	ListStagedRows(ctx context.Context, jobID string, status *models.StagedRowStatus) ([]models.StagedRow, error)
}

type importFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	ReadFile(filename string) ([]byte, error)
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type rowValidator interface {
	Validate(ctx context.Context, rows []importer.ParsedRow, storeID, supplierID string) ([]importer.RowValidation, error)
}

type importDispatcher interface {
	Enqueue(job jobs.Job) error
}

type importSignedURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

type importMetricsObserver interface {
	ObserveImportJob(status models.ImportJobStatus)
	ObserveImportRows(valid, invalid int)
}

// ApprovalForwarder hands a ready job to the downstream approval workflow.
// Applying valid staged rows to live prices happens entirely on that side.
type ApprovalForwarder interface {
	Forward(ctx context.Context, job *models.PriceImportJob) error
}

// ApprovalForwarderFunc adapts a function to the ApprovalForwarder interface.
type ApprovalForwarderFunc func(ctx context.Context, job *models.PriceImportJob) error

// Forward implements ApprovalForwarder.
func (f ApprovalForwarderFunc) Forward(ctx context.Context, job *models.PriceImportJob) error {
	return f(ctx, job)
}

// PriceImportServiceConfig tunes pipeline behaviour.
type PriceImportServiceConfig struct {
	ProcessTimeout time.Duration
	SignedURLTTL   time.Duration
	APIPrefix      string
}

// ImportDownload bundles file reader metadata for streaming an export.
type ImportDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// PriceImportService owns the import job state machine. It sequences the file
// parser, the row validator and the staging store, aggregates counters and
// commits the final job status. Jobs are mutated exclusively here.
type PriceImportService struct {
	repo      importJobStore
	storage   importFileStorage
	validator rowValidator
	queue     importDispatcher
	approval  ApprovalForwarder
	signer    importSignedURLSigner
	metrics   importMetricsObserver
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	logger    *zap.Logger
	cfg       PriceImportServiceConfig
}

// NewPriceImportService constructs the service with defaults.
func NewPriceImportService(repo importJobStore, storage importFileStorage, validator rowValidator, queue importDispatcher, approval ApprovalForwarder, signer importSignedURLSigner, metrics importMetricsObserver, logger *zap.Logger, cfg PriceImportServiceConfig) *PriceImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 5 * time.Minute
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &PriceImportService{
		repo:      repo,
		storage:   storage,
		validator: validator,
		queue:     queue,
		approval:  approval,
		signer:    signer,
		metrics:   metrics,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		logger:    logger,
		cfg:       cfg,
	}
}

// CreateJob stores the uploaded file, creates the job in its initial status and
// enqueues asynchronous processing. The declared file kind is checked against
// the closed enumeration before anything touches the parser.
func (s *PriceImportService) CreateJob(ctx context.Context, kind models.ImportFileKind, filename string, content io.Reader, actor *models.JWTClaims) (*dto.ImportJobResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleSupplier || actor.SupplierID == nil || *actor.SupplierID == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only supplier accounts may upload price files")
	}
	if !models.ValidImportFileKind(kind) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported file kind %q", kind))
	}
	if content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}

	job := &models.PriceImportJob{
		StoreID:    actor.StoreID,
		SupplierID: *actor.SupplierID,
		FileKind:   kind,
		Status:     models.ImportStatusUploaded,
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = "." + string(kind)
	}
	job.FileRef = filepath.Join("imports", fmt.Sprintf("%s-%d%s", actor.StoreID, time.Now().UnixNano(), ext))
	if _, err := s.storage.SaveStream(job.FileRef, content); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store uploaded file")
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create import job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "price_import"}); err != nil {
		// Job stays in uploaded; the recovery loop re-enqueues it later.
		s.logger.Sugar().Warnw("failed to enqueue import job", "job_id", job.ID, "error", err)
	}

	return &dto.ImportJobResponse{ID: job.ID, Status: job.Status, FileKind: job.FileKind}, nil
}

// Process drives one job through the pipeline to a terminal status. It is safe
// to invoke more than once: the compare-and-set from uploaded to processing
// lets the first caller win and turns every later call into a no-op, so a
// retried trigger can never stage a second set of rows or touch counters.
func (s *PriceImportService) Process(ctx context.Context, jobID string) error {
	started := time.Now().UTC()
	claimed, err := s.repo.TransitionToProcessing(ctx, jobID, started)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Sugar().Infow("import job not claimable, skipping", "job_id", jobID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return s.finalizeUnexpected(jobID, 0, 0, 0, nil, err)
	}

	outcome, err := s.runPipeline(ctx, job)
	if err != nil {
		return s.finalizeUnexpected(jobID, outcome.staged, outcome.valid, outcome.invalid, outcome.errors, err)
	}

	status := models.ImportStatusPendingApproval
	if outcome.invalid == outcome.total {
		status = models.ImportStatusValidationFailed
	}
	if err := s.repo.FinalizeJob(ctx, jobID, status, outcome.total, outcome.valid, outcome.invalid, outcome.errors, time.Now().UTC()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveImportJob(status)
		s.metrics.ObserveImportRows(outcome.valid, outcome.invalid)
	}
	s.logger.Sugar().Infow("import job processed",
		"job_id", jobID, "status", status,
		"total_rows", outcome.total, "valid_rows", outcome.valid, "invalid_rows", outcome.invalid)
	return nil
}

type pipelineOutcome struct {
	total   int
	staged  int
	valid   int
	invalid int
	errors  models.ImportErrorList
}

func (s *PriceImportService) runPipeline(ctx context.Context, job *models.PriceImportJob) (outcome pipelineOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	outcome.errors = models.ImportErrorList{}

	payload, readErr := s.storage.ReadFile(job.FileRef)
	if readErr != nil {
		// Missing or unreadable file is a file-level failure, same as a
		// structural parse error.
		outcome.errors = append(outcome.errors, models.ImportError{Row: 0, Message: fmt.Sprintf("cannot read uploaded file: %v", readErr)})
		return outcome, s.finalizeFileLevel(ctx, job.ID, outcome.errors)
	}

	parsed := importer.Parse(payload, job.FileKind)
	if len(parsed.ParseErrors) > 0 {
		for _, msg := range parsed.ParseErrors {
			outcome.errors = append(outcome.errors, models.ImportError{Row: 0, Message: msg})
		}
		return outcome, s.finalizeFileLevel(ctx, job.ID, outcome.errors)
	}

	validations, err := s.validator.Validate(ctx, parsed.Rows, job.StoreID, job.SupplierID)
	if err != nil {
		return outcome, err
	}

	sort.SliceStable(validations, func(i, j int) bool {
		return validations[i].Row.RowNumber < validations[j].Row.RowNumber
	})

	// Staged rows are write-once. A previous run that crashed after staging
	// must not append a second batch.
	existing, err := s.repo.CountStagedRows(ctx, job.ID)
	if err != nil {
		return outcome, err
	}
	if existing > 0 {
		return outcome, fmt.Errorf("job %s already has %d staged rows", job.ID, existing)
	}

	outcome.total = parsed.TotalRows
	for _, rv := range validations {
		row := &models.StagedRow{
			JobID:     job.ID,
			RowNumber: rv.Row.RowNumber,
			RawData:   rv.Row.RawData,
			SKU:       rv.Row.SKU,
			NewPrice:  rv.Row.NewPrice,
			ProductID: rv.Result.ProductID,
			OldPrice:  rv.Result.OldPrice,
			Errors:    models.RowErrorList(rv.Result.Errors),
			Status:    models.StagedRowValid,
		}
		if !rv.Result.Valid {
			row.Status = models.StagedRowInvalid
		}
		if _, err := s.repo.AppendStagedRow(ctx, row); err != nil {
			return outcome, err
		}
		outcome.staged++

		if rv.Result.Valid {
			outcome.valid++
			continue
		}
		outcome.invalid++
		for _, rowErr := range rv.Result.Errors {
			outcome.errors = append(outcome.errors, models.ImportError{
				Row:     rv.Row.RowNumber,
				Field:   rowErr.Field,
				Message: rowErr.Message,
			})
		}
	}
	return outcome, nil
}

// finalizeFileLevel commits the parse-failure terminal state: zeroed counters,
// row-0 errors, validation_failed. Validation and staging are never reached.
func (s *PriceImportService) finalizeFileLevel(ctx context.Context, jobID string, errs models.ImportErrorList) error {
	if err := s.repo.FinalizeJob(ctx, jobID, models.ImportStatusValidationFailed, 0, 0, 0, errs, time.Now().UTC()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveImportJob(models.ImportStatusValidationFailed)
	}
	return errFileLevelHandled
}

// errFileLevelHandled signals that runPipeline already finalized the job.
var errFileLevelHandled = errors.New("file-level failure finalized")

// finalizeUnexpected lands the job in validation_failed with a synthetic row-0
// error and surfaces the cause to the caller. Uses a fresh context so a
// cancelled or timed-out pipeline context cannot block persisting the terminal
// state; the job must never stay in processing.
func (s *PriceImportService) finalizeUnexpected(jobID string, staged, valid, invalid int, errs models.ImportErrorList, cause error) error {
	if errors.Is(cause, errFileLevelHandled) {
		return nil
	}

	message := fmt.Sprintf("Processing failed: %v", cause)
	if errors.Is(cause, context.DeadlineExceeded) {
		message = "Processing failed: processing timed out"
	}
	errs = append(errs, models.ImportError{Row: 0, Message: message})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Counters cover only rows actually staged so the aggregate invariant
	// holds even for aborted jobs.
	if err := s.repo.FinalizeJob(ctx, jobID, models.ImportStatusValidationFailed, staged, valid, invalid, errs, time.Now().UTC()); err != nil {
		s.logger.Sugar().Errorw("failed to persist terminal state for failed import", "job_id", jobID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveImportJob(models.ImportStatusValidationFailed)
	}
	return cause
}

// GetJob exposes a job record, enforcing supplier ownership.
func (s *PriceImportService) GetJob(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ImportJobDetail, error) {
	job, err := s.loadAuthorized(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return jobDetail(job), nil
}

// ListJobs returns jobs for the actor's store, filterable by status. Suppliers
// only ever see their own uploads.
func (s *PriceImportService) ListJobs(ctx context.Context, filter dto.ImportJobFilter, actor *models.JWTClaims) ([]dto.ImportJobDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	repoFilter := models.ImportJobFilter{
		StoreID:    actor.StoreID,
		SupplierID: filter.SupplierID,
		Status:     filter.Status,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	}
	if actor.Role == models.RoleSupplier {
		if actor.SupplierID == nil {
			return nil, appErrors.ErrForbidden
		}
		repoFilter.SupplierID = *actor.SupplierID
	}
	jobsList, err := s.repo.ListJobs(ctx, repoFilter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list import jobs")
	}
	items := make([]dto.ImportJobDetail, 0, len(jobsList))
	for i := range jobsList {
		items = append(items, *jobDetail(&jobsList[i]))
	}
	return items, nil
}

// ListStagedRows returns a job's staged rows in row order, optionally filtered
// by row status.
func (s *PriceImportService) ListStagedRows(ctx context.Context, jobID string, status *models.StagedRowStatus, actor *models.JWTClaims) ([]dto.StagedRowItem, error) {
	if _, err := s.loadAuthorized(ctx, jobID, actor); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListStagedRows(ctx, jobID, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list staged rows")
	}
	items := make([]dto.StagedRowItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.StagedRowItem{
			ID:        row.ID,
			RowNumber: row.RowNumber,
			RawData:   row.RawData,
			SKU:       row.SKU,
			NewPrice:  row.NewPrice,
			ProductID: row.ProductID,
			OldPrice:  row.OldPrice,
			Errors:    row.Errors,
			Status:    row.Status,
		})
	}
	return items, nil
}

// SubmitForApproval re-confirms preconditions and forwards a ready job to the
// approval workflow. The job status does not change; it is already
// pending_approval and the downstream workflow owns everything after.
func (s *PriceImportService) SubmitForApproval(ctx context.Context, jobID string, actor *models.JWTClaims) (*dto.SubmitApprovalResponse, error) {
	job, err := s.loadAuthorized(ctx, jobID, actor)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ImportStatusPendingApproval {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "job is not pending approval")
	}
	if job.ValidRows <= 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "job has no valid rows to approve")
	}
	if s.approval != nil {
		if err := s.approval.Forward(ctx, job); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to forward job for approval")
		}
	}
	return &dto.SubmitApprovalResponse{ID: job.ID, Status: job.Status, ValidRows: job.ValidRows, Submitted: true}, nil
}

// ExportStagedRows renders a job's staged rows into a downloadable audit file
// (csv for the full row dump, pdf for the validation summary) and returns a
// signed link. Only terminal jobs can be exported.
func (s *PriceImportService) ExportStagedRows(ctx context.Context, jobID, format string, actor *models.JWTClaims) (*dto.ExportResponse, error) {
	job, err := s.loadAuthorized(ctx, jobID, actor)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "job is still processing")
	}

	rows, err := s.repo.ListStagedRows(ctx, jobID, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list staged rows")
	}

	table := stagedRowTable(rows)
	var payload []byte
	var ext string
	switch format {
	case "csv":
		payload, err = s.csv.Render(table)
		ext = "csv"
	case "pdf":
		payload, err = s.pdf.Render(table, fmt.Sprintf("Price import %s: %d rows (%d valid, %d invalid)", job.ID, job.TotalRows, job.ValidRows, job.InvalidRows))
		ext = "pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	relPath := filepath.Join("exports", fmt.Sprintf("%s.%s", job.ID, ext))
	if _, err := s.storage.Save(relPath, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &dto.ExportResponse{
		URL:       fmt.Sprintf("%s/imports/downloads/%s", s.cfg.APIPrefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload validates a signed token and opens the stored export file.
func (s *PriceImportService) ResolveDownload(ctx context.Context, token string) (*ImportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	if _, err := s.repo.GetJobByID(ctx, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load import job")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ImportDownload{File: file, Filename: filepath.Base(relPath), ExpiresAt: expiresAt}, nil
}

func stagedRowTable(rows []models.StagedRow) export.Table {
	table := export.Table{
		Columns: []string{"Row", "SKU", "New Price", "Old Price", "Status", "Errors"},
		Records: make([][]string, 0, len(rows)),
	}
	for _, row := range rows {
		newPrice := ""
		if row.NewPrice != nil {
			newPrice = fmt.Sprintf("%.2f", *row.NewPrice)
		}
		oldPrice := ""
		if row.OldPrice != nil {
			oldPrice = fmt.Sprintf("%.2f", *row.OldPrice)
		}
		messages := make([]string, 0, len(row.Errors))
		for _, rowErr := range row.Errors {
			messages = append(messages, rowErr.Message)
		}
		table.Append(
			fmt.Sprintf("%d", row.RowNumber),
			row.SKU,
			newPrice,
			oldPrice,
			string(row.Status),
			strings.Join(messages, "; "),
		)
	}
	return table
}

// RecoverPendingJobs re-enqueues uploaded jobs, e.g. after a process restart.
func (s *PriceImportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListUploaded(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover uploaded import jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "price_import"}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue import job", "job_id", job.ID, "error", err)
		}
	}
}

func (s *PriceImportService) loadAuthorized(ctx context.Context, jobID string, actor *models.JWTClaims) (*models.PriceImportJob, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load import job")
	}
	if job.StoreID != actor.StoreID {
		return nil, appErrors.ErrForbidden
	}
	if actor.Role == models.RoleSupplier && (actor.SupplierID == nil || job.SupplierID != *actor.SupplierID) {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

func jobDetail(job *models.PriceImportJob) *dto.ImportJobDetail {
	errs := job.Errors
	if errs == nil {
		errs = models.ImportErrorList{}
	}
	return &dto.ImportJobDetail{
		ID:          job.ID,
		StoreID:     job.StoreID,
		SupplierID:  job.SupplierID,
		FileKind:    job.FileKind,
		Status:      job.Status,
		TotalRows:   job.TotalRows,
		ValidRows:   job.ValidRows,
		InvalidRows: job.InvalidRows,
		Errors:      errs,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
