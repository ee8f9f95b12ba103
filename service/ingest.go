package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuentasxpagar/backend/model"
	"github.com/cuentasxpagar/backend/pkg/logger"
	"github.com/google/uuid"
)

const defaultCleanupTimeout = 10 * time.Second

// Ingestor turns an uploaded invoice PDF into a stored invoice record
type Ingestor struct {
	store          IngestStore
	blobs          BlobStorage
	extractor      Extractor
	now            func() time.Time
	newID          func() string
	cleanupTimeout time.Duration
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithClock sets the source of creation timestamps
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// WithIDGenerator sets the generator for invoice ids and blob names
func WithIDGenerator(newID func() string) Option {
	return func(i *Ingestor) { i.newID = newID }
}

// WithCleanupTimeout bounds the blob deletion run after a failed ingestion
func WithCleanupTimeout(d time.Duration) Option {
	return func(i *Ingestor) { i.cleanupTimeout = d }
}

// NewIngestor returns an Ingestor using the real clock, random uuids and a
// 10s cleanup timeout unless opts override them
func NewIngestor(store IngestStore, blobs BlobStorage, extractor Extractor, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:          store,
		blobs:          blobs,
		extractor:      extractor,
		now:            time.Now,
		newID:          uuid.NewString,
		cleanupTimeout: defaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ingestRun tracks how far one ingestion got and what it must undo
type ingestRun struct {
	stage     Stage
	blobName  string // set once a blob write was attempted
	committed bool
	companyID string
	filename  string
}

func (r *ingestRun) fail(err error, cause error) *IngestError {
	return &IngestError{Stage: r.stage, Err: err, Cause: cause}
}

// Ingest runs the pipeline for one document. Any failure after the blob write
// deletes the blob again, even when ctx is cancelled.
func (i *Ingestor) Ingest(ctx context.Context, companyID, filename string, document []byte) (*model.Invoice, error) {
	ctx = logger.WithCompany(ctx, companyID)
	run := &ingestRun{
		stage:     StageValidateCompany,
		companyID: companyID,
		filename:  filename,
	}
	defer i.compensate(ctx, run)

	logger.Info(ctx, "ingest.start", "filename", filename, "size", len(document))

	inv, err := i.run(ctx, run, document)
	if err != nil {
		logIngestFailure(ctx, run, err)
		return nil, err
	}

	logger.Info(ctx, "ingest.done", "invoice_id", inv.ID, "blob", run.blobName)
	return inv, nil
}

func (i *Ingestor) run(ctx context.Context, run *ingestRun, document []byte) (*model.Invoice, error) {
	if _, err := i.store.FindActiveCompany(ctx, run.companyID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, run.fail(ErrCompanyNotFound, nil)
		}
		return nil, run.fail(ErrPersistenceFailed, err)
	}

	run.stage = StageValidateFileType
	if !IsPDF(run.filename) {
		return nil, run.fail(ErrUnsupportedFileType, nil)
	}
	if len(document) == 0 {
		return nil, run.fail(ErrEmptyDocument, nil)
	}

	run.stage = StagePersistBlob
	run.blobName = i.newID() + ".pdf"
	if err := i.blobs.Write(ctx, run.blobName, document, "application/pdf"); err != nil {
		return nil, run.fail(ErrPersistenceFailed, err)
	}

	run.stage = StageExtract
	result, err := i.extractor.Extract(ctx, document)
	if err != nil {
		return nil, run.fail(ErrExtractionFailed, err)
	}

	run.stage = StageValidateExtraction
	if err := validateExtraction(result); err != nil {
		return nil, fieldFailure(run, err)
	}

	run.stage = StageCoerce
	fields, err := coerce(result)
	if err != nil {
		return nil, fieldFailure(run, err)
	}

	run.stage = StageBuildRecord
	inv := &model.Invoice{
		ID:            i.newID(),
		CompanyID:     run.companyID,
		InvoiceNumber: fields.InvoiceNumber,
		ProviderName:  fields.ProviderName,
		InvoiceDate:   fields.InvoiceDate,
		Amount:        fields.Amount,
		PaymentStatus: model.StatusPending,
		PDF:           &model.Attachment{StorageName: run.blobName, OriginalName: run.filename},
		CreatedAt:     i.now().UTC(),
	}

	run.stage = StagePersistRecord
	if err := i.store.InsertInvoice(ctx, inv); err != nil {
		return nil, run.fail(ErrPersistenceFailed, err)
	}

	run.committed = true
	run.stage = StageDone
	return inv, nil
}

func fieldFailure(run *ingestRun, err error) *IngestError {
	e := run.fail(ErrIncompleteExtraction, err)
	var fe *FieldError
	if errors.As(err, &fe) {
		e.Field = fe.Field
	}
	return e
}

// compensate deletes the blob of an uncommitted run. Failures are logged only,
// the caller still sees the original error.
func (i *Ingestor) compensate(ctx context.Context, run *ingestRun) {
	if run.committed || run.blobName == "" {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cleanupTimeout)
	defer cancel()

	if err := i.blobs.Delete(cleanupCtx, run.blobName); err != nil {
		logger.Error(ctx, "ingest.compensation_failed",
			"stage", run.stage,
			"blob", run.blobName,
			"error", err,
		)
		return
	}
	logger.Info(ctx, "ingest.compensated", "stage", run.stage, "blob", run.blobName)
}

func logIngestFailure(ctx context.Context, run *ingestRun, err error) {
	args := []any{"stage", run.stage, "filename", run.filename, "error", err}
	var ie *IngestError
	if errors.As(err, &ie) {
		args = append(args, "kind", ie.Kind())
		if ie.Kind() == KindInput {
			logger.Info(ctx, "ingest.rejected", args...)
			return
		}
	}
	logger.Warn(ctx, "ingest.failed", args...)
}

// IsPDF reports whether filename has a .pdf extension, ignoring case
func IsPDF(filename string) bool {
	return hasExtension(filename, ".pdf")
}

// IsXML reports whether filename has a .xml extension, ignoring case
func IsXML(filename string) bool {
	return hasExtension(filename, ".xml")
}

func hasExtension(filename, ext string) bool {
	return strings.EqualFold(filepath.Ext(filename), ext)
}
