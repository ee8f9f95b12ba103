package service

import (
	"errors"
	"fmt"
)

// Store and blob lookups
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrBlobNotFound = errors.New("blob not found")
)

// Ingestion outcomes. Every error returned by Ingestor.Ingest matches exactly
// one of these with errors.Is.
var (
	ErrCompanyNotFound      = errors.New("company not found")
	ErrUnsupportedFileType  = errors.New("unsupported file type")
	ErrEmptyDocument        = errors.New("empty document")
	ErrExtractionFailed     = errors.New("extraction failed")
	ErrIncompleteExtraction = errors.New("incomplete extraction")
	ErrPersistenceFailed    = errors.New("persistence failed")
)

// Extraction client failures, both wrapped in *ExtractionError
var (
	ErrExtractionService = errors.New("extraction service error")
	ErrMalformedResponse = errors.New("malformed model response")
)

// Attachment operations
var (
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrInvalidStatus      = errors.New("invalid payment status")
)

// ErrorKind groups errors by what the caller should do about them
type ErrorKind string

const (
	KindInput       ErrorKind = "input"       // fix the request
	KindExtraction  ErrorKind = "extraction"  // resubmit as-is
	KindValidation  ErrorKind = "validation"  // fix the source document
	KindPersistence ErrorKind = "persistence" // resubmit as-is
)

// Stage is a step of the ingestion state machine
type Stage string

const (
	StageValidateCompany    Stage = "validate_company"
	StageValidateFileType   Stage = "validate_file_type"
	StagePersistBlob        Stage = "persist_blob"
	StageExtract            Stage = "extract"
	StageValidateExtraction Stage = "validate_extraction"
	StageCoerce             Stage = "coerce"
	StageBuildRecord        Stage = "build_record"
	StagePersistRecord      Stage = "persist_record"
	StageDone               Stage = "done"
)

// IngestError is the failure of one ingestion attempt
type IngestError struct {
	Stage Stage
	Field string // set for ErrIncompleteExtraction
	Err   error  // one of the Err* outcome sentinels
	Cause error
}

func (e *IngestError) Error() string {
	msg := e.Err.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: could not extract %s", msg, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *IngestError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Kind classifies the error
func (e *IngestError) Kind() ErrorKind {
	switch {
	case errors.Is(e.Err, ErrCompanyNotFound),
		errors.Is(e.Err, ErrUnsupportedFileType),
		errors.Is(e.Err, ErrEmptyDocument):
		return KindInput
	case errors.Is(e.Err, ErrExtractionFailed):
		return KindExtraction
	case errors.Is(e.Err, ErrIncompleteExtraction):
		return KindValidation
	default:
		return KindPersistence
	}
}

// ExtractionError wraps ErrExtractionService or ErrMalformedResponse
type ExtractionError struct {
	Err   error
	Cause error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Err, e.Cause)
	}
	return e.Err.Error()
}

func (e *ExtractionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func serviceError(format string, args ...any) error {
	return &ExtractionError{Err: ErrExtractionService, Cause: fmt.Errorf(format, args...)}
}

func malformed(cause error) error {
	return &ExtractionError{Err: ErrMalformedResponse, Cause: cause}
}

// FieldError reports a required extraction field that is absent or unusable
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrIncompleteExtraction
}
