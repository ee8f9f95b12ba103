package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cuentasxpagar/backend/service"
	"github.com/gin-gonic/gin"
)

// ingestStatus maps an ingestion failure to an HTTP status and message
func ingestStatus(e *service.IngestError) (int, string) {
	switch {
	case errors.Is(e.Err, service.ErrCompanyNotFound):
		return http.StatusNotFound, "Company not found"
	case errors.Is(e.Err, service.ErrUnsupportedFileType):
		return http.StatusBadRequest, "Only PDF files are allowed"
	case errors.Is(e.Err, service.ErrEmptyDocument):
		return http.StatusBadRequest, "Uploaded file is empty"
	case errors.Is(e.Err, service.ErrExtractionFailed):
		return http.StatusInternalServerError, "Could not extract invoice data, please try again"
	case errors.Is(e.Err, service.ErrIncompleteExtraction):
		return http.StatusInternalServerError, fmt.Sprintf("Could not extract %s from the invoice", e.Field)
	default:
		return http.StatusInternalServerError, "Could not save the invoice"
	}
}

// respondError writes the JSON error body for err and records it on the context
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var ie *service.IngestError
	if errors.As(err, &ie) {
		status, msg := ingestStatus(ie)
		body := gin.H{"error": msg, "kind": ie.Kind(), "stage": ie.Stage}
		if ie.Field != "" {
			body["field"] = ie.Field
		}
		c.JSON(status, body)
		return
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds the %d byte limit", tooLarge.Limit)})
	case errors.Is(err, service.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
	case errors.Is(err, service.ErrCompanyNotFound), errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Company not found"})
	case errors.Is(err, service.ErrAttachmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
	case errors.Is(err, service.ErrUnsupportedFileType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type"})
	case errors.Is(err, service.ErrEmptyDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file is empty"})
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_status must be pending or paid"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
