package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/cuentasxpagar/backend/model"
	"github.com/cuentasxpagar/backend/service"
	"github.com/gin-gonic/gin"
)

type InvoiceHandler struct {
	ingestor    *service.Ingestor
	attachments *service.AttachmentService
	store       service.Store
}

func NewInvoiceHandler(ingestor *service.Ingestor, attachments *service.AttachmentService, store service.Store) *InvoiceHandler {
	return &InvoiceHandler{
		ingestor:    ingestor,
		attachments: attachments,
		store:       store,
	}
}

// Upload ingests an invoice PDF for the company in the path
func (h *InvoiceHandler) Upload(c *gin.Context) {
	filename, data, ok := readUpload(c)
	if !ok {
		return
	}

	inv, err := h.ingestor.Ingest(c.Request.Context(), c.Param("id"), filename, data)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, inv)
}

// List returns a company's invoices, optionally filtered by status and provider
func (h *InvoiceHandler) List(c *gin.Context) {
	if !h.requireCompany(c) {
		return
	}
	filter := service.InvoiceFilter{
		CompanyID: c.Param("id"),
		Status:    model.PaymentStatus(c.Query("status")),
		Provider:  c.Query("provider"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(c, service.ErrInvalidStatus)
		return
	}
	if filter.Provider != "" {
		if _, err := regexp.Compile(filter.Provider); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid provider filter"})
			return
		}
	}

	invoices, err := h.store.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

// Summary returns pending and paid totals per provider
func (h *InvoiceHandler) Summary(c *gin.Context) {
	if !h.requireCompany(c) {
		return
	}
	companyID := c.Param("id")
	providers, err := h.store.SummarizeProviders(c.Request.Context(), companyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewCompanySummary(companyID, providers))
}

// Get returns a single invoice
func (h *InvoiceHandler) Get(c *gin.Context) {
	inv, err := h.store.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, invoiceErr(err))
		return
	}
	c.JSON(http.StatusOK, inv)
}

type updateStatusRequest struct {
	PaymentStatus model.PaymentStatus `json:"payment_status" binding:"required"`
}

// UpdateStatus moves an invoice between pending and paid
func (h *InvoiceHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.PaymentStatus.Valid() {
		respondError(c, service.ErrInvalidStatus)
		return
	}

	id := c.Param("id")
	if err := h.store.UpdatePaymentStatus(c.Request.Context(), id, req.PaymentStatus); err != nil {
		respondError(c, invoiceErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "payment_status": req.PaymentStatus})
}

// Delete removes an invoice and all of its files
func (h *InvoiceHandler) Delete(c *gin.Context) {
	if err := h.attachments.DeleteInvoice(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Invoice deleted"})
}

// UploadReceipt attaches a payment receipt PDF
func (h *InvoiceHandler) UploadReceipt(c *gin.Context) {
	filename, data, ok := readUpload(c)
	if !ok {
		return
	}
	inv, err := h.attachments.AttachReceipt(c.Request.Context(), c.Param("id"), filename, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// DeleteReceipt removes the payment receipt
func (h *InvoiceHandler) DeleteReceipt(c *gin.Context) {
	if err := h.attachments.DetachReceipt(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Receipt deleted"})
}

// UploadXML attaches the XML form of the invoice
func (h *InvoiceHandler) UploadXML(c *gin.Context) {
	filename, data, ok := readUpload(c)
	if !ok {
		return
	}
	inv, err := h.attachments.AttachXML(c.Request.Context(), c.Param("id"), filename, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// Download streams one of the invoice files under its original name
func (h *InvoiceHandler) Download(c *gin.Context) {
	kind := model.AttachmentKind(c.Param("kind"))
	a, data, err := h.attachments.Open(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		respondError(c, err)
		return
	}

	contentType := "application/pdf"
	if kind == model.AttachmentXML {
		contentType = "application/xml"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.OriginalName))
	c.Data(http.StatusOK, contentType, data)
}

// readUpload reads the multipart "file" field. On failure it has already
// written the response.
func readUpload(c *gin.Context) (string, []byte, bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, err)
			return "", nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, fmt.Errorf("failed to read upload: %w", err))
		return "", nil, false
	}
	return header.Filename, data, true
}

// requireCompany answers 404 for unknown or deactivated companies, matching
// what ingestion does for the same path
func (h *InvoiceHandler) requireCompany(c *gin.Context) bool {
	if _, err := h.store.FindActiveCompany(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

// invoiceErr names the missing record for store lookups by invoice id
func invoiceErr(err error) error {
	if errors.Is(err, service.ErrNotFound) {
		return service.ErrInvoiceNotFound
	}
	return err
}
