package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the workflow state of an invoice
type PaymentStatus string

// PaymentStatus constants
const (
	StatusPending PaymentStatus = "pending"
	StatusPaid    PaymentStatus = "paid"
)

// Valid reports whether s is a known payment status
func (s PaymentStatus) Valid() bool {
	return s == StatusPending || s == StatusPaid
}

// Attachment pairs the generated storage name of a blob with the filename the
// user uploaded. An invoice holds either a complete pair or nil.
type Attachment struct {
	StorageName  string `json:"storage_name"`
	OriginalName string `json:"original_name"`
}

// NewAttachment returns nil unless both names are set
func NewAttachment(storageName, originalName string) *Attachment {
	if storageName == "" || originalName == "" {
		return nil
	}
	return &Attachment{StorageName: storageName, OriginalName: originalName}
}

// AttachmentKind names one of the file slots of an invoice
type AttachmentKind string

const (
	AttachmentPDF     AttachmentKind = "pdf"
	AttachmentReceipt AttachmentKind = "receipt"
	AttachmentXML     AttachmentKind = "xml"
)

// Valid reports whether k names a known slot
func (k AttachmentKind) Valid() bool {
	switch k {
	case AttachmentPDF, AttachmentReceipt, AttachmentXML:
		return true
	}
	return false
}

// Invoice represents a supplier invoice owned by a company
type Invoice struct {
	ID             string          `json:"id"`
	CompanyID      string          `json:"company_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	ProviderName   string          `json:"provider_name"`
	InvoiceDate    string          `json:"invoice_date"` // as extracted, usually YYYY-MM-DD
	Amount         decimal.Decimal `json:"amount"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	ContractNumber *string         `json:"contract_number"`
	PDF            *Attachment     `json:"pdf_file"`
	Receipt        *Attachment     `json:"receipt_file"`
	XML            *Attachment     `json:"xml_file"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Attachment returns the attachment stored in slot k
func (i *Invoice) Attachment(k AttachmentKind) *Attachment {
	switch k {
	case AttachmentPDF:
		return i.PDF
	case AttachmentReceipt:
		return i.Receipt
	case AttachmentXML:
		return i.XML
	}
	return nil
}

// SetAttachment replaces slot k with a
func (i *Invoice) SetAttachment(k AttachmentKind, a *Attachment) {
	switch k {
	case AttachmentPDF:
		i.PDF = a
	case AttachmentReceipt:
		i.Receipt = a
	case AttachmentXML:
		i.XML = a
	}
}

// Attachments returns every non-nil attachment of the invoice
func (i *Invoice) Attachments() []Attachment {
	var out []Attachment
	for _, a := range []*Attachment{i.PDF, i.Receipt, i.XML} {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// ProviderSummary aggregates a company's invoices for one provider
type ProviderSummary struct {
	Provider      string          `json:"provider"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PendingCount  int             `json:"pending_count"`
	PaidCount     int             `json:"paid_count"`
}

// CompanySummary is the debt overview of one company
type CompanySummary struct {
	CompanyID     string            `json:"company_id"`
	PendingAmount decimal.Decimal   `json:"pending_amount"`
	PaidAmount    decimal.Decimal   `json:"paid_amount"`
	TotalInvoices int               `json:"total_invoices"`
	PendingCount  int               `json:"pending_count"`
	PaidCount     int               `json:"paid_count"`
	Providers     []ProviderSummary `json:"providers"`
}

// NewCompanySummary folds provider rows into company totals
func NewCompanySummary(companyID string, providers []ProviderSummary) *CompanySummary {
	s := &CompanySummary{
		CompanyID:     companyID,
		PendingAmount: decimal.Zero,
		PaidAmount:    decimal.Zero,
		Providers:     providers,
	}
	if s.Providers == nil {
		s.Providers = []ProviderSummary{}
	}
	for _, p := range providers {
		s.PendingAmount = s.PendingAmount.Add(p.PendingAmount)
		s.PaidAmount = s.PaidAmount.Add(p.PaidAmount)
		s.PendingCount += p.PendingCount
		s.PaidCount += p.PaidCount
	}
	s.TotalInvoices = s.PendingCount + s.PaidCount
	return s
}
