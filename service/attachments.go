package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/cuentasxpagar/backend/model"
	"github.com/cuentasxpagar/backend/pkg/logger"
	"github.com/google/uuid"
)

const invoiceLockStripes = 64

// AttachmentService manages the files attached to existing invoices.
// Changes to one invoice's attachments are serialised within the process;
// several processes sharing a store can still race on the same invoice.
type AttachmentService struct {
	store Store
	blobs BlobStorage
	newID func() string
	locks [invoiceLockStripes]sync.Mutex
}

// NewAttachmentService returns a service writing attachment blobs to blobs
// and their references to store
func NewAttachmentService(store Store, blobs BlobStorage) *AttachmentService {
	return &AttachmentService{store: store, blobs: blobs, newID: uuid.NewString}
}

// lock holds the stripe of invoiceID until the returned func is called
func (s *AttachmentService) lock(invoiceID string) func() {
	h := fnv.New32a()
	h.Write([]byte(invoiceID))
	mu := &s.locks[h.Sum32()%invoiceLockStripes]
	mu.Lock()
	return mu.Unlock
}

// AttachReceipt stores a payment receipt PDF, replacing any previous one
func (s *AttachmentService) AttachReceipt(ctx context.Context, invoiceID, filename string, data []byte) (*model.Invoice, error) {
	if !IsPDF(filename) {
		return nil, ErrUnsupportedFileType
	}
	return s.attach(ctx, invoiceID, model.AttachmentReceipt, filename, ".pdf", "application/pdf", data)
}

// AttachXML stores the XML form of an invoice, replacing any previous one
func (s *AttachmentService) AttachXML(ctx context.Context, invoiceID, filename string, data []byte) (*model.Invoice, error) {
	if !IsXML(filename) {
		return nil, ErrUnsupportedFileType
	}
	return s.attach(ctx, invoiceID, model.AttachmentXML, filename, ".xml", "application/xml", data)
}

func (s *AttachmentService) attach(ctx context.Context, invoiceID string, kind model.AttachmentKind, filename, ext, contentType string, data []byte) (*model.Invoice, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	defer s.lock(invoiceID)()

	inv, err := s.getInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	a := &model.Attachment{StorageName: s.newID() + ext, OriginalName: filename}
	if err := s.blobs.Write(ctx, a.StorageName, data, contentType); err != nil {
		s.removeBlob(ctx, a.StorageName)
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	if err := s.store.SetAttachment(ctx, invoiceID, kind, a); err != nil {
		s.removeBlob(ctx, a.StorageName)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	if old := inv.Attachment(kind); old != nil {
		s.removeBlob(ctx, old.StorageName)
	}
	inv.SetAttachment(kind, a)

	logger.Info(ctx, "attachment.stored", "invoice_id", invoiceID, "kind", kind, "blob", a.StorageName)
	return inv, nil
}

// DetachReceipt clears the receipt and deletes its blob
func (s *AttachmentService) DetachReceipt(ctx context.Context, invoiceID string) error {
	defer s.lock(invoiceID)()

	inv, err := s.getInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Receipt == nil {
		return ErrAttachmentNotFound
	}
	if err := s.store.SetAttachment(ctx, invoiceID, model.AttachmentReceipt, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	s.removeBlob(ctx, inv.Receipt.StorageName)
	return nil
}

// Open returns the attachment of the given kind together with its contents
func (s *AttachmentService) Open(ctx context.Context, invoiceID string, kind model.AttachmentKind) (*model.Attachment, []byte, error) {
	if !kind.Valid() {
		return nil, nil, ErrAttachmentNotFound
	}
	inv, err := s.getInvoice(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	a := inv.Attachment(kind)
	if a == nil {
		return nil, nil, ErrAttachmentNotFound
	}

	data, err := s.blobs.Read(ctx, a.StorageName)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil, fmt.Errorf("%w: %w", ErrAttachmentNotFound, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return a, data, nil
}

// DeleteInvoice removes the record and then every blob it referenced
func (s *AttachmentService) DeleteInvoice(ctx context.Context, invoiceID string) error {
	defer s.lock(invoiceID)()

	inv, err := s.getInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInvoice(ctx, invoiceID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvoiceNotFound
		}
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	for _, a := range inv.Attachments() {
		s.removeBlob(ctx, a.StorageName)
	}
	logger.Info(ctx, "invoice.deleted", "invoice_id", invoiceID, "blobs", len(inv.Attachments()))
	return nil
}

func (s *AttachmentService) getInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// removeBlob is best-effort; a leftover blob is logged, not reported
func (s *AttachmentService) removeBlob(ctx context.Context, name string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), name); err != nil {
		logger.Error(ctx, "attachment.delete_failed", "blob", name, "error", err)
	}
}
