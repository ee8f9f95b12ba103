package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/cuentasxpagar/backend/model"
	"github.com/shopspring/decimal"
)

// IngestStore is the part of the document store the ingestion pipeline needs
type IngestStore interface {
	// FindActiveCompany returns ErrNotFound for unknown and inactive companies
	FindActiveCompany(ctx context.Context, id string) (*model.Company, error)
	// InsertInvoice returns ErrDuplicateID when the id is taken
	InsertInvoice(ctx context.Context, inv *model.Invoice) error
}

// Store is the full document store used by the application
type Store interface {
	IngestStore

	CreateCompany(ctx context.Context, c *model.Company) error
	ListCompanies(ctx context.Context) ([]model.Company, error)
	DeactivateCompany(ctx context.Context, id string) error

	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error)
	UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus) error
	SetAttachment(ctx context.Context, id string, kind model.AttachmentKind, a *model.Attachment) error
	DeleteInvoice(ctx context.Context, id string) error
	SummarizeProviders(ctx context.Context, companyID string) ([]model.ProviderSummary, error)
}

// InvoiceFilter narrows ListInvoices. Provider is a case-insensitive regular expression.
type InvoiceFilter struct {
	CompanyID string
	Status    model.PaymentStatus
	Provider  string
}

// MemoryStore is an in-memory Store used when no database is configured
type MemoryStore struct {
	mu        sync.RWMutex
	companies map[string]*model.Company
	invoices  map[string]*model.Invoice
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		companies: make(map[string]*model.Company),
		invoices:  make(map[string]*model.Invoice),
	}
}

func (s *MemoryStore) CreateCompany(_ context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[c.ID]; ok {
		return ErrDuplicateID
	}
	cp := *c
	s.companies[c.ID] = &cp
	return nil
}

func (s *MemoryStore) FindActiveCompany(_ context.Context, id string) (*model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok || !c.Active {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCompanies(_ context.Context) ([]model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Company, 0, len(s.companies))
	for _, c := range s.companies {
		if c.Active {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *MemoryStore) DeactivateCompany(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok || !c.Active {
		return ErrNotFound
	}
	c.Active = false
	return nil
}

func (s *MemoryStore) InsertInvoice(_ context.Context, inv *model.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; ok {
		return ErrDuplicateID
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *MemoryStore) GetInvoice(_ context.Context, id string) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *MemoryStore) ListInvoices(_ context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	var provider *regexp.Regexp
	if filter.Provider != "" {
		re, err := regexp.Compile("(?i)" + filter.Provider)
		if err != nil {
			return nil, fmt.Errorf("invalid provider filter: %w", err)
		}
		provider = re
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Invoice, 0)
	for _, inv := range s.invoices {
		if filter.CompanyID != "" && inv.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && inv.PaymentStatus != filter.Status {
			continue
		}
		if provider != nil && !provider.MatchString(inv.ProviderName) {
			continue
		}
		result = append(result, *cloneInvoice(inv))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdatePaymentStatus(_ context.Context, id string, status model.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.PaymentStatus = status
	return nil
}

func (s *MemoryStore) SetAttachment(_ context.Context, id string, kind model.AttachmentKind, a *model.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.SetAttachment(kind, cloneAttachment(a))
	return nil
}

func (s *MemoryStore) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[id]; !ok {
		return ErrNotFound
	}
	delete(s.invoices, id)
	return nil
}

func (s *MemoryStore) SummarizeProviders(_ context.Context, companyID string) ([]model.ProviderSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProvider := make(map[string]*model.ProviderSummary)
	for _, inv := range s.invoices {
		if inv.CompanyID != companyID {
			continue
		}
		p, ok := byProvider[inv.ProviderName]
		if !ok {
			p = &model.ProviderSummary{
				Provider:      inv.ProviderName,
				PendingAmount: decimal.Zero,
				PaidAmount:    decimal.Zero,
			}
			byProvider[inv.ProviderName] = p
		}
		switch inv.PaymentStatus {
		case model.StatusPending:
			p.PendingAmount = p.PendingAmount.Add(inv.Amount)
			p.PendingCount++
		case model.StatusPaid:
			p.PaidAmount = p.PaidAmount.Add(inv.Amount)
			p.PaidCount++
		}
	}

	result := make([]model.ProviderSummary, 0, len(byProvider))
	for _, p := range byProvider {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		if c := result[i].PendingAmount.Cmp(result[j].PendingAmount); c != 0 {
			return c > 0
		}
		return result[i].Provider < result[j].Provider
	})
	return result, nil
}

// Count returns the number of stored invoices
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices)
}

func cloneInvoice(inv *model.Invoice) *model.Invoice {
	cp := *inv
	if inv.ContractNumber != nil {
		n := *inv.ContractNumber
		cp.ContractNumber = &n
	}
	cp.PDF = cloneAttachment(inv.PDF)
	cp.Receipt = cloneAttachment(inv.Receipt)
	cp.XML = cloneAttachment(inv.XML)
	return &cp
}

func cloneAttachment(a *model.Attachment) *model.Attachment {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
