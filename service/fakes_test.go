package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cuentasxpagar/backend/model"
	"github.com/google/uuid"
)

// memBlobs is an in-memory BlobStorage recording every call
type memBlobs struct {
	mu        sync.Mutex
	data      map[string][]byte
	writes    []string
	deletes   []string
	writeErr  error
	deleteErr error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[string][]byte)}
}

func (b *memBlobs) Write(ctx context.Context, name string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, name)
	if b.writeErr != nil {
		return b.writeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.data[name] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Read(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[name]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return d, nil
}

func (b *memBlobs) Delete(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, name)
	if b.deleteErr != nil {
		return b.deleteErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(b.data, name)
	return nil
}

func (b *memBlobs) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.data))
	for n := range b.data {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (b *memBlobs) has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[name]
	return ok
}

// failingStore wraps a MemoryStore and fails inserts on demand
type failingStore struct {
	*MemoryStore
	insertErr error
	findErr   error
	inserts   int
}

func (s *failingStore) FindActiveCompany(ctx context.Context, id string) (*model.Company, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.MemoryStore.FindActiveCompany(ctx, id)
}

func (s *failingStore) InsertInvoice(ctx context.Context, inv *model.Invoice) error {
	s.inserts++
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.MemoryStore.InsertInvoice(ctx, inv)
}

var errBoom = errors.New("boom")

func fixedExtractor(fields map[string]any) Extractor {
	return ExtractorFunc(func(context.Context, []byte) (*ExtractionResult, error) {
		return &ExtractionResult{Fields: fields}, nil
	})
}

func textExtractor(text string) Extractor {
	return ExtractorFunc(func(context.Context, []byte) (*ExtractionResult, error) {
		return ParseExtractionResponse(text)
	})
}

func acmeFields() map[string]any {
	return map[string]any{
		"invoice_number": "A-1",
		"provider_name":  "Acme",
		"invoice_date":   "2024-03-01",
		"amount":         100.5,
	}
}

const testCompanyID = "5b0c9a8e-1f4a-4c2e-9a51-0d8c1b2e3f40"

func newTestID() string { return uuid.NewString() }

func seededStore() *MemoryStore {
	s := NewMemoryStore()
	_ = s.CreateCompany(context.Background(), &model.Company{
		ID:        testCompanyID,
		Name:      "Test Co",
		Active:    true,
		CreatedAt: time.Now(),
	})
	return s
}

var samplePDF = []byte("%PDF-1.4 test document")
