package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuentasxpagar/backend/middleware"
	"github.com/cuentasxpagar/backend/model"
	"github.com/cuentasxpagar/backend/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const companyID = "c0ffee00-0000-4000-8000-000000000001"

var samplePDF = []byte("%PDF-1.4 handler test")

type testEnv struct {
	router *gin.Engine
	store  *service.MemoryStore
	blobs  *service.LocalStorage
	dir    string
}

func acmeExtractor() service.Extractor {
	return service.ExtractorFunc(func(context.Context, []byte) (*service.ExtractionResult, error) {
		return service.ParseExtractionResponse(`{"invoice_number": "A-1", "provider_name": "Acme", "invoice_date": "2024-03-01", "amount": 100.5}`)
	})
}

func newTestEnv(t *testing.T, extractor service.Extractor) *testEnv {
	t.Helper()
	dir := t.TempDir()
	blobs, err := service.NewLocalStorage(dir)
	require.NoError(t, err)

	store := service.NewMemoryStore()
	require.NoError(t, store.CreateCompany(context.Background(), &model.Company{
		ID: companyID, Name: "Test Co", Active: true, CreatedAt: time.Now(),
	}))

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.BodyLimit(1 << 20))
	RegisterRoutes(router,
		NewCompanyHandler(store),
		NewInvoiceHandler(service.NewIngestor(store, blobs, extractor), service.NewAttachmentService(store, blobs), store),
	)
	return &testEnv{router: router, store: store, blobs: blobs, dir: dir}
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, path, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, data)
	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) ingest(t *testing.T) model.Invoice {
	t.Helper()
	w := e.upload(t, "/api/companies/"+companyID+"/invoices", "factura.pdf", samplePDF)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var inv model.Invoice
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inv))
	return inv
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestUploadInvoice(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())

	inv := env.ingest(t)
	assert.Equal(t, companyID, inv.CompanyID)
	assert.Equal(t, "A-1", inv.InvoiceNumber)
	assert.Equal(t, "Acme", inv.ProviderName)
	assert.Equal(t, "2024-03-01", inv.InvoiceDate)
	assert.Equal(t, "100.5", inv.Amount.String())
	assert.Equal(t, model.StatusPending, inv.PaymentStatus)
	require.NotNil(t, inv.PDF)
	assert.Equal(t, "factura.pdf", inv.PDF.OriginalName)

	data, err := env.blobs.Read(context.Background(), inv.PDF.StorageName)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, data)
}

func TestUploadInvoiceErrors(t *testing.T) {
	failing := service.ExtractorFunc(func(context.Context, []byte) (*service.ExtractionResult, error) {
		return service.ParseExtractionResponse("Sorry, I can't read that.")
	})
	missingAmount := service.ExtractorFunc(func(context.Context, []byte) (*service.ExtractionResult, error) {
		return service.ParseExtractionResponse(`{"invoice_number": "A-1", "provider_name": "Acme", "invoice_date": "2024-03-01", "amount": null}`)
	})

	tests := []struct {
		name      string
		extractor service.Extractor
		company   string
		filename  string
		status    int
		message   string
	}{
		{"unknown company", acmeExtractor(), "00000000-0000-4000-8000-000000000000", "f.pdf", http.StatusNotFound, "Company not found"},
		{"not a pdf", acmeExtractor(), companyID, "f.docx", http.StatusBadRequest, "Only PDF files are allowed"},
		{"malformed model output", failing, companyID, "f.pdf", http.StatusInternalServerError, "Could not extract invoice data"},
		{"missing field", missingAmount, companyID, "f.pdf", http.StatusInternalServerError, "Could not extract amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.extractor)

			w := env.upload(t, "/api/companies/"+tt.company+"/invoices", tt.filename, samplePDF)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, decodeBody(t, w)["error"], tt.message)

			assert.Equal(t, 0, env.store.Count())
			entries, err := filepathEntries(env.dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no blob should be left behind")
		})
	}
}

func TestUploadInvoiceMissingFieldBody(t *testing.T) {
	env := newTestEnv(t, service.ExtractorFunc(func(context.Context, []byte) (*service.ExtractionResult, error) {
		return &service.ExtractionResult{Fields: map[string]any{"invoice_number": "A-1"}}, nil
	}))

	w := env.upload(t, "/api/companies/"+companyID+"/invoices", "f.pdf", samplePDF)
	body := decodeBody(t, w)
	assert.Equal(t, "provider_name", body["field"])
	assert.Equal(t, "validation", body["kind"])
	assert.Equal(t, "validate_extraction", body["stage"])
}

func TestUploadInvoiceNoFile(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())

	w := env.upload(t, "/api/companies/"+companyID+"/invoices", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No file provided", decodeBody(t, w)["error"])
}

func TestUploadInvoiceTooLarge(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())

	w := env.upload(t, "/api/companies/"+companyID+"/invoices", "big.pdf", bytes.Repeat([]byte("x"), 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, env.store.Count())
}

func TestListAndFilterInvoices(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())
	first := env.ingest(t)
	env.ingest(t)

	w := env.do("PUT", "/api/invoices/"+first.ID+"/status", `{"payment_status": "paid"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Invoices []model.Invoice `json:"invoices"`
	}

	w = env.do("GET", "/api/companies/"+companyID+"/invoices", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Invoices, 2)

	w = env.do("GET", "/api/companies/"+companyID+"/invoices?status=paid", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Invoices, 1)
	assert.Equal(t, first.ID, resp.Invoices[0].ID)

	w = env.do("GET", "/api/companies/"+companyID+"/invoices?provider=acm", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Invoices, 2)

	w = env.do("GET", "/api/companies/"+companyID+"/invoices?provider=globex", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Invoices)

	w = env.do("GET", "/api/companies/"+companyID+"/invoices?provider=(%5B", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("GET", "/api/companies/"+companyID+"/invoices?status=overdue", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())
	first := env.ingest(t)
	env.ingest(t)
	env.do("PUT", "/api/invoices/"+first.ID+"/status", `{"payment_status": "paid"}`)

	w := env.do("GET", "/api/companies/"+companyID+"/summary", "")
	require.Equal(t, http.StatusOK, w.Code)

	var summary model.CompanySummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.TotalInvoices)
	assert.Equal(t, "100.5", summary.PendingAmount.String())
	assert.Equal(t, "100.5", summary.PaidAmount.String())
	require.Len(t, summary.Providers, 1)
	assert.Equal(t, "Acme", summary.Providers[0].Provider)
}

func TestCompanyReadsRequireActiveCompany(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())
	env.ingest(t)
	require.NoError(t, env.store.DeactivateCompany(context.Background(), companyID))

	for _, id := range []string{companyID, "nope"} {
		for _, path := range []string{"/invoices", "/summary"} {
			w := env.do("GET", "/api/companies/"+id+path, "")
			assert.Equal(t, http.StatusNotFound, w.Code, id+path)
			assert.Equal(t, "Company not found", decodeBody(t, w)["error"])
		}
	}
}

func TestGetInvoice(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())
	inv := env.ingest(t)

	w := env.do("GET", "/api/invoices/"+inv.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, inv.ID, decodeBody(t, w)["id"])

	w = env.do("GET", "/api/invoices/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Invoice not found", decodeBody(t, w)["error"])
}

func TestUpdateStatusValidation(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())
	inv := env.ingest(t)

	for _, body := range []string{`{"payment_status": "overdue"}`, `{}`, `not json`} {
		w := env.do("PUT", "/api/invoices/"+inv.ID+"/status", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w := env.do("PUT", "/api/invoices/missing/status", `{"payment_status": "paid"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReceiptLifecycle(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())
	inv := env.ingest(t)

	w := env.upload(t, "/api/invoices/"+inv.ID+"/receipt", "pago.png", []byte("img"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.upload(t, "/api/invoices/"+inv.ID+"/receipt", "pago.pdf", []byte("receipt"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Invoice
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.NotNil(t, updated.Receipt)
	assert.Equal(t, "pago.pdf", updated.Receipt.OriginalName)

	w = env.do("GET", "/api/invoices/"+inv.ID+"/files/receipt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "receipt", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="pago.pdf"`)

	w = env.do("DELETE", "/api/invoices/"+inv.ID+"/receipt", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("DELETE", "/api/invoices/"+inv.ID+"/receipt", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GET", "/api/invoices/"+inv.ID+"/files/receipt", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestXMLUploadAndDownload(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())
	inv := env.ingest(t)

	w := env.upload(t, "/api/invoices/"+inv.ID+"/xml", "cfdi.txt", []byte("<x/>"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.upload(t, "/api/invoices/"+inv.ID+"/xml", "CFDI.XML", []byte("<x/>"))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("GET", "/api/invoices/"+inv.ID+"/files/xml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	assert.Equal(t, "<x/>", w.Body.String())

	w = env.do("GET", "/api/invoices/"+inv.ID+"/files/pdf", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, samplePDF, w.Body.Bytes())

	w = env.do("GET", "/api/invoices/"+inv.ID+"/files/contract", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteInvoice(t *testing.T) {
	env := newTestEnv(t, acmeExtractor())
	inv := env.ingest(t)
	env.upload(t, "/api/invoices/"+inv.ID+"/receipt", "pago.pdf", []byte("r"))

	w := env.do("DELETE", "/api/invoices/"+inv.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	entries, err := filepathEntries(env.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	w = env.do("DELETE", "/api/invoices/"+inv.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
