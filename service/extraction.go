package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

// Extracted field names, in validation order
const (
	FieldInvoiceNumber = "invoice_number"
	FieldProviderName  = "provider_name"
	FieldInvoiceDate   = "invoice_date"
	FieldAmount        = "amount"
)

// RequiredFields lists the fields every extraction must yield. The first
// absent one is the field reported by ErrIncompleteExtraction.
var RequiredFields = []string{FieldInvoiceNumber, FieldProviderName, FieldInvoiceDate, FieldAmount}

// ExtractionResult is the raw model guess. Fields holds decoded JSON values;
// a missing key and a JSON null both mean the model found nothing.
type ExtractionResult struct {
	Fields map[string]any
	Raw    []byte
}

// Value returns the field and whether it carries a non-null value
func (r *ExtractionResult) Value(field string) (any, bool) {
	if r == nil || r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Extractor proposes invoice fields for a PDF document
type Extractor interface {
	Extract(ctx context.Context, document []byte) (*ExtractionResult, error)
}

// ExtractorFunc adapts a function to Extractor
type ExtractorFunc func(ctx context.Context, document []byte) (*ExtractionResult, error)

func (f ExtractorFunc) Extract(ctx context.Context, document []byte) (*ExtractionResult, error) {
	return f(ctx, document)
}

var (
	responseSchema = jsonschema.MustCompileString("extraction.json", `{"type": "object"}`)

	fieldSchemas = map[string]*jsonschema.Schema{
		FieldInvoiceNumber: jsonschema.MustCompileString("invoice_number.json", `{
			"anyOf": [
				{"type": "string", "pattern": "\\S"},
				{"type": "number"}
			]
		}`),
		FieldProviderName: jsonschema.MustCompileString("provider_name.json", `{"type": "string", "pattern": "\\S"}`),
		FieldInvoiceDate:  jsonschema.MustCompileString("invoice_date.json", `{"type": "string", "pattern": "\\S"}`),
		FieldAmount: jsonschema.MustCompileString("amount.json", `{
			"anyOf": [
				{"type": "number", "minimum": 0},
				{"type": "string", "pattern": "^\\s*[0-9]+(\\.[0-9]+)?\\s*$"}
			]
		}`),
	}
)

// ParseExtractionResponse turns model text into an ExtractionResult. Markdown
// code fences are removed first. Anything that is not a JSON object is
// ErrMalformedResponse.
func ParseExtractionResponse(text string) (*ExtractionResult, error) {
	raw := []byte(stripCodeFence(text))
	if len(raw) == 0 {
		return nil, malformed(errors.New("empty response"))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, malformed(err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, malformed(errors.New("trailing data after JSON value"))
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, malformed(err)
	}

	return &ExtractionResult{Fields: doc.(map[string]any), Raw: raw}, nil
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop the info string, e.g. ```json
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// validateExtraction reports the first required field without a value
func validateExtraction(r *ExtractionResult) error {
	for _, field := range RequiredFields {
		if _, ok := r.Value(field); !ok {
			return &FieldError{Field: field, Reason: "missing"}
		}
	}
	return nil
}

type extractedInvoice struct {
	InvoiceNumber string
	ProviderName  string
	InvoiceDate   string
	Amount        decimal.Decimal
}

// coerce converts validated values to record types. A value of the wrong
// shape is reported like a missing one.
func coerce(r *ExtractionResult) (*extractedInvoice, error) {
	for _, field := range RequiredFields {
		v, _ := r.Value(field)
		if err := fieldSchemas[field].Validate(v); err != nil {
			return nil, &FieldError{Field: field, Reason: "unusable value"}
		}
	}

	number, err := numberString(r.Fields[FieldInvoiceNumber])
	if err != nil {
		return nil, &FieldError{Field: FieldInvoiceNumber, Reason: err.Error()}
	}
	amount, err := toDecimal(r.Fields[FieldAmount])
	if err != nil {
		return nil, &FieldError{Field: FieldAmount, Reason: err.Error()}
	}
	if amount.IsNegative() {
		return nil, &FieldError{Field: FieldAmount, Reason: "negative amount"}
	}

	return &extractedInvoice{
		InvoiceNumber: strings.TrimSpace(number),
		ProviderName:  strings.TrimSpace(r.Fields[FieldProviderName].(string)),
		InvoiceDate:   r.Fields[FieldInvoiceDate].(string),
		Amount:        amount,
	}, nil
}

func numberString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	}
	return decimal.Zero, fmt.Errorf("not a number: %T", v)
}
