package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuentasxpagar/backend/config"
	"github.com/cuentasxpagar/backend/pkg/logger"
)

const systemInstruction = "You are an expert in invoice data extraction. Extract the requested information precisely."

const extractionPrompt = `Analyze this invoice PDF and extract exactly these fields as JSON:

{
    "invoice_number": "the invoice number",
    "provider_name": "name of the supplier or company issuing the invoice",
    "invoice_date": "invoice date in YYYY-MM-DD format",
    "amount": "total amount due as a decimal number"
}

IMPORTANT:
- Return ONLY the JSON, with no additional text
- If a field cannot be found, use null
- The amount must be a plain number without currency symbols
- The date must be in YYYY-MM-DD format`

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 4 << 20

// GeminiClient extracts invoice fields through the Generative Language API
type GeminiClient struct {
	config     *config.GeminiConfig
	httpClient *http.Client
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// NewGeminiClient builds a client for cfg. A zero timeout means 60s.
func NewGeminiClient(cfg *config.GeminiConfig) *GeminiClient {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Extract sends the document to the model once and parses its answer
func (c *GeminiClient) Extract(ctx context.Context, document []byte) (*ExtractionResult, error) {
	if len(document) == 0 {
		return nil, &ExtractionError{Err: ErrExtractionService, Cause: errors.New("empty document")}
	}

	text, err := c.generate(ctx, document)
	if err != nil {
		logger.Warn(ctx, "extract.service_error", "model", c.config.Model, "error", err)
		return nil, err
	}

	result, err := ParseExtractionResponse(text)
	if err != nil {
		logger.Warn(ctx, "extract.malformed_response", "model", c.config.Model, "error", err, "response_len", len(text))
		return nil, err
	}

	logger.Debug(ctx, "extract.done", "model", c.config.Model, "fields", len(result.Fields))
	return result, nil
}

func (c *GeminiClient) generate(ctx context.Context, document []byte) (string, error) {
	reqBody := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemInstruction}},
		},
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiBlob{
					MimeType: "application/pdf",
					Data:     base64.StdEncoding.EncodeToString(document),
				}},
				{Text: extractionPrompt},
			},
		}},
		GenerationConfig: geminiGenerationConfig{Temperature: 0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", serviceError("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.config.APIURL, "/"), c.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", serviceError("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", serviceError("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", serviceError("failed to read response: %w", err)
	}

	var result geminiResponse
	jsonErr := json.Unmarshal(body, &result)

	if resp.StatusCode != http.StatusOK {
		if jsonErr == nil && result.Error != nil {
			return "", serviceError("gemini API error (status %d): %s", resp.StatusCode, result.Error.Message)
		}
		return "", serviceError("gemini API returned status %d", resp.StatusCode)
	}
	if jsonErr != nil {
		return "", serviceError("failed to parse response: %w", jsonErr)
	}
	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		return "", serviceError("prompt blocked: %s", result.PromptFeedback.BlockReason)
	}
	if len(result.Candidates) == 0 {
		return "", serviceError("no candidates in response")
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", serviceError("empty candidate (finish reason %s)", result.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}
