package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-intake/constants"
	"github.com/joseph-ayodele/receipt-intake/internal/entity"
	"github.com/joseph-ayodele/receipt-intake/internal/extract"
	"github.com/joseph-ayodele/receipt-intake/internal/llm"
)

// Extract implements extract.Extractor with a single chat/completions call.
// Images are attached inline; PDFs go as text when the validator found enough
// of it and as an attached file otherwise.
func (c *Client) Extract(ctx context.Context, doc extract.Document) (entity.ExtractionResult, error) {
	rid := uuid.New().String()
	start := time.Now()

	categories := constants.AsStringSlice()
	payments := constants.PaymentMethodStrings()
	schema := llm.BuildReceiptJSONSchema(categories, payments)
	attach := !usableText(doc)

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"filename", doc.Filename,
		"content_type", doc.ContentType,
		"attached", attach,
		"text_len", len(doc.Text),
	)

	userParts := []map[string]any{
		{"type": "text", "text": llm.BuildUserPrompt(doc.Filename, doc.Text, attach)},
	}
	if attach {
		userParts = append(userParts, attachment(doc))
	}
	body := c.chatBody(llm.BuildSystemPrompt(categories, payments), userParts, schema)

	content, err := c.complete(ctx, rid, body)
	if err != nil {
		c.logger.Error("llm.extract.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return entity.ExtractionResult{}, err
	}

	normalized, _, err := llm.NormalizeAndSanitizeJSON(content, c.logger)
	if err != nil {
		return entity.ExtractionResult{}, fmt.Errorf("%w: %v", extract.ErrMalformedResponse, err)
	}
	validated, err := c.validate(rid, schema, normalized)
	if err != nil {
		return entity.ExtractionResult{}, err
	}

	var raw extract.Raw
	if err := json.Unmarshal(validated, &raw); err != nil {
		c.logger.Error("llm.extract.unmarshal_failed", "req_id", rid, "error", err)
		return entity.ExtractionResult{}, fmt.Errorf("%w: unmarshal fields: %v", extract.ErrMalformedResponse, err)
	}
	out := extract.Finalize(raw, c.now())

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"plausible", out.IsPlausibleReceipt,
		"merchant", out.Merchant,
		"date", out.Date,
		"total", out.TotalAmount.StringFixed(2),
		"category", out.Category,
		"confidence", out.Confidence,
		"warnings", len(out.Warnings),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// validate checks strictly first and, when lenient, retries after dropping
// offending optional fields.
func (c *Client) validate(rid string, schema map[string]any, content []byte) ([]byte, error) {
	err := llm.ValidateJSONAgainstSchema(schema, content)
	if err == nil {
		return content, nil
	}
	if !c.cfg.LenientOptional {
		c.logger.Error("llm.schema_validation_failed", "req_id", rid, "error", err)
		return nil, fmt.Errorf("%w: %v", extract.ErrMalformedResponse, err)
	}
	cleaned, dropped, sErr := llm.SanitizeOptionalFields(content)
	if sErr != nil {
		c.logger.Error("llm.sanitize_failed", "req_id", rid, "error", sErr)
		return nil, fmt.Errorf("%w: %v", extract.ErrMalformedResponse, sErr)
	}
	if vErr := llm.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
		c.logger.Error("llm.schema_validation_failed", "req_id", rid, "error", vErr)
		return nil, fmt.Errorf("%w: %v", extract.ErrMalformedResponse, vErr)
	}
	c.logger.Warn("llm.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
	return cleaned, nil
}

func (c *Client) chatBody(system string, userParts []map[string]any, schema map[string]any) map[string]any {
	return map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": userParts},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}
}

// complete posts a chat request and returns the first choice's content.
func (c *Client) complete(ctx context.Context, rid string, body map[string]any) ([]byte, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
		"X-Request-Id":  rid,
	}
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return nil, fmt.Errorf("%w: decode openai response: %v", extract.ErrMalformedResponse, err)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in openai response", extract.ErrMalformedResponse)
	}
	return []byte(stripFences(cc.Choices[0].Message.Content)), nil
}

func usableText(doc extract.Document) bool {
	return doc.ContentType == constants.MimePDF && len([]rune(strings.TrimSpace(doc.Text))) >= constants.MinPDFTextLen
}

func attachment(doc extract.Document) map[string]any {
	url := llm.DataURL(doc.Content, doc.ContentType)
	if doc.ContentType == constants.MimePDF {
		return map[string]any{
			"type": "file",
			"file": map[string]any{"filename": doc.Filename, "file_data": url},
		}
	}
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": url, "detail": "high"},
	}
}

// stripFences removes a ```json fence some models wrap around JSON mode output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
