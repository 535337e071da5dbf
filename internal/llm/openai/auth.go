package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-intake/internal/extract"
	"github.com/joseph-ayodele/receipt-intake/internal/llm"
)

// Check implements extract.Authenticator. Size bounds are enforced locally
// before any model call.
func (c *Client) Check(ctx context.Context, doc extract.Document) (extract.AuthResult, error) {
	switch {
	case len(doc.Content) < c.cfg.MinAuthBytes:
		return extract.AuthResult{Valid: false, Reason: "file too small"}, nil
	case len(doc.Content) > c.cfg.MaxAuthBytes:
		return extract.AuthResult{Valid: false, Reason: "file too large"}, nil
	}

	rid := uuid.New().String()
	start := time.Now()
	schema := llm.BuildAuthenticityJSONSchema()

	userParts := []map[string]any{
		{"type": "text", "text": llm.BuildUserPrompt(doc.Filename, doc.Text, true)},
		attachment(doc),
	}
	body := c.chatBody(llm.BuildAuthenticitySystemPrompt(), userParts, schema)

	content, err := c.complete(ctx, rid, body)
	if err != nil {
		c.logger.Error("llm.authenticate.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return extract.AuthResult{}, err
	}
	if err := llm.ValidateJSONAgainstSchema(schema, content); err != nil {
		return extract.AuthResult{}, fmt.Errorf("%w: %v", extract.ErrMalformedResponse, err)
	}

	var out extract.AuthResult
	if err := json.Unmarshal(content, &out); err != nil {
		return extract.AuthResult{}, fmt.Errorf("%w: %v", extract.ErrMalformedResponse, err)
	}
	out.Reason = strings.TrimSpace(out.Reason)
	if !out.Valid && out.Reason == "" {
		out.Reason = "not a valid receipt"
	}

	c.logger.Info("llm.authenticate.ok",
		"req_id", rid,
		"valid", out.Valid,
		"reason", out.Reason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
