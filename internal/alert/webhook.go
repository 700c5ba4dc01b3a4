// Package alert delivers user-facing notifications to a webhook endpoint.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink posts plain-text messages as {"content": "..."} to a
// webhook-style endpoint. Delivery is best-effort; the caller decides
// whether a failure is fatal.
type WebhookSink struct {
	URL  string
	HTTP *http.Client
}

// NewWebhookSink creates a sink for the given endpoint.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one message and waits for the response.
func (s *WebhookSink) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("alert delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
