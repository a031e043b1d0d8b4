package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// envelope is the wire form used by Lines and Webhook.
type envelope struct {
	Type  string   `json:"type"`
	Alert *Summary `json:"alert,omitempty"`
}

func (e envelope) marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("alert: marshal: %w", err)
	}
	return b, nil
}

// Webhook POSTs every Show and Clear as JSON, retrying with exponential
// back-off on transport errors and non-2xx answers.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithRetries sets how many times a failed POST is retried. Default: 3.
func WithRetries(n int) WebhookOption { return func(w *Webhook) { w.retries = n } }

// WithBackoff sets the first retry delay; each retry doubles it. Default: 1s.
func WithBackoff(d time.Duration) WebhookOption { return func(w *Webhook) { w.backoff = d } }

// WithHTTPClient replaces the HTTP client. Default has a 10s timeout.
func WithHTTPClient(c *http.Client) WebhookOption { return func(w *Webhook) { w.client = c } }

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption { return func(w *Webhook) { w.logger = l } }

// NewWebhook returns a Webhook posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		backoff: time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Show(ctx context.Context, s Summary) error {
	return w.post(ctx, envelope{Type: "show", Alert: &s})
}

func (w *Webhook) Clear(ctx context.Context) error {
	return w.post(ctx, envelope{Type: "clear"})
}

func (w *Webhook) post(ctx context.Context, e envelope) error {
	body, err := e.marshal()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(w.backoff << (attempt - 1))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("alert: webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("alert: webhook request failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		w.logger.Warn("alert: webhook bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("alert: webhook: retries exhausted: %w", lastErr)
}
