package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sethvargo/go-retry"

	"reddit_watcher/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Webhook is the fire-and-forget notifier: it posts to a one-way
// webhook URL and never learns a message id, so deliveries in this mode
// cannot be correlated with replies.
type Webhook struct {
	client HTTPClient
	url    string
	log    *slog.Logger
}

// NewWebhook creates a Webhook notifier for the given URL.
func NewWebhook(client HTTPClient, url string, log *slog.Logger) *Webhook {
	return &Webhook{client: client, url: url, log: log}
}

// Deliver posts the formatted match to the webhook. Rate limiting and
// server errors are marked retryable; other client errors are not.
func (w *Webhook) Deliver(ctx context.Context, m *model.Match) error {
	payload, err := json.Marshal(map[string]string{"content": FormatMatch(m)})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("post webhook: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.RetryableError(fmt.Errorf("webhook returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
}
