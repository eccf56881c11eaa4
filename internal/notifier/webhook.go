package notifier

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const sharedKeyHeader = "X-Shared-Key"

type WebhookConfig struct {
	URL       string
	SharedKey string
	Timeout   time.Duration
}

// Webhook posts each notification as JSON to a relay URL.
type Webhook struct {
	hc  *http.Client
	url string
	key string
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Webhook{
		hc:  &http.Client{Timeout: cfg.Timeout},
		url: cfg.URL,
		key: cfg.SharedKey,
	}
}

func (w *Webhook) Send(ctx context.Context, event string, payload any) error {
	const op = "notifier.Webhook.Send"

	body, err := encode(event, payload)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.key != "" {
		req.Header.Set(sharedKeyHeader, w.key)
	}

	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s:%w: %v", op, ErrNotifier, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s:%w: status=%d", op, ErrNotifier, resp.StatusCode)
	}

	return nil
}

var _ Notifier = (*Webhook)(nil)
