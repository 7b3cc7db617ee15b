// Package relay delivers normalized event payloads to the configured webhooks and,
// optionally, to a message broker.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Webhook posts JSON bodies. Delivery is attempted once; the response body is ignored.
type Webhook struct {
	http *resty.Client
}

func NewWebhook(timeout time.Duration) *Webhook {
	return &Webhook{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "wabridge"),
	}
}

func (w *Webhook) Post(ctx context.Context, url string, payload interface{}) error {
	resp, err := w.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("webhook post %s: %w", url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook post %s: status %d", url, resp.StatusCode())
	}
	return nil
}
