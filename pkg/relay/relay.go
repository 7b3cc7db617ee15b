package relay

import (
	"context"
	"errors"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
)

// Target selects one of the independently configured webhook endpoints.
type Target string

const (
	TargetMessage Target = "message"
	TargetDown    Target = "down"
)

var ErrNoEndpoint = errors.New("no webhook endpoint configured")

type Relay struct {
	webhook *Webhook
	urls    map[Target]string
	sink    Sink
	metrics *metrics.Metrics
}

func New(webhook *Webhook, messageURL, downURL string, sink Sink, m *metrics.Metrics) *Relay {
	return &Relay{
		webhook: webhook,
		urls: map[Target]string{
			TargetMessage: messageURL,
			TargetDown:    downURL,
		},
		sink:    sink,
		metrics: m,
	}
}

// Enabled reports whether anything would receive payloads for target.
func (r *Relay) Enabled(target Target) bool {
	return r.urls[target] != "" || r.sink != nil
}

// Deliver sends payload to target's webhook and to the broker sink. Broker failures are
// logged only; the returned error reflects the webhook post.
func (r *Relay) Deliver(ctx context.Context, target Target, payloadType string, payload interface{}) error {
	if r.sink != nil {
		if err := r.sink.Publish(ctx, string(target)+"."+payloadType, payload); err != nil {
			logger.WarnCF("relay", "Broker publish failed", map[string]interface{}{
				"target": string(target),
				"type":   payloadType,
				"error":  err.Error(),
			})
		}
	}

	url := r.urls[target]
	if url == "" {
		if r.sink != nil {
			return nil
		}
		return ErrNoEndpoint
	}

	err := r.webhook.Post(ctx, url, payload)
	r.metrics.Webhook(payloadType, err)
	if err != nil {
		return err
	}
	logger.InfoCF("relay", "Posted payload", map[string]interface{}{
		"target": string(target),
		"type":   payloadType,
	})
	return nil
}

func (r *Relay) Close() {
	if r.sink != nil {
		r.sink.Close()
	}
}
