// Package dispatch sends outbound messages through the WhatsApp client.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/recovery"
	"github.com/sipeed/wabridge/pkg/session"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

const (
	KindPDF    = "pdf"
	KindImages = "images"
	KindImage  = "image"
	KindText   = "text"
)

// Request is one send. Only the highest priority content is sent:
// PDF, then the image batch, then the single image, then text. Message doubles as the
// caption for media.
type Request struct {
	PhoneNumber string
	Message     string
	ImageURL    string
	ImageURLs   []string
	PDFURL      string
}

func (r Request) Kind() string {
	switch {
	case r.PDFURL != "":
		return KindPDF
	case len(r.ImageURLs) > 0:
		return KindImages
	case r.ImageURL != "":
		return KindImage
	case r.Message != "":
		return KindText
	default:
		return ""
	}
}

type Options struct {
	Client    whatsapp.Client
	State     *session.State
	Recoverer *recovery.Recoverer
	Metrics   *metrics.Metrics
	Events    *bus.EventBus
	// UserServer is appended to bare phone numbers to form a chat id.
	UserServer  string
	SendTimeout time.Duration
	ImagePause  time.Duration
}

type Dispatcher struct {
	client     whatsapp.Client
	state      *session.State
	recoverer  *recovery.Recoverer
	metrics    *metrics.Metrics
	events     *bus.EventBus
	userServer string
	timeout    time.Duration
	pause      time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		client:     opts.Client,
		state:      opts.State,
		recoverer:  opts.Recoverer,
		metrics:    opts.Metrics,
		events:     opts.Events,
		userServer: opts.UserServer,
		timeout:    opts.SendTimeout,
		pause:      opts.ImagePause,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ResolveChatID turns a caller-supplied phone number into a chat id. A leading symbol
// such as '+' is dropped and ids that already name a server are kept as they are.
// Status identities are rejected.
func (d *Dispatcher) ResolveChatID(phone string) (string, error) {
	id := strings.TrimSpace(phone)
	if id != "" && !isAlphanumeric(id[0]) {
		id = id[1:]
	}
	if id == "" {
		return "", ErrInvalidRecipient
	}
	if !strings.Contains(id, "@") {
		id = id + "@" + d.userServer
	}
	if local, _, _ := strings.Cut(id, "@"); local == "status" {
		return "", ErrForbiddenRecipient
	}
	return id, nil
}

func isAlphanumeric(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Send delivers req. Image batches tolerate per-image failures and report success as long
// as the recipient resolved.
func (d *Dispatcher) Send(ctx context.Context, req Request) (err error) {
	kind := req.Kind()
	chatID, err := d.ResolveChatID(req.PhoneNumber)
	if err != nil {
		logger.WarnCF("dispatch", "Rejected recipient", map[string]interface{}{
			"phone": req.PhoneNumber,
			"error": err.Error(),
		})
		return err
	}
	if kind == "" {
		return ErrEmptyRequest
	}

	defer func() { d.observe(chatID, kind, err) }()

	logger.InfoCF("dispatch", "Looking up WhatsApp ID", map[string]interface{}{
		"chat_id": chatID,
	})
	target, err := d.client.NumberID(ctx, chatID)
	if err != nil {
		return d.fail(ctx, "lookup", err)
	}
	if target == "" {
		logger.WarnCF("dispatch", "Number not found on WhatsApp", map[string]interface{}{
			"chat_id": chatID,
		})
		return ErrNumberNotFound
	}

	switch kind {
	case KindPDF:
		err = d.sendMedia(ctx, target, req.PDFURL, whatsapp.MediaOptions{MimeType: "application/pdf"}, req.Message)
	case KindImages:
		err = d.sendBatch(ctx, target, req.ImageURLs, req.Message)
	case KindImage:
		err = d.sendMedia(ctx, target, req.ImageURL, whatsapp.MediaOptions{Unsafe: true}, req.Message)
	case KindText:
		err = d.sendWithTimeout(ctx, target, whatsapp.Content{Text: req.Message})
	}
	if err != nil {
		return d.fail(ctx, "send", err)
	}

	logger.InfoCF("dispatch", "Message sent", map[string]interface{}{
		"chat_id": chatID,
		"kind":    kind,
	})
	return nil
}

func (d *Dispatcher) sendMedia(ctx context.Context, target, url string, opts whatsapp.MediaOptions, caption string) error {
	media, err := d.client.FetchMedia(ctx, url, opts)
	if err != nil {
		return err
	}
	return d.sendWithTimeout(ctx, target, whatsapp.Content{Media: media, Caption: caption})
}

// sendBatch sends images one by one with a pause before every attempt after the first.
// Only the first image carries the caption. Failures are logged and skipped.
func (d *Dispatcher) sendBatch(ctx context.Context, target string, urls []string, caption string) error {
	logger.InfoCF("dispatch", "Sending image batch", map[string]interface{}{
		"chat_id": target,
		"count":   len(urls),
	})

	failed := 0
	for i, url := range urls {
		if i > 0 {
			if err := d.sleep(ctx, d.pause); err != nil {
				return err
			}
		}

		c := ""
		if i == 0 {
			c = caption
		}
		if err := d.sendMedia(ctx, target, url, whatsapp.MediaOptions{Unsafe: true}, c); err != nil {
			failed++
			logger.ErrorCF("dispatch", "Error sending image", map[string]interface{}{
				"index": i + 1,
				"total": len(urls),
				"error": err.Error(),
			})
			if err != ErrTimeout {
				d.recoverer.Handle(ctx, "dispatch", err)
			}
			continue
		}
		logger.DebugCF("dispatch", "Image sent", map[string]interface{}{
			"index": i + 1,
			"total": len(urls),
		})
	}

	if failed > 0 {
		logger.WarnCF("dispatch", "Image batch finished with failures", map[string]interface{}{
			"chat_id": target,
			"failed":  failed,
			"total":   len(urls),
		})
	}
	return nil
}

// sendWithTimeout bounds one client send. On expiry the call is abandoned, not cancelled,
// and a late completion is ignored.
func (d *Dispatcher) sendWithTimeout(ctx context.Context, target string, content whatsapp.Content) error {
	done := make(chan error, 1)
	sendCtx := context.WithoutCancel(ctx)
	go func() {
		done <- d.client.SendMessage(sendCtx, target, content)
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		d.state.Touch()
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) fail(ctx context.Context, step string, err error) error {
	if err == ErrTimeout {
		logger.ErrorCF("dispatch", "Send timed out", map[string]interface{}{
			"timeout": d.timeout.String(),
		})
		return ErrTimeout
	}

	logger.ErrorCF("dispatch", "Error sending message", map[string]interface{}{
		"step":  step,
		"error": err.Error(),
	})
	if action := d.recoverer.Handle(ctx, "dispatch", err); action.Retryable() {
		logger.WarnC("dispatch", "Session lost during message send, will auto-reconnect")
		return &SessionRecoveryError{Action: action, Err: err}
	}
	return fmt.Errorf("%s failed: %w", step, err)
}

func (d *Dispatcher) observe(chatID, kind string, err error) {
	d.metrics.Send(kind, err)
	if d.events == nil {
		return
	}
	out := bus.OutboundEvent{ChatID: chatID, Kind: kind}
	if err != nil {
		out.Error = err.Error()
	}
	d.events.PublishOutbound(out)
}
