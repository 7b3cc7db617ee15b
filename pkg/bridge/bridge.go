// Package bridge turns client events into session state changes and webhook payloads.
package bridge

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"

	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/recovery"
	"github.com/sipeed/wabridge/pkg/relay"
	"github.com/sipeed/wabridge/pkg/session"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

const downMessage = "WhatsApp client is down"

type Options struct {
	Client    whatsapp.Client
	State     *session.State
	Recoverer *recovery.Recoverer
	Relay     *relay.Relay
	Events    *bus.EventBus
	Metrics   *metrics.Metrics
	Calls     config.CallConfig
	// QROutput receives the terminal rendering of pairing codes; nil disables it.
	QROutput io.Writer
}

type Bridge struct {
	client    whatsapp.Client
	state     *session.State
	recoverer *recovery.Recoverer
	relay     *relay.Relay
	events    *bus.EventBus
	metrics   *metrics.Metrics
	calls     config.CallConfig
	qrOut     io.Writer
	now       func() time.Time

	wg sync.WaitGroup
}

func New(opts Options) *Bridge {
	return &Bridge{
		client:    opts.Client,
		state:     opts.State,
		recoverer: opts.Recoverer,
		relay:     opts.Relay,
		events:    opts.Events,
		metrics:   opts.Metrics,
		calls:     opts.Calls,
		qrOut:     opts.QROutput,
		now:       time.Now,
	}
}

// Attach subscribes to the client. Lifecycle transitions are applied inside the
// callback so they land in emission order; webhook delivery and call handling run on
// their own goroutine so a slow endpoint never holds up the next event.
func (b *Bridge) Attach(ctx context.Context) {
	b.client.Subscribe(func(evt whatsapp.Event) {
		b.apply(evt)
		if !hasDelivery(evt) {
			return
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.deliver(ctx, evt)
		}()
	})
}

// Wait blocks until in-flight events are handled.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Handle processes one event to completion on the calling goroutine.
func (b *Bridge) Handle(ctx context.Context, evt whatsapp.Event) {
	b.apply(evt)
	b.deliver(ctx, evt)
}

func hasDelivery(evt whatsapp.Event) bool {
	switch evt.Kind {
	case whatsapp.EventDisconnected, whatsapp.EventAuthFailure, whatsapp.EventCall, whatsapp.EventMessage:
		return true
	}
	return false
}

// apply performs the state transition an event implies.
func (b *Bridge) apply(evt whatsapp.Event) {
	switch evt.Kind {
	case whatsapp.EventQR:
		b.handleQR(evt.QRCode)
	case whatsapp.EventReady:
		logger.InfoC("bridge", "WhatsApp client is ready")
		b.state.SetReady(true)
		b.state.Touch()
	case whatsapp.EventDisconnected:
		logger.WarnCF("bridge", "WhatsApp client disconnected", map[string]interface{}{
			"reason": evt.Reason,
		})
		b.state.MarkNotReady(session.PhaseDisconnected)
	case whatsapp.EventAuthFailure:
		logger.ErrorCF("bridge", "Authentication failure", map[string]interface{}{
			"reason": evt.Reason,
		})
		b.state.MarkNotReady(session.PhaseDisconnected)
	}
}

// deliver does the I/O an event implies: down notifications, call handling and
// message relay.
func (b *Bridge) deliver(ctx context.Context, evt whatsapp.Event) {
	switch evt.Kind {
	case whatsapp.EventDisconnected, whatsapp.EventAuthFailure:
		b.notifyDown(ctx, evt.Reason)
	case whatsapp.EventCall:
		if evt.Call != nil {
			b.handleCall(ctx, evt.Call)
		}
	case whatsapp.EventMessage:
		if evt.Message != nil {
			b.handleMessage(ctx, evt.Message)
		}
	}
}

func (b *Bridge) handleQR(code string) {
	logger.InfoC("bridge", "QR code generated for WhatsApp session")
	b.state.SetPhase(session.PhaseAwaitingQR)

	if b.qrOut != nil {
		fmt.Fprintln(b.qrOut, "\n--- Scan this QR code with WhatsApp (Linked Devices) ---")
		qrterminal.GenerateHalfBlock(code, qrterminal.L, b.qrOut)
	}

	if b.events == nil {
		return
	}
	svg, err := whatsapp.QRSVG(code, 256)
	if err != nil {
		logger.WarnCF("bridge", "Failed to render QR code", map[string]interface{}{
			"error": err.Error(),
		})
	}
	b.events.PublishQRCode(bus.QRCodeEvent{Code: code, SVG: svg})
}

func (b *Bridge) notifyDown(ctx context.Context, reason string) {
	if !b.relay.Enabled(relay.TargetDown) {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	payload := DownPayload{
		Message:   downMessage,
		Reason:    reason,
		Timestamp: isoTimestamp(b.now()),
	}
	if err := b.relay.Deliver(ctx, relay.TargetDown, "down", payload); err != nil {
		logger.ErrorCF("bridge", "Error posting down notification", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (b *Bridge) handleCall(ctx context.Context, call *whatsapp.Call) {
	kind := "voice"
	if call.IsVideo {
		kind = "video"
	}
	logger.InfoCF("bridge", "Incoming call", map[string]interface{}{
		"from": call.From,
		"kind": kind,
	})

	if err := b.client.RejectCall(ctx, call); err != nil {
		b.callFailed(ctx, call, err)
		return
	}
	if err := b.client.SendMessage(ctx, call.From, whatsapp.Content{Text: b.calls.DeclineText}); err != nil {
		b.callFailed(ctx, call, err)
		return
	}
	b.state.Touch()

	if !b.relay.Enabled(relay.TargetMessage) {
		b.observeInbound("call", "call", call.From, "unrouted")
		return
	}

	payload := CallPayload{
		PhoneNumber: call.From,
		Message:     b.callRelayText(call.From),
		Type:        "call",
		IsVideo:     call.IsVideo,
		Timestamp:   isoTimestamp(b.now()),
	}
	if err := b.relay.Deliver(ctx, relay.TargetMessage, "call", payload); err != nil {
		logger.ErrorCF("bridge", "Error posting call info", map[string]interface{}{
			"from":  call.From,
			"error": err.Error(),
		})
		b.observeInbound("call", "call", call.From, "failed")
		return
	}
	b.observeInbound("call", "call", call.From, "relayed")
}

func (b *Bridge) callFailed(ctx context.Context, call *whatsapp.Call, err error) {
	logger.ErrorCF("bridge", "Error handling call", map[string]interface{}{
		"from":  call.From,
		"error": err.Error(),
	})
	b.recoverer.Handle(ctx, "call", err)
	b.observeInbound("call", "call", call.From, "failed")
}

func (b *Bridge) callRelayText(from string) string {
	if strings.Contains(b.calls.RelayText, "%s") {
		return fmt.Sprintf(b.calls.RelayText, from)
	}
	return b.calls.RelayText
}

func (b *Bridge) handleMessage(ctx context.Context, m *whatsapp.Message) {
	fields := map[string]interface{}{
		"from": m.From,
		"type": m.Type,
		"id":   m.ID,
	}
	logger.DebugCF("bridge", "Received message", fields)

	if isStatusIdentity(m.From) {
		logger.DebugCF("bridge", "Status update ignored", fields)
		b.metrics.InboundEvent("message", "dropped")
		return
	}
	if isIgnoredType(m.Type) {
		logger.DebugCF("bridge", "Message type ignored", fields)
		b.metrics.InboundEvent("message", "dropped")
		return
	}
	if !b.relay.Enabled(relay.TargetMessage) {
		b.observeInbound("message", m.Type, phoneNumberOf(m.From), "unrouted")
		return
	}

	payload := BuildMessagePayload(m)
	if err := b.relay.Deliver(ctx, relay.TargetMessage, m.Type, payload); err != nil {
		fields["error"] = err.Error()
		logger.ErrorCF("bridge", "Error posting message info", fields)
		b.recoverer.Handle(ctx, "bridge", err)
		b.observeInbound("message", m.Type, payload.PhoneNumber, "failed")
		return
	}

	b.state.Touch()
	b.observeInbound("message", m.Type, payload.PhoneNumber, "relayed")
}

// observeInbound records what happened to an event that passed filtering: "relayed",
// "failed" or "unrouted" when no endpoint is configured.
func (b *Bridge) observeInbound(kind, msgType, phone, disposition string) {
	b.metrics.InboundEvent(kind, disposition)
	if b.events != nil {
		b.events.PublishInbound(bus.InboundEvent{
			Kind:        kind,
			Type:        msgType,
			PhoneNumber: phone,
			Relayed:     disposition == "relayed",
		})
	}
}
