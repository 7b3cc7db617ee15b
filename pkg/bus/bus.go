// Package bus fans lifecycle events out to observers such as websocket clients.
package bus

import (
	"sync"
	"time"
)

const (
	TypeState    = "state"
	TypeQRCode   = "qr_code"
	TypeInbound  = "inbound"
	TypeOutbound = "outbound"
)

// Event is one observed lifecycle event.
type Event struct {
	Type     string         `json:"type"`
	State    *StateEvent    `json:"state,omitempty"`
	QRCode   *QRCodeEvent   `json:"qr_code,omitempty"`
	Inbound  *InboundEvent  `json:"inbound,omitempty"`
	Outbound *OutboundEvent `json:"outbound,omitempty"`
	Time     time.Time      `json:"time"`
}

type EventBus struct {
	mu        sync.RWMutex
	observers []chan Event
	lastQR    *QRCodeEvent
	now       func() time.Time
}

func NewEventBus() *EventBus {
	return &EventBus{now: time.Now}
}

// Subscribe returns a channel that receives copies of all events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 50)
	b.mu.Lock()
	b.observers = append(b.observers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes an observer channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, obs := range b.observers {
		if obs == ch {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *EventBus) publish(event Event) {
	event.Time = b.now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, obs := range b.observers {
		select {
		case obs <- event:
		default:
			// slow observers miss events
		}
	}
}

func (b *EventBus) PublishState(state StateEvent) {
	if state.Phase == "READY" {
		b.mu.Lock()
		b.lastQR = nil
		b.mu.Unlock()
	}
	b.publish(Event{Type: TypeState, State: &state})
}

// PublishQRCode also remembers the code so late subscribers can fetch it.
func (b *EventBus) PublishQRCode(qr QRCodeEvent) {
	b.mu.Lock()
	b.lastQR = &qr
	b.mu.Unlock()
	b.publish(Event{Type: TypeQRCode, QRCode: &qr})
}

func (b *EventBus) PublishInbound(in InboundEvent) {
	b.publish(Event{Type: TypeInbound, Inbound: &in})
}

func (b *EventBus) PublishOutbound(out OutboundEvent) {
	b.publish(Event{Type: TypeOutbound, Outbound: &out})
}

// LastQRCode returns the most recent pairing code, or nil once the session is ready.
func (b *EventBus) LastQRCode() *QRCodeEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastQR == nil {
		return nil
	}
	qr := *b.lastQR
	return &qr
}
