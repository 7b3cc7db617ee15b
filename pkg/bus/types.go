package bus

import "time"

// StateEvent is a connection phase change.
type StateEvent struct {
	Phase string    `json:"phase"`
	Ready bool      `json:"ready"`
	Since time.Time `json:"last_operation_at"`
}

// QRCodeEvent carries a pairing code for the linked-devices flow.
type QRCodeEvent struct {
	Code string `json:"code,omitempty"` // raw pairing data
	SVG  string `json:"svg,omitempty"`  // server-rendered SVG of the code
}

// InboundEvent summarizes an inbound message or call after filtering.
type InboundEvent struct {
	Kind        string `json:"kind"` // "message" or "call"
	Type        string `json:"type"`
	PhoneNumber string `json:"phone_number"`
	Relayed     bool   `json:"relayed"`
}

// OutboundEvent summarizes one send request.
type OutboundEvent struct {
	ChatID string `json:"chat_id"`
	Kind   string `json:"kind"` // "text", "image", "images", "pdf"
	Error  string `json:"error,omitempty"`
}
