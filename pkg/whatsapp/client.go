// Package whatsapp is the boundary to the WhatsApp Web session. Everything above it talks
// to the Client interface; the whatsmeow-backed implementation lives in this package too.
package whatsapp

import (
	"context"
	"time"
)

// ConnectionState is the coarse state reported by the client.
type ConnectionState string

const (
	StateConnected    ConnectionState = "CONNECTED"
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateUnpaired     ConnectionState = "UNPAIRED"
)

// Client is the set of capabilities the supervisor needs from the session.
type Client interface {
	Initialize(ctx context.Context) error
	Destroy(ctx context.Context) error
	ConnectionState(ctx context.Context) (ConnectionState, error)
	// Contacts is a probe that needs a live, authenticated session. It returns the
	// number of known contacts.
	Contacts(ctx context.Context) (int, error)
	// NumberID resolves chatID against the WhatsApp directory. An empty result with a
	// nil error means the number is not on WhatsApp.
	NumberID(ctx context.Context, chatID string) (string, error)
	SendMessage(ctx context.Context, chatID string, content Content) error
	FetchMedia(ctx context.Context, url string, opts MediaOptions) (*Media, error)
	RejectCall(ctx context.Context, call *Call) error
	Subscribe(handler EventHandler)
}

// Content is one outbound message: plain text, or media with an optional caption.
type Content struct {
	Text    string
	Media   *Media
	Caption string
}

type Media struct {
	MimeType string
	Filename string
	Data     []byte
}

// MediaOptions controls how a remote file becomes a Media. MimeType forces the type;
// Unsafe sniffs the bytes when the server reports a missing or generic type.
type MediaOptions struct {
	MimeType string
	Unsafe   bool
}

type EventKind string

const (
	EventQR           EventKind = "qr"
	EventReady        EventKind = "ready"
	EventDisconnected EventKind = "disconnected"
	EventAuthFailure  EventKind = "auth_failure"
	EventCall         EventKind = "call"
	EventMessage      EventKind = "message"
)

// Event is a tagged union over the session's lifecycle and inbound events. Only the
// fields for Kind are set.
type Event struct {
	Kind    EventKind
	QRCode  string
	Reason  string
	Call    *Call
	Message *Message
}

type EventHandler func(Event)

type Call struct {
	ID        string
	From      string
	IsVideo   bool
	Timestamp time.Time
}

// Message is an inbound message normalized to the type names webhook consumers know
// (chat, image, ptt, vcard, ...).
type Message struct {
	ID        string
	From      string
	Type      string
	Body      string
	Caption   string
	Filename  string
	VCard     string
	HasMedia  bool
	Timestamp int64
	Location  *Location
}

type Location struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description"`
}
