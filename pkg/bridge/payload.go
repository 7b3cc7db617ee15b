package bridge

import (
	"strings"
	"time"

	"github.com/sipeed/wabridge/pkg/whatsapp"
)

// MessagePayload is the canonical webhook body for an inbound message. Type-specific
// fields are pointers so they are present only for the types that carry them.
type MessagePayload struct {
	PhoneNumber string `json:"phoneNumber"`
	Type        string `json:"type"`
	From        string `json:"from"`
	ID          string `json:"id,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Body        string `json:"body"`
	HasMedia    bool   `json:"hasMedia"`

	Imagen     *bool              `json:"imagen,omitempty"`
	Video      *bool              `json:"video,omitempty"`
	Audio      *bool              `json:"audio,omitempty"`
	Document   *bool              `json:"document,omitempty"`
	Ciphertext *bool              `json:"ciphertext,omitempty"`
	Filename   *string            `json:"filename,omitempty"`
	Caption    *string            `json:"caption,omitempty"`
	Location   *whatsapp.Location `json:"location,omitempty"`
	Contact    *string            `json:"contact,omitempty"`
}

type CallPayload struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	Type        string `json:"type"`
	IsVideo     bool   `json:"isVideo"`
	Timestamp   string `json:"timestamp"`
}

type DownPayload struct {
	Message   string `json:"message"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// extra lists what a message type adds on top of the common fields.
type extra struct {
	flag     string // name of the boolean marker, if any
	caption  bool
	filename bool
	location bool
	contact  bool
}

var messageExtras = map[string]extra{
	whatsapp.TypeImage:      {flag: "imagen", caption: true},
	whatsapp.TypeVideo:      {flag: "video", caption: true},
	whatsapp.TypeAudio:      {flag: "audio"},
	whatsapp.TypePTT:        {flag: "audio"},
	whatsapp.TypeDocument:   {flag: "document", filename: true, caption: true},
	whatsapp.TypeLocation:   {location: true},
	"contact":               {contact: true},
	whatsapp.TypeVCard:      {contact: true},
	whatsapp.TypeCiphertext: {flag: "ciphertext"},
}

// ignoredTypes never reach the webhook.
var ignoredTypes = map[string]struct{}{
	whatsapp.TypeSticker:         {},
	"call_log":                   {},
	whatsapp.TypeE2ENotification: {},
	whatsapp.TypeRevoked:         {},
	whatsapp.TypeMultiVCard:      {},
	whatsapp.TypeOrder:           {},
	whatsapp.TypeProduct:         {},
	whatsapp.TypeList:            {},
	whatsapp.TypeButtonsResponse: {},
	whatsapp.TypeListResponse:    {},
	whatsapp.TypePoll:            {},
	whatsapp.TypePollResponse:    {},
	whatsapp.TypeReaction:        {},
	whatsapp.TypeUnknown:         {},
}

var statusIdentities = map[string]struct{}{
	"status@broadcast": {},
	"status@c.us":      {},
}

func isStatusIdentity(from string) bool {
	_, ok := statusIdentities[from]
	return ok
}

func isIgnoredType(msgType string) bool {
	_, ok := ignoredTypes[msgType]
	return ok
}

// phoneNumberOf returns the local part of a chat id.
func phoneNumberOf(from string) string {
	if i := strings.Index(from, "@"); i > 0 {
		return from[:i]
	}
	return from
}

func BuildMessagePayload(m *whatsapp.Message) MessagePayload {
	p := MessagePayload{
		PhoneNumber: phoneNumberOf(m.From),
		Type:        m.Type,
		From:        m.From,
		ID:          m.ID,
		Timestamp:   m.Timestamp,
		Body:        m.Body,
		HasMedia:    m.HasMedia,
	}

	ex, ok := messageExtras[m.Type]
	if !ok {
		return p
	}

	yes := true
	switch ex.flag {
	case "imagen":
		p.Imagen = &yes
	case "video":
		p.Video = &yes
	case "audio":
		p.Audio = &yes
	case "document":
		p.Document = &yes
	case "ciphertext":
		p.Ciphertext = &yes
	}
	if ex.caption {
		caption := m.Caption
		p.Caption = &caption
	}
	if ex.filename {
		filename := m.Filename
		p.Filename = &filename
	}
	if ex.location {
		loc := whatsapp.Location{}
		if m.Location != nil {
			loc = *m.Location
		}
		p.Location = &loc
	}
	if ex.contact {
		vcard := m.VCard
		p.Contact = &vcard
	}
	return p
}

// isoTimestamp formats t as UTC RFC 3339 with millisecond precision.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
