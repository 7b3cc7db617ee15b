// Package whatsapptest provides an in-memory whatsapp.Client for tests.
package whatsapptest

import (
	"context"
	"sync"

	"github.com/sipeed/wabridge/pkg/whatsapp"
)

// Sent is one recorded SendMessage call.
type Sent struct {
	ChatID  string
	Content whatsapp.Content
}

// Fake records every call. Zero values mean success: a connected session that resolves
// every number to itself.
type Fake struct {
	mu sync.Mutex

	State         whatsapp.ConnectionState
	StateErr      error
	ContactsErr   error
	InitializeErr error
	DestroyErr    error
	RejectErr     error
	NumberErr     error
	// Numbers overrides number resolution; a chat id mapped to "" is not on WhatsApp.
	Numbers  map[string]string
	SendFunc func(ctx context.Context, chatID string, content whatsapp.Content) error
	FetchErr map[string]error

	calls    []string
	sent     []Sent
	rejected []*whatsapp.Call
	handlers []whatsapp.EventHandler
}

func New() *Fake {
	return &Fake{State: whatsapp.StateConnected}
}

func (f *Fake) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

// Calls returns the method names invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) CallCount(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

func (f *Fake) Rejected() []*whatsapp.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*whatsapp.Call(nil), f.rejected...)
}

func (f *Fake) Initialize(context.Context) error {
	f.record("Initialize")
	return f.InitializeErr
}

func (f *Fake) Destroy(context.Context) error {
	f.record("Destroy")
	return f.DestroyErr
}

func (f *Fake) ConnectionState(context.Context) (whatsapp.ConnectionState, error) {
	f.record("ConnectionState")
	if f.StateErr != nil {
		return "", f.StateErr
	}
	return f.State, nil
}

func (f *Fake) Contacts(context.Context) (int, error) {
	f.record("Contacts")
	if f.ContactsErr != nil {
		return 0, f.ContactsErr
	}
	return 1, nil
}

func (f *Fake) NumberID(_ context.Context, chatID string) (string, error) {
	f.record("NumberID")
	if f.NumberErr != nil {
		return "", f.NumberErr
	}
	if id, ok := f.Numbers[chatID]; ok {
		return id, nil
	}
	return chatID, nil
}

func (f *Fake) SendMessage(ctx context.Context, chatID string, content whatsapp.Content) error {
	f.record("SendMessage")
	f.mu.Lock()
	f.sent = append(f.sent, Sent{ChatID: chatID, Content: content})
	fn := f.SendFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, chatID, content)
	}
	return nil
}

// FetchMedia returns an image for any URL unless MimeType forces another type.
func (f *Fake) FetchMedia(_ context.Context, url string, opts whatsapp.MediaOptions) (*whatsapp.Media, error) {
	f.record("FetchMedia")
	if err := f.FetchErr[url]; err != nil {
		return nil, err
	}
	mime := "image/jpeg"
	if opts.MimeType != "" {
		mime = opts.MimeType
	}
	return &whatsapp.Media{MimeType: mime, Filename: url, Data: []byte(url)}, nil
}

func (f *Fake) RejectCall(_ context.Context, call *whatsapp.Call) error {
	f.record("RejectCall")
	if f.RejectErr != nil {
		return f.RejectErr
	}
	f.mu.Lock()
	f.rejected = append(f.rejected, call)
	f.mu.Unlock()
	return nil
}

func (f *Fake) Subscribe(handler whatsapp.EventHandler) {
	f.mu.Lock()
	f.handlers = append(f.handlers, handler)
	f.mu.Unlock()
}

// Emit delivers evt to every subscriber synchronously.
func (f *Fake) Emit(evt whatsapp.Event) {
	f.mu.Lock()
	handlers := append([]whatsapp.EventHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

var _ whatsapp.Client = (*Fake)(nil)
