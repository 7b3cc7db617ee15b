package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/recovery"
	"github.com/sipeed/wabridge/pkg/relay"
	"github.com/sipeed/wabridge/pkg/session"
	"github.com/sipeed/wabridge/pkg/whatsapp"
	"github.com/sipeed/wabridge/pkg/whatsapp/whatsapptest"
)

type hookServer struct {
	mu     sync.Mutex
	status int
	bodies []map[string]interface{}
	srv    *httptest.Server
}

func newHookServer(t *testing.T) *hookServer {
	h := &hookServer{status: http.StatusOK}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		h.mu.Lock()
		h.bodies = append(h.bodies, body)
		status := h.status
		h.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hookServer) Bodies() []map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]interface{}(nil), h.bodies...)
}

type fixture struct {
	bridge  *Bridge
	client  *whatsapptest.Fake
	state   *session.State
	events  *bus.EventBus
	message *hookServer
	down    *hookServer
	qrOut   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		client:  whatsapptest.New(),
		state:   session.NewState(),
		events:  bus.NewEventBus(),
		message: newHookServer(t),
		down:    newHookServer(t),
		qrOut:   &bytes.Buffer{},
	}
	rly := relay.New(relay.NewWebhook(2*time.Second), f.message.srv.URL, f.down.srv.URL, nil, nil)
	f.bridge = New(Options{
		Client:    f.client,
		State:     f.state,
		Recoverer: recovery.NewRecoverer(f.state, nil, nil),
		Relay:     rly,
		Events:    f.events,
		Calls:     config.DefaultConfig().Calls,
		QROutput:  f.qrOut,
	})
	f.bridge.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func messageEvent(m whatsapp.Message) whatsapp.Event {
	return whatsapp.Event{Kind: whatsapp.EventMessage, Message: &m}
}

func TestStatusBroadcastIsDropped(t *testing.T) {
	f := newFixture(t)
	for _, from := range []string{"status@broadcast", "status@c.us"} {
		f.bridge.Handle(context.Background(), messageEvent(whatsapp.Message{From: from, Type: whatsapp.TypeChat, Body: "story"}))
	}
	assert.Empty(t, f.message.Bodies())
}

func TestIgnoredTypesAreDropped(t *testing.T) {
	f := newFixture(t)
	for msgType := range ignoredTypes {
		f.bridge.Handle(context.Background(), messageEvent(whatsapp.Message{From: "5215551234567@c.us", Type: msgType}))
	}
	assert.Empty(t, f.message.Bodies())
}

func TestReactionsAndUnknownTypesAreDropped(t *testing.T) {
	f := newFixture(t)
	for _, msgType := range []string{whatsapp.TypeReaction, whatsapp.TypeUnknown} {
		f.bridge.Handle(context.Background(), messageEvent(whatsapp.Message{From: "5215551234567@c.us", Type: msgType}))
	}
	assert.Empty(t, f.message.Bodies())
}

func TestLocationPayloadMirrorsSource(t *testing.T) {
	f := newFixture(t)
	f.bridge.Handle(context.Background(), messageEvent(whatsapp.Message{
		ID:        "false_5215551234567@c.us_ABC",
		From:      "5215551234567@c.us",
		Type:      whatsapp.TypeLocation,
		Timestamp: 1714564800,
		Location:  &whatsapp.Location{Latitude: 19.4326, Longitude: -99.1332, Description: "Zocalo"},
	}))

	bodies := f.message.Bodies()
	require.Len(t, bodies, 1)
	body := bodies[0]
	assert.Equal(t, "5215551234567", body["phoneNumber"])
	assert.Equal(t, "location", body["type"])
	assert.Equal(t, "false_5215551234567@c.us_ABC", body["id"])
	assert.Equal(t, float64(1714564800), body["timestamp"])
	assert.Equal(t, "", body["body"])
	assert.Equal(t, false, body["hasMedia"])
	assert.Equal(t, map[string]interface{}{
		"latitude":    19.4326,
		"longitude":   -99.1332,
		"description": "Zocalo",
	}, body["location"])
}

func TestRelaySuccessTouchesState(t *testing.T) {
	f := newFixture(t)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.state = session.NewStateWithClock(func() time.Time { return clock })
	f.bridge.state = f.state
	clock = clock.Add(time.Hour)
	require.Equal(t, time.Hour, f.state.IdleDuration())

	f.bridge.Handle(context.Background(), messageEvent(whatsapp.Message{From: "5215551234567@c.us", Type: whatsapp.TypeChat, Body: "hi"}))

	assert.Equal(t, time.Duration(0), f.state.IdleDuration())
}

func TestWebhookFailureDoesNotBlockNextMessage(t *testing.T) {
	f := newFixture(t)
	f.state.SetReady(true)
	f.message.mu.Lock()
	f.message.status = http.StatusInternalServerError
	f.message.mu.Unlock()

	f.bridge.Handle(context.Background(), messageEvent(whatsapp.Message{From: "1@c.us", Type: whatsapp.TypeChat, Body: "one"}))
	f.bridge.Handle(context.Background(), messageEvent(whatsapp.Message{From: "2@c.us", Type: whatsapp.TypeChat, Body: "two"}))

	assert.Len(t, f.message.Bodies(), 2)
	assert.True(t, f.state.IsMarkedReady(), "an unclassified webhook error leaves the session alone")
}

func TestCallIsRejectedDeclinedAndRelayed(t *testing.T) {
	f := newFixture(t)
	call := &whatsapp.Call{ID: "c1", From: "5215551234567@c.us", IsVideo: true}

	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventCall, Call: call})

	assert.Equal(t, []string{"RejectCall", "SendMessage"}, f.client.Calls())
	sent := f.client.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "5215551234567@c.us", sent[0].ChatID)
	assert.Equal(t, config.DefaultConfig().Calls.DeclineText, sent[0].Content.Text)

	bodies := f.message.Bodies()
	require.Len(t, bodies, 1)
	assert.Equal(t, "call", bodies[0]["type"])
	assert.Equal(t, true, bodies[0]["isVideo"])
	assert.Equal(t, "5215551234567@c.us", bodies[0]["phoneNumber"])
	assert.Equal(t, "Call declined from number: 5215551234567@c.us", bodies[0]["message"])
	assert.Equal(t, "2024-05-01T12:00:00.000Z", bodies[0]["timestamp"])
}

func TestCallRejectFailureShortCircuitsRelay(t *testing.T) {
	f := newFixture(t)
	f.state.SetReady(true)
	f.client.RejectErr = errors.New("Session closed")

	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventCall, Call: &whatsapp.Call{ID: "c1", From: "1@c.us"}})

	assert.Empty(t, f.message.Bodies())
	assert.Empty(t, f.client.Sent())
	assert.False(t, f.state.IsMarkedReady())
}

func TestCallDeclineFailureShortCircuitsRelay(t *testing.T) {
	f := newFixture(t)
	f.client.SendFunc = func(context.Context, string, whatsapp.Content) error { return errors.New("Target closed") }

	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventCall, Call: &whatsapp.Call{ID: "c1", From: "1@c.us"}})

	assert.Empty(t, f.message.Bodies())
}

func TestDisconnectMarksNotReadyAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.state.SetReady(true)

	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: "LOGOUT"})
	f.state.SetReady(true)
	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventAuthFailure})

	assert.False(t, f.state.IsMarkedReady())
	assert.Equal(t, session.PhaseDisconnected, f.state.Phase())

	bodies := f.down.Bodies()
	require.Len(t, bodies, 2)
	assert.Equal(t, "WhatsApp client is down", bodies[0]["message"])
	assert.Equal(t, "LOGOUT", bodies[0]["reason"])
	assert.Equal(t, "unknown", bodies[1]["reason"])
	assert.Empty(t, f.message.Bodies())
}

func TestReadyAndQR(t *testing.T) {
	f := newFixture(t)

	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventQR, QRCode: "2@abc,def"})
	assert.Equal(t, session.PhaseAwaitingQR, f.state.Phase())
	assert.NotEmpty(t, f.qrOut.String())
	qr := f.events.LastQRCode()
	require.NotNil(t, qr)
	assert.Equal(t, "2@abc,def", qr.Code)
	assert.Contains(t, qr.SVG, "<svg")

	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventReady})
	assert.True(t, f.state.IsMarkedReady())
	assert.Equal(t, session.PhaseReady, f.state.Phase())
}

func TestAttachHandlesEventsAsynchronously(t *testing.T) {
	f := newFixture(t)
	f.bridge.Attach(context.Background())

	f.client.Emit(messageEvent(whatsapp.Message{From: "1@c.us", Type: whatsapp.TypeChat}))
	f.client.Emit(messageEvent(whatsapp.Message{From: "2@c.us", Type: whatsapp.TypeChat}))
	f.bridge.Wait()

	assert.Len(t, f.message.Bodies(), 2)
}

func TestNoWebhookConfigured(t *testing.T) {
	f := newFixture(t)
	f.bridge.relay = relay.New(relay.NewWebhook(time.Second), "", "", nil, nil)
	f.state.SetReady(true)

	f.bridge.Handle(context.Background(), messageEvent(whatsapp.Message{From: "1@c.us", Type: whatsapp.TypeChat}))
	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventCall, Call: &whatsapp.Call{ID: "c1", From: "1@c.us"}})
	f.bridge.Handle(context.Background(), whatsapp.Event{Kind: whatsapp.EventDisconnected})

	assert.Equal(t, []string{"RejectCall", "SendMessage"}, f.client.Calls())
	assert.False(t, f.state.IsMarkedReady())
	assert.Empty(t, f.message.Bodies())
	assert.Empty(t, f.down.Bodies())
}

func TestAttachAppliesLifecycleInEmissionOrder(t *testing.T) {
	f := newFixture(t)
	f.bridge.Attach(context.Background())

	for i := 0; i < 50; i++ {
		f.client.Emit(whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: "CONNECTION_LOST"})
		f.client.Emit(whatsapp.Event{Kind: whatsapp.EventReady})
		require.True(t, f.state.IsMarkedReady(), "iteration %d", i)
	}
	f.bridge.Wait()

	assert.True(t, f.state.IsMarkedReady())
	assert.Equal(t, session.PhaseReady, f.state.Phase())
	assert.Len(t, f.down.Bodies(), 50)
}
