package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/wabridge/pkg/dispatch"
	"github.com/sipeed/wabridge/pkg/health"
	"github.com/sipeed/wabridge/pkg/recovery"
	"github.com/sipeed/wabridge/pkg/session"
	"github.com/sipeed/wabridge/pkg/whatsapp/whatsapptest"
)

func newStack(t *testing.T) (http.Handler, *whatsapptest.Fake, *session.State) {
	t.Helper()
	client := whatsapptest.New()
	state := session.NewState()
	rec := recovery.NewRecoverer(state, nil, nil)
	monitor := health.NewMonitor(client, state, rec, nil, time.Minute)
	disp := dispatch.New(dispatch.Options{
		Client:      client,
		State:       state,
		Recoverer:   rec,
		UserServer:  "c.us",
		SendTimeout: time.Second,
	})
	srv := NewServer(Options{
		Token:     testToken,
		Readiness: monitor,
		Sender:    disp,
		State:     state,
	})
	return srv.Handler(), client, state
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEndToEndTextSend(t *testing.T) {
	h, client, state := newStack(t)
	state.SetReady(true)

	rec := post(h, `{"phoneNumber":"+15551234567","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":true}`, rec.Body.String())

	sent := client.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "15551234567@c.us", sent[0].ChatID)
	assert.Equal(t, "hi", sent[0].Content.Text)
	assert.Equal(t, 1, client.CallCount("SendMessage"))
}

func TestEndToEndNotReadySkipsClient(t *testing.T) {
	h, client, _ := newStack(t)

	rec := post(h, `{"phoneNumber":"+15551234567","message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"res":false,"error":"WhatsApp client not connected or session closed"}`, rec.Body.String())
	assert.Empty(t, client.Calls())
}

func TestEndToEndStatusRecipient(t *testing.T) {
	h, client, state := newStack(t)
	state.SetReady(true)

	rec := post(h, `{"phoneNumber":"status@broadcast","message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"ConnectionState"}, client.Calls(), "only the readiness query reaches the client")
}

func TestEndToEndSessionLossIsRetryable(t *testing.T) {
	h, client, state := newStack(t)
	state.SetReady(true)
	client.NumberErr = errText("Protocol error: stream reset by peer")

	rec := post(h, `{"phoneNumber":"+15551234567","message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retry":true`)
	assert.False(t, state.IsMarkedReady())
}

type errText string

func (e errText) Error() string { return string(e) }
