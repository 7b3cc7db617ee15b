package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	waBinary "go.mau.fi/whatsmeow/binary"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func messageInfo(chat types.JID) types.MessageInfo {
	return types.MessageInfo{
		MessageSource: types.MessageSource{Chat: chat, Sender: chat},
		ID:            "3EB0ABCDEF",
		Timestamp:     time.Unix(1714564800, 0),
	}
}

var alice = types.NewJID("5215551234567", types.DefaultUserServer)

func TestFormatAndParseJID(t *testing.T) {
	assert.Equal(t, "5215551234567@c.us", FormatJID(alice))
	assert.Equal(t, "status@broadcast", FormatJID(types.StatusBroadcastJID))

	jid, err := ParseJID("5215551234567@c.us")
	require.NoError(t, err)
	assert.Equal(t, alice, jid)

	jid, err = ParseJID("120363000000000000@g.us")
	require.NoError(t, err)
	assert.Equal(t, types.GroupServer, jid.Server)
}

func TestConvertMessageTypes(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		typ  string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, TypeChat},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, TypeChat},
		{"voice note", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{PTT: proto.Bool(true)}}, TypePTT},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, TypeAudio},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, TypeSticker},
		{"multi contact", &waE2E.Message{ContactsArrayMessage: &waE2E.ContactsArrayMessage{}}, TypeMultiVCard},
		{"revoke", &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{Type: waE2E.ProtocolMessage_REVOKE.Enum()}}, TypeRevoked},
		{"protocol", &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{Type: waE2E.ProtocolMessage_EPHEMERAL_SETTING.Enum()}}, TypeE2ENotification},
		{"poll", &waE2E.Message{PollCreationMessage: &waE2E.PollCreationMessage{}}, TypePoll},
		{"poll vote", &waE2E.Message{PollUpdateMessage: &waE2E.PollUpdateMessage{}}, TypePollResponse},
		{"empty", &waE2E.Message{}, TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, convertMessage(messageInfo(alice), tt.msg).Type)
		})
	}
}

func TestConvertMessageFields(t *testing.T) {
	info := messageInfo(alice)

	img := convertMessage(info, &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}})
	assert.Equal(t, TypeImage, img.Type)
	assert.Equal(t, "look", img.Caption)
	assert.True(t, img.HasMedia)
	assert.Equal(t, "false_5215551234567@c.us_3EB0ABCDEF", img.ID)
	assert.Equal(t, "5215551234567@c.us", img.From)
	assert.Equal(t, int64(1714564800), img.Timestamp)

	doc := convertMessage(info, &waE2E.Message{DocumentWithCaptionMessage: &waE2E.FutureProofMessage{
		Message: &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			FileName: proto.String("invoice.pdf"),
			Caption:  proto.String("march"),
		}},
	}})
	assert.Equal(t, TypeDocument, doc.Type)
	assert.Equal(t, "invoice.pdf", doc.Filename)
	assert.Equal(t, "march", doc.Caption)

	loc := convertMessage(info, &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(19.4326),
		DegreesLongitude: proto.Float64(-99.1332),
		Name:             proto.String("Zocalo"),
	}})
	assert.Equal(t, TypeLocation, loc.Type)
	assert.Equal(t, &Location{Latitude: 19.4326, Longitude: -99.1332, Description: "Zocalo"}, loc.Location)

	card := convertMessage(info, &waE2E.Message{ContactMessage: &waE2E.ContactMessage{Vcard: proto.String("BEGIN:VCARD")}})
	assert.Equal(t, TypeVCard, card.Type)
	assert.Equal(t, "BEGIN:VCARD", card.VCard)

	undecryptable := convertUndecryptable(info)
	assert.Equal(t, TypeCiphertext, undecryptable.Type)
}

func TestHandleEventTranslatesWhatsmeowEvents(t *testing.T) {
	c := NewWhatsmeowClient(nil, nil)
	var got []Event
	c.Subscribe(func(evt Event) { got = append(got, evt) })

	own := messageInfo(alice)
	own.IsFromMe = true
	c.handleEvent(&events.Message{Info: own, Message: &waE2E.Message{Conversation: proto.String("mine")}})
	c.handleEvent(&events.Message{Info: messageInfo(alice), Message: &waE2E.Message{Conversation: proto.String("hi")}})
	c.handleEvent(&events.Connected{})
	c.handleEvent(&events.CallOffer{
		BasicCallMeta: types.BasicCallMeta{From: alice, CallID: "call-1", Timestamp: time.Unix(1714564800, 0)},
		Data:          &waBinary.Node{Tag: "offer", Content: []waBinary.Node{{Tag: "video"}}},
	})
	c.handleEvent(&events.Disconnected{})

	require.Len(t, got, 4)
	assert.Equal(t, EventMessage, got[0].Kind)
	assert.Equal(t, "hi", got[0].Message.Body)
	assert.Equal(t, EventReady, got[1].Kind)
	assert.Equal(t, EventCall, got[2].Kind)
	assert.Equal(t, &Call{ID: "call-1", From: "5215551234567@c.us", IsVideo: true, Timestamp: time.Unix(1714564800, 0)}, got[2].Call)
	assert.Equal(t, EventDisconnected, got[3].Kind)
}

func TestClosedClientReportsSessionClosed(t *testing.T) {
	c := NewWhatsmeowClient(nil, nil)

	_, err := c.ConnectionState(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Contains(t, err.Error(), "Session closed")

	assert.NoError(t, c.Destroy(context.Background()))
}

func TestWrapSessionErr(t *testing.T) {
	err := wrapSessionErr(whatsmeow.ErrNotConnected)
	assert.True(t, strings.HasPrefix(err.Error(), "Session closed"))
	assert.ErrorIs(t, err, whatsmeow.ErrNotConnected)

	other := errors.New("server returned error 500")
	assert.Equal(t, other, wrapSessionErr(other))

	assert.Contains(t, wrapStoreErr(errors.New("database is locked (5) (SQLITE_BUSY)")).Error(), "SingletonLock")
}

func TestMediaFetcher(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000000000000000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.png":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(png)
		case "/doc.pdf":
			w.Header().Set("Content-Type", "application/pdf; charset=binary")
			_, _ = w.Write([]byte("%PDF-1.4"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewMediaFetcher(5 * time.Second)
	ctx := context.Background()

	media, err := f.Fetch(ctx, srv.URL+"/photo.png", MediaOptions{Unsafe: true})
	require.NoError(t, err)
	assert.Equal(t, "image/png", media.MimeType)
	assert.Equal(t, "photo.png", media.Filename)
	assert.Equal(t, png, media.Data)

	media, err = f.Fetch(ctx, srv.URL+"/doc.pdf", MediaOptions{})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", media.MimeType)

	media, err = f.Fetch(ctx, srv.URL+"/photo.png", MediaOptions{MimeType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", media.MimeType)

	_, err = f.Fetch(ctx, srv.URL+"/missing", MediaOptions{})
	assert.Error(t, err)
}

func TestQRSVG(t *testing.T) {
	svg, err := QRSVG("2@abcdef,ghijkl,mnopqr", 256)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(svg, `<svg xmlns="http://www.w3.org/2000/svg"`))
	assert.Contains(t, svg, `width="256"`)
	assert.Contains(t, svg, `fill="#000"`)

	_, err = QRSVG("", 256)
	assert.Error(t, err)
}
