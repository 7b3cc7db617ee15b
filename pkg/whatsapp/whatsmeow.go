package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waBinary "go.mau.fi/whatsmeow/binary"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/sipeed/wabridge/pkg/logger"
)

// ErrSessionClosed is returned while no client instance exists. Its text is recognized
// by the recovery classifier.
var ErrSessionClosed = errors.New("Session closed: client not initialized")

// WhatsmeowClient implements Client on top of a whatsmeow session. Each Initialize builds
// a fresh whatsmeow client from the device store; Destroy drops it.
type WhatsmeowClient struct {
	container *sqlstore.Container
	media     *MediaFetcher

	mu       sync.RWMutex
	client   *whatsmeow.Client
	qrCancel context.CancelFunc

	handlersMu sync.RWMutex
	handlers   []EventHandler
}

func NewWhatsmeowClient(container *sqlstore.Container, media *MediaFetcher) *WhatsmeowClient {
	return &WhatsmeowClient{
		container: container,
		media:     media,
	}
}

func (c *WhatsmeowClient) Subscribe(handler EventHandler) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, handler)
	c.handlersMu.Unlock()
}

func (c *WhatsmeowClient) emit(evt Event) {
	c.handlersMu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

// Initialize connects a new client. Unpaired devices start the QR flow in the background;
// codes arrive as EventQR and a successful pairing is reported as EventReady.
func (c *WhatsmeowClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return errors.New("whatsapp client already initialized")
	}

	deviceStore, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		return wrapStoreErr(fmt.Errorf("failed to get device from store: %w", err))
	}

	cli := whatsmeow.NewClient(deviceStore, waLog.Zerolog(logger.Component("whatsmeow")))
	cli.AddEventHandler(c.handleEvent)

	if cli.Store.ID == nil {
		logger.InfoC("whatsapp", "No existing session found, starting QR code login")
		qrCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		qrChan, err := cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := cli.Connect(); err != nil {
			cancel()
			return fmt.Errorf("failed to connect for QR: %w", err)
		}
		c.qrCancel = cancel
		go c.watchQR(qrChan)
	} else {
		logger.InfoCF("whatsapp", "Resuming existing session", map[string]interface{}{
			"device_id": cli.Store.ID.String(),
		})
		if err := cli.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
	}

	c.client = cli
	return nil
}

func (c *WhatsmeowClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			c.emit(Event{Kind: EventQR, QRCode: evt.Code})
		case "success":
			logger.InfoC("whatsapp", "QR pairing successful")
		case "timeout":
			logger.WarnC("whatsapp", "QR code timed out")
			c.emit(Event{Kind: EventDisconnected, Reason: "QR code timed out"})
		default:
			reason := evt.Event
			if evt.Error != nil {
				reason = evt.Error.Error()
			}
			logger.ErrorCF("whatsapp", "QR login error", map[string]interface{}{
				"event": evt.Event,
				"error": reason,
			})
			c.emit(Event{Kind: EventAuthFailure, Reason: reason})
		}
	}
}

// Destroy disconnects and forgets the current client. It is a no-op when no client exists.
func (c *WhatsmeowClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.qrCancel != nil {
		c.qrCancel()
		c.qrCancel = nil
	}
	if c.client == nil {
		return nil
	}
	c.client.RemoveEventHandlers()
	c.client.Disconnect()
	c.client = nil
	logger.InfoC("whatsapp", "WhatsApp client destroyed")
	return nil
}

func (c *WhatsmeowClient) current() (*whatsmeow.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrSessionClosed
	}
	return c.client, nil
}

func (c *WhatsmeowClient) ConnectionState(ctx context.Context) (ConnectionState, error) {
	cli, err := c.current()
	if err != nil {
		return "", err
	}
	switch {
	case cli.Store.ID == nil:
		return StateUnpaired, nil
	case cli.IsConnected() && cli.IsLoggedIn():
		return StateConnected, nil
	default:
		return StateDisconnected, nil
	}
}

// Contacts performs a directory round trip for the own number and then counts the
// locally synced contacts. The round trip fails unless the session is authenticated.
func (c *WhatsmeowClient) Contacts(ctx context.Context) (int, error) {
	cli, err := c.current()
	if err != nil {
		return 0, err
	}
	if cli.Store.ID == nil {
		return 0, wrapSessionErr(whatsmeow.ErrNotLoggedIn)
	}
	if _, err := cli.IsOnWhatsApp(ctx, []string{"+" + cli.Store.ID.User}); err != nil {
		return 0, wrapSessionErr(fmt.Errorf("directory probe failed: %w", err))
	}
	contacts, err := cli.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return 0, wrapStoreErr(fmt.Errorf("failed to list contacts: %w", err))
	}
	return len(contacts), nil
}

func (c *WhatsmeowClient) NumberID(ctx context.Context, chatID string) (string, error) {
	cli, err := c.current()
	if err != nil {
		return "", err
	}
	jid, err := ParseJID(chatID)
	if err != nil {
		return "", err
	}
	if jid.Server != types.DefaultUserServer {
		return jid.String(), nil
	}

	resp, err := cli.IsOnWhatsApp(ctx, []string{"+" + jid.User})
	if err != nil {
		return "", wrapSessionErr(fmt.Errorf("number lookup failed: %w", err))
	}
	for _, r := range resp {
		if r.IsIn {
			return r.JID.String(), nil
		}
	}
	return "", nil
}

func (c *WhatsmeowClient) SendMessage(ctx context.Context, chatID string, content Content) error {
	cli, err := c.current()
	if err != nil {
		return err
	}
	jid, err := ParseJID(chatID)
	if err != nil {
		return err
	}

	msg := &waE2E.Message{Conversation: proto.String(content.Text)}
	if content.Media != nil {
		msg, err = c.buildMediaMessage(ctx, cli, content)
		if err != nil {
			return err
		}
	}

	resp, err := cli.SendMessage(ctx, jid, msg)
	if err != nil {
		return wrapSessionErr(fmt.Errorf("failed to send whatsapp message: %w", err))
	}

	logger.DebugCF("whatsapp", "Message sent", map[string]interface{}{
		"to":         jid.String(),
		"message_id": resp.ID,
	})
	return nil
}

func (c *WhatsmeowClient) buildMediaMessage(ctx context.Context, cli *whatsmeow.Client, content Content) (*waE2E.Message, error) {
	media := content.Media
	mediaType := whatsmeow.MediaDocument
	if strings.HasPrefix(media.MimeType, "image/") {
		mediaType = whatsmeow.MediaImage
	}

	up, err := cli.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return nil, wrapSessionErr(fmt.Errorf("failed to upload media: %w", err))
	}

	if mediaType == whatsmeow.MediaImage {
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(content.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	}

	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Caption:       proto.String(content.Caption),
		Title:         proto.String(media.Filename),
		FileName:      proto.String(media.Filename),
		Mimetype:      proto.String(media.MimeType),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}, nil
}

func (c *WhatsmeowClient) FetchMedia(ctx context.Context, url string, opts MediaOptions) (*Media, error) {
	return c.media.Fetch(ctx, url, opts)
}

func (c *WhatsmeowClient) RejectCall(ctx context.Context, call *Call) error {
	cli, err := c.current()
	if err != nil {
		return err
	}
	from, err := ParseJID(call.From)
	if err != nil {
		return err
	}
	if err := cli.RejectCall(ctx, from, call.ID); err != nil {
		return wrapSessionErr(fmt.Errorf("failed to reject call: %w", err))
	}
	return nil
}

func (c *WhatsmeowClient) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		c.emit(Event{Kind: EventMessage, Message: convertMessage(v.Info, v.Message)})
	case *events.UndecryptableMessage:
		if v.Info.IsFromMe {
			return
		}
		c.emit(Event{Kind: EventMessage, Message: convertUndecryptable(v.Info)})
	case *events.CallOffer:
		c.emit(Event{Kind: EventCall, Call: &Call{
			ID:        v.CallID,
			From:      FormatJID(v.From),
			IsVideo:   isVideoOffer(v.Data),
			Timestamp: v.Timestamp,
		}})
	case *events.Connected:
		logger.InfoC("whatsapp", "WhatsApp connected")
		c.emit(Event{Kind: EventReady})
	case *events.Disconnected:
		logger.WarnC("whatsapp", "WhatsApp disconnected")
		c.emit(Event{Kind: EventDisconnected, Reason: "connection lost"})
	case *events.StreamReplaced:
		c.emit(Event{Kind: EventDisconnected, Reason: "CONFLICT"})
	case *events.LoggedOut:
		logger.ErrorCF("whatsapp", "WhatsApp logged out", map[string]interface{}{
			"reason": fmt.Sprintf("%v", v.Reason),
		})
		c.emit(Event{Kind: EventDisconnected, Reason: fmt.Sprintf("LOGOUT: %v", v.Reason)})
	case *events.ConnectFailure:
		c.emit(Event{Kind: EventAuthFailure, Reason: fmt.Sprintf("%v %s", v.Reason, v.Message)})
	case *events.TemporaryBan:
		c.emit(Event{Kind: EventAuthFailure, Reason: v.String()})
	}
}

func isVideoOffer(node *waBinary.Node) bool {
	if node == nil {
		return false
	}
	_, ok := node.GetOptionalChildByTag("video")
	return ok
}

// wrapSessionErr tags errors that mean the session is gone so they classify as a closed
// session.
func wrapSessionErr(err error) error {
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("Session closed: %w", err)
	}
	return err
}

// wrapStoreErr tags sqlite lock contention so it classifies as a held session lock.
func wrapStoreErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("device store SingletonLock: %w", err)
	}
	return err
}

var _ Client = (*WhatsmeowClient)(nil)
