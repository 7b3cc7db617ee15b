package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// Message type names as exposed to webhook consumers.
const (
	TypeChat            = "chat"
	TypeImage           = "image"
	TypeVideo           = "video"
	TypeAudio           = "audio"
	TypePTT             = "ptt"
	TypeDocument        = "document"
	TypeLocation        = "location"
	TypeVCard           = "vcard"
	TypeMultiVCard      = "multi_vcard"
	TypeSticker         = "sticker"
	TypeReaction        = "reaction"
	TypeRevoked         = "revoked"
	TypeE2ENotification = "e2e_notification"
	TypeOrder           = "order"
	TypeProduct         = "product"
	TypeList            = "list"
	TypeListResponse    = "list_response"
	TypeButtonsResponse = "buttons_response"
	TypePoll            = "poll"
	TypePollResponse    = "poll_response"
	TypeCiphertext      = "ciphertext"
	TypeUnknown         = "unknown"
)

const legacyUserServer = "c.us"

// FormatJID renders a JID the way webhook consumers expect: user chats use the c.us
// server, everything else keeps its own server.
func FormatJID(jid types.JID) string {
	if jid.Server == types.DefaultUserServer {
		return jid.User + "@" + legacyUserServer
	}
	return jid.ToNonAD().String()
}

// ParseJID accepts both the legacy c.us form and native JIDs.
func ParseJID(raw string) (types.JID, error) {
	jid, err := types.ParseJID(strings.TrimSpace(raw))
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid chat ID '%s': %w", raw, err)
	}
	if jid.Server == legacyUserServer {
		jid.Server = types.DefaultUserServer
	}
	return jid, nil
}

// serializedID mirrors the "<fromMe>_<chat>_<id>" message id consumers already store.
func serializedID(info types.MessageInfo) string {
	return fmt.Sprintf("%t_%s_%s", info.IsFromMe, FormatJID(info.Chat), info.ID)
}

func convertMessage(info types.MessageInfo, msg *waE2E.Message) *Message {
	out := &Message{
		ID:        serializedID(info),
		From:      FormatJID(info.Chat),
		Timestamp: info.Timestamp.Unix(),
		Type:      TypeUnknown,
	}
	if msg == nil {
		return out
	}
	if inner := msg.GetEphemeralMessage().GetMessage(); inner != nil {
		msg = inner
	}
	if inner := msg.GetViewOnceMessage().GetMessage(); inner != nil {
		msg = inner
	}
	if inner := msg.GetDocumentWithCaptionMessage().GetMessage(); inner != nil {
		msg = inner
	}

	switch {
	case msg.GetConversation() != "":
		out.Type = TypeChat
		out.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		out.Type = TypeChat
		out.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		out.Type = TypeImage
		out.Caption = msg.GetImageMessage().GetCaption()
		out.Body = out.Caption
		out.HasMedia = true
	case msg.GetVideoMessage() != nil:
		out.Type = TypeVideo
		out.Caption = msg.GetVideoMessage().GetCaption()
		out.Body = out.Caption
		out.HasMedia = true
	case msg.GetAudioMessage() != nil:
		out.Type = TypeAudio
		if msg.GetAudioMessage().GetPTT() {
			out.Type = TypePTT
		}
		out.HasMedia = true
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		out.Type = TypeDocument
		out.Filename = doc.GetFileName()
		out.Caption = doc.GetCaption()
		out.Body = out.Caption
		out.HasMedia = true
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		out.Type = TypeLocation
		out.Location = &Location{
			Latitude:    loc.GetDegreesLatitude(),
			Longitude:   loc.GetDegreesLongitude(),
			Description: locationDescription(loc.GetName(), loc.GetAddress()),
		}
	case msg.GetLiveLocationMessage() != nil:
		loc := msg.GetLiveLocationMessage()
		out.Type = TypeLocation
		out.Location = &Location{
			Latitude:    loc.GetDegreesLatitude(),
			Longitude:   loc.GetDegreesLongitude(),
			Description: loc.GetCaption(),
		}
	case msg.GetContactMessage() != nil:
		out.Type = TypeVCard
		out.VCard = msg.GetContactMessage().GetVcard()
		out.Body = out.VCard
	case msg.GetContactsArrayMessage() != nil:
		out.Type = TypeMultiVCard
	case msg.GetStickerMessage() != nil:
		out.Type = TypeSticker
		out.HasMedia = true
	case msg.GetReactionMessage() != nil:
		out.Type = TypeReaction
		out.Body = msg.GetReactionMessage().GetText()
	case msg.GetProtocolMessage() != nil:
		out.Type = TypeE2ENotification
		if msg.GetProtocolMessage().GetType() == waE2E.ProtocolMessage_REVOKE {
			out.Type = TypeRevoked
		}
	case msg.GetOrderMessage() != nil:
		out.Type = TypeOrder
	case msg.GetProductMessage() != nil:
		out.Type = TypeProduct
	case msg.GetListMessage() != nil:
		out.Type = TypeList
	case msg.GetListResponseMessage() != nil:
		out.Type = TypeListResponse
	case msg.GetButtonsResponseMessage() != nil:
		out.Type = TypeButtonsResponse
	case msg.GetPollCreationMessage() != nil, msg.GetPollCreationMessageV2() != nil, msg.GetPollCreationMessageV3() != nil:
		out.Type = TypePoll
	case msg.GetPollUpdateMessage() != nil:
		out.Type = TypePollResponse
	}
	return out
}

func convertUndecryptable(info types.MessageInfo) *Message {
	return &Message{
		ID:        serializedID(info),
		From:      FormatJID(info.Chat),
		Type:      TypeCiphertext,
		Timestamp: info.Timestamp.Unix(),
	}
}

func locationDescription(name, address string) string {
	switch {
	case name != "" && address != "":
		return name + "\n" + address
	case name != "":
		return name
	default:
		return address
	}
}
