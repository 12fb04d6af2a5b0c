package whatsapp

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// MediaKind names the attachment carried by a message.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

// Inbound is a chat message seen on the linked account.
type Inbound struct {
	ID string
	// Number is the digits of the other party (or group id).
	Number    string
	Chat      types.JID
	Sender    types.JID
	Text      string
	FromMe    bool
	Media     MediaKind
	Timestamp time.Time

	raw *waE2E.Message
}

// convertMessage extracts the parts of a whatsmeow message the console
// cares about. Status broadcasts and messages with neither text nor media
// (reactions, receipts, protocol messages) are skipped.
func convertMessage(v *events.Message, phoneFor func(types.JID) types.JID) (Inbound, bool) {
	if v == nil || v.Message == nil || v.Info.Chat == types.StatusBroadcastJID {
		return Inbound{}, false
	}
	text, media := messageContent(v.Message)
	if text == "" && media == MediaNone {
		return Inbound{}, false
	}
	chat := v.Info.Chat
	numberJID := chat
	if phoneFor != nil {
		numberJID = phoneFor(chat)
	}
	return Inbound{
		ID:        v.Info.ID,
		Number:    SanitizePhone(numberJID.User),
		Chat:      chat,
		Sender:    v.Info.Sender,
		Text:      text,
		FromMe:    v.Info.IsFromMe,
		Media:     media,
		Timestamp: v.Info.Timestamp,
		raw:       v.Message,
	}, true
}

func messageContent(m *waE2E.Message) (string, MediaKind) {
	if txt := m.GetConversation(); txt != "" {
		return txt, MediaNone
	}
	if ext := m.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText(), MediaNone
	}
	switch {
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption(), MediaImage
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption(), MediaVideo
	case m.GetAudioMessage() != nil:
		return "", MediaAudio
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption(), MediaDocument
	case m.GetStickerMessage() != nil:
		return "", MediaOther
	}
	return "", MediaNone
}
