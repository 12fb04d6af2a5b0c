// Package bot answers inbound WhatsApp messages and keeps the conversation
// log in step with what was received and sent.
package bot

import (
	"context"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsapp-console/internal/completion"
	"whatsapp-console/internal/conversation"
	"whatsapp-console/internal/whatsapp"
)

// Responder produces reply text. It never fails; errors become fallback text.
type Responder interface {
	Reply(ctx context.Context, text string) string
}

// Sender delivers a reply to the chat an inbound message came from.
type Sender interface {
	Reply(ctx context.Context, in whatsapp.Inbound, text string) error
}

// Recorder appends to the conversation log.
type Recorder interface {
	Record(number, text string, author conversation.Author, dir conversation.Direction) (conversation.Record, error)
}

// Placeholders logged for messages without text.
const (
	PlaceholderMedia    = "[mídia]"
	PlaceholderImage    = "[IMAGEM]"
	PlaceholderVideo    = "[VÍDEO]"
	PlaceholderAudio    = "[ÁUDIO]"
	PlaceholderDocument = "[DOCUMENTO]"
	PlaceholderFile     = "[ARQUIVO DE MÍDIA]"
)

type Handler struct {
	Responder Responder
	Sender    Sender
	Recorder  Recorder
	Log       waLog.Logger
	// SendTimeout bounds delivery of one reply.
	SendTimeout time.Duration
}

func NewHandler(r Responder, s Sender, rec Recorder, log waLog.Logger) *Handler {
	if log == nil {
		log = waLog.Noop
	}
	return &Handler{Responder: r, Sender: s, Recorder: rec, Log: log, SendTimeout: 30 * time.Second}
}

// Handle processes one inbound message. Messages from other people are
// logged, answered and the answer logged. Messages the account itself sent
// from another device are only logged.
func (h *Handler) Handle(ctx context.Context, in whatsapp.Inbound) {
	if in.FromMe {
		h.record(in.Number, ownText(in), conversation.AuthorBot, conversation.Sent)
		return
	}

	text := in.Text
	if text == "" {
		text = PlaceholderMedia
	}
	h.Log.Infof("Message from %s: %q", in.Number, preview(text))
	h.record(in.Number, text, conversation.AuthorUser, conversation.Received)

	reply := h.Responder.Reply(ctx, text)
	if err := h.send(ctx, in, reply); err != nil {
		h.Log.Errorf("Failed to reply to %s: %v", in.Number, err)
		if err := h.send(ctx, in, completion.ApologyText); err != nil {
			h.Log.Errorf("Failed to send apology to %s: %v", in.Number, err)
			return
		}
		h.record(in.Number, completion.ApologyText, conversation.AuthorBot, conversation.Sent)
		return
	}
	h.Log.Infof("Reply sent to %s", in.Number)
	h.record(in.Number, reply, conversation.AuthorBot, conversation.Sent)
}

func (h *Handler) send(ctx context.Context, in whatsapp.Inbound, text string) error {
	if h.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.SendTimeout)
		defer cancel()
	}
	return h.Sender.Reply(ctx, in, text)
}

func (h *Handler) record(number, text string, author conversation.Author, dir conversation.Direction) {
	if _, err := h.Recorder.Record(number, text, author, dir); err != nil {
		h.Log.Errorf("Failed to log conversation with %s: %v", number, err)
	}
}

func ownText(in whatsapp.Inbound) string {
	if in.Text != "" {
		return in.Text
	}
	switch in.Media {
	case whatsapp.MediaImage:
		return PlaceholderImage
	case whatsapp.MediaVideo:
		return PlaceholderVideo
	case whatsapp.MediaAudio:
		return PlaceholderAudio
	case whatsapp.MediaDocument:
		return PlaceholderDocument
	case whatsapp.MediaNone:
		return PlaceholderMedia
	default:
		return PlaceholderFile
	}
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return s
}
