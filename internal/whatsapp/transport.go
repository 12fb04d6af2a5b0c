// Package whatsapp connects the console to a WhatsApp account through
// whatsmeow and exposes readiness, pairing QR codes and text sending.
package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/term"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"
)

var (
	ErrNotReady      = errors.New("whatsapp is not ready")
	ErrNotOnWhatsApp = errors.New("number is not on whatsapp")
	ErrBadNumber     = errors.New("invalid phone number")
)

// Options tune the transport.
type Options struct {
	// SendRate is the sustained outbound messages per second.
	SendRate  float64
	SendBurst int
	// TerminalQR prints pairing codes to stdout when it is a terminal.
	TerminalQR bool
}

// Transport wraps a whatsmeow client. Callbacks run on whatsmeow's event
// goroutines and must not block for long.
type Transport struct {
	OnQR           func(dataURL string)
	OnReady        func()
	OnDisconnected func()
	OnMessage      func(Inbound)

	container *sqlstore.Container
	log       waLog.Logger
	limiter   *rate.Limiter
	opts      Options

	clientMu sync.RWMutex
	client   *whatsmeow.Client
	ctx      context.Context

	mu    sync.RWMutex
	ready bool
	qr    string
}

// Open opens the device store at dsn and prepares a client for the first
// device in it.
func Open(ctx context.Context, dsn string, opts Options, log waLog.Logger) (*Transport, error) {
	if log == nil {
		log = waLog.Noop
	}
	container, err := sqlstore.New(ctx, "sqlite3", dsn, log.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	t := newTransport(opts, log)
	t.container = container
	t.setClient(device)
	return t, nil
}

func newTransport(opts Options, log waLog.Logger) *Transport {
	if log == nil {
		log = waLog.Noop
	}
	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	burst := opts.SendBurst
	if burst < 1 {
		burst = 1
	}
	return &Transport{
		log:     log,
		limiter: rate.NewLimiter(limit, burst),
		opts:    opts,
		ctx:     context.Background(),
	}
}

func (t *Transport) setClient(device *store.Device) {
	client := whatsmeow.NewClient(device, t.log.Sub("Client"))
	client.AddEventHandler(t.handleEvent)
	t.clientMu.Lock()
	t.client = client
	t.clientMu.Unlock()
}

func (t *Transport) getClient() *whatsmeow.Client {
	t.clientMu.RLock()
	defer t.clientMu.RUnlock()
	return t.client
}

// Start connects, starting the pairing flow when the device is not linked
// yet. It returns once the connection attempt is under way.
func (t *Transport) Start(ctx context.Context) error {
	t.clientMu.Lock()
	t.ctx = ctx
	t.clientMu.Unlock()
	return t.connect(ctx)
}

// runContext is the context passed to Start, used by work started from
// client events.
func (t *Transport) runContext() context.Context {
	t.clientMu.RLock()
	defer t.clientMu.RUnlock()
	return t.ctx
}

func (t *Transport) connect(ctx context.Context) error {
	client := t.getClient()
	if client == nil {
		return errors.New("transport has no client")
	}
	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get QR channel: %w", err)
		}
		go t.consumeQR(qrChan)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	t.log.Infof("Connecting to WhatsApp")
	return nil
}

// Stop disconnects the client.
func (t *Transport) Stop() {
	if client := t.getClient(); client != nil {
		client.Disconnect()
	}
	t.setReady(false)
}

func (t *Transport) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for evt := range ch {
		switch evt.Event {
		case "code":
			t.showQR(evt.Code)
		case "success":
			t.log.Infof("Device paired")
			t.mu.Lock()
			t.qr = ""
			t.mu.Unlock()
		default:
			t.log.Warnf("QR channel event: %s", evt.Event)
		}
	}
}

func (t *Transport) showQR(code string) {
	if t.opts.TerminalQR && term.IsTerminal(int(os.Stdout.Fd())) {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
	}
	img, err := QRDataURL(code)
	if err != nil {
		t.log.Errorf("Failed to render QR code: %v", err)
		return
	}
	t.mu.Lock()
	t.qr = img
	t.mu.Unlock()
	t.log.Infof("QR code received")
	if t.OnQR != nil {
		t.OnQR(img)
	}
}

// QRDataURL renders a pairing code as a PNG data URL.
func QRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func (t *Transport) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		t.mu.Lock()
		t.ready = true
		t.qr = ""
		t.mu.Unlock()
		t.log.Infof("WhatsApp connected and ready")
		if t.OnReady != nil {
			t.OnReady()
		}
	case *events.Disconnected:
		t.markDisconnected("connection lost")
	case *events.StreamReplaced:
		t.markDisconnected("stream replaced by another client")
	case *events.LoggedOut:
		t.markDisconnected(fmt.Sprintf("logged out (%s)", v.Reason))
		go t.relink()
	case *events.Message:
		in, ok := convertMessage(v, t.phoneFor)
		if !ok {
			return
		}
		if t.OnMessage != nil {
			t.OnMessage(in)
		}
	}
}

func (t *Transport) markDisconnected(reason string) {
	t.mu.Lock()
	t.ready = false
	t.qr = ""
	t.mu.Unlock()
	t.log.Warnf("WhatsApp disconnected: %s", reason)
	if t.OnDisconnected != nil {
		t.OnDisconnected()
	}
}

// relink replaces a logged-out device with a fresh one and restarts pairing.
func (t *Transport) relink() {
	if t.container == nil {
		return
	}
	t.getClient().Disconnect()
	device := t.container.NewDevice()
	t.setClient(device)
	if err := t.connect(t.runContext()); err != nil {
		t.log.Errorf("Failed to restart pairing: %v", err)
	}
}

// phoneFor maps a hidden-user (LID) JID to its phone-number JID when the
// mapping is known.
func (t *Transport) phoneFor(jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return jid
	}
	client := t.getClient()
	if client == nil || client.Store == nil || client.Store.LIDs == nil {
		return jid
	}
	pn, err := client.Store.LIDs.GetPNForLID(t.runContext(), jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

func (t *Transport) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// CurrentQR returns the latest pairing image, or "" once paired.
func (t *Transport) CurrentQR() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.qr
}

func (t *Transport) setReady(ready bool) {
	t.mu.Lock()
	t.ready = ready
	t.mu.Unlock()
}

var nonDigit = regexp.MustCompile(`[^0-9]`)

// SanitizePhone removes all non-numeric characters from a phone number.
func SanitizePhone(phone string) string {
	return nonDigit.ReplaceAllString(phone, "")
}

// Resolve looks up the WhatsApp account registered for phone.
func (t *Transport) Resolve(ctx context.Context, phone string) (types.JID, error) {
	digits := SanitizePhone(phone)
	if digits == "" {
		return types.JID{}, fmt.Errorf("%w: %q", ErrBadNumber, phone)
	}
	if !t.IsReady() {
		return types.JID{}, ErrNotReady
	}
	resp, err := t.getClient().IsOnWhatsApp(ctx, []string{"+" + digits})
	if err != nil {
		return types.JID{}, fmt.Errorf("resolve %s: %w", digits, err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return types.JID{}, fmt.Errorf("%w: %s", ErrNotOnWhatsApp, digits)
	}
	return resp[0].JID, nil
}

// SendText sends a plain text message to jid.
func (t *Transport) SendText(ctx context.Context, jid types.JID, text string) error {
	return t.send(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
}

// Reply answers an inbound message, quoting it.
func (t *Transport) Reply(ctx context.Context, in Inbound, text string) error {
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String(text),
	}}
	if in.ID != "" && in.raw != nil {
		msg.ExtendedTextMessage.ContextInfo = &waE2E.ContextInfo{
			StanzaID:      proto.String(in.ID),
			Participant:   proto.String(in.Sender.ToNonAD().String()),
			QuotedMessage: in.raw,
		}
	}
	return t.send(ctx, in.Chat, msg)
}

func (t *Transport) send(ctx context.Context, jid types.JID, msg *waE2E.Message) error {
	if !t.IsReady() {
		return ErrNotReady
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}
	if _, err := t.getClient().SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send to %s: %w", jid, err)
	}
	return nil
}
