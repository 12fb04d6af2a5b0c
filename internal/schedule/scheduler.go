package schedule

import (
	"context"
	"errors"
	"time"

	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsapp-console/internal/conversation"
)

// Transport is the part of the WhatsApp connection the scheduler needs.
type Transport interface {
	IsReady() bool
	Resolve(ctx context.Context, phone string) (types.JID, error)
	SendText(ctx context.Context, to types.JID, text string) error
}

// Recorder logs delivered messages to the conversation history.
type Recorder interface {
	RecordFrom(number, text string, author conversation.Author, dir conversation.Direction, origin string) (conversation.Record, error)
}

// TickResult summarises one scan.
type TickResult struct {
	Skipped bool // transport not ready, nothing scanned
	Due     int
	Sent    int
	Failed  int
}

// Scheduler periodically delivers due pending messages. Delivery failures
// leave the record pending, so it is retried on every following tick.
type Scheduler struct {
	Store     *Store
	Transport Transport
	Recorder  Recorder // optional
	Interval  time.Duration
	Location  *time.Location
	Now       func() time.Time
	Log       waLog.Logger

	// SendTimeout bounds resolve+send for a single record.
	SendTimeout time.Duration
}

// NewScheduler returns a scheduler using the store's zone and wall clock.
func NewScheduler(store *Store, transport Transport, interval time.Duration, log waLog.Logger) *Scheduler {
	if log == nil {
		log = waLog.Noop
	}
	return &Scheduler{
		Store:       store,
		Transport:   transport,
		Interval:    interval,
		Location:    store.Location(),
		Now:         time.Now,
		Log:         log,
		SendTimeout: 30 * time.Second,
	}
}

// Run ticks every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	s.Log.Infof("Scheduler started, interval %s, zone %s", s.Interval, s.Location)
	for {
		select {
		case <-ctx.Done():
			s.Log.Infof("Scheduler stopped")
			return
		case <-t.C:
			r := s.Tick(ctx)
			if r.Due > 0 {
				s.Log.Infof("Scheduler tick: %d due, %d sent, %d failed", r.Due, r.Sent, r.Failed)
			}
		}
	}
}

// Tick runs a single scan against the current time.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	var res TickResult
	if !s.Transport.IsReady() {
		s.Log.Debugf("WhatsApp not ready, skipping scheduled sends")
		res.Skipped = true
		return res
	}

	msgs, err := s.Store.List()
	if err != nil {
		s.Log.Errorf("Scheduler failed to list messages: %v", err)
		return res
	}

	now := s.Now()
	for _, m := range msgs {
		if ctx.Err() != nil {
			return res
		}
		if m.Status == StatusSent {
			continue
		}
		if !m.Complete() {
			s.Log.Warnf("Scheduled message %s is incomplete, skipping", m.Key)
			continue
		}
		at, err := m.Trigger(s.Location)
		if err != nil {
			s.Log.Warnf("Scheduled message %s: %v", m.Key, err)
			continue
		}
		if now.Before(at) {
			continue
		}

		res.Due++
		if err := s.deliver(ctx, m); err != nil {
			res.Failed++
			s.Log.Errorf("Failed to send scheduled message %s to %s: %v", m.Key, m.Recipient, err)
			continue
		}
		res.Sent++
	}
	return res
}

func (s *Scheduler) deliver(ctx context.Context, m Message) error {
	s.Log.Infof("Sending scheduled message %s to %s", m.Key, m.Recipient)

	sendCtx := ctx
	if s.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.SendTimeout)
		defer cancel()
	}

	jid, err := s.Transport.Resolve(sendCtx, m.Recipient)
	if err != nil {
		return err
	}
	if err := s.Transport.SendText(sendCtx, jid, m.Body); err != nil {
		return err
	}

	if err := s.Store.MarkSent(m.Key, s.Now()); err != nil {
		if errors.Is(err, ErrAlreadySent) {
			return nil
		}
		// delivered but not marked: the next tick will send it again
		return err
	}
	s.Log.Infof("Scheduled message sent to %s", m.Recipient)

	if s.Recorder != nil {
		if _, err := s.Recorder.RecordFrom(m.Recipient, m.Body, conversation.AuthorBot, conversation.Sent, conversation.OriginScheduled); err != nil {
			s.Log.Warnf("Failed to log scheduled message %s: %v", m.Key, err)
		}
	}
	return nil
}
