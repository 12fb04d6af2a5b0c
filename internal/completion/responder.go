package completion

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// TrainingSource supplies the current training prompt.
type TrainingSource interface {
	Training() string
}

// Responder turns an inbound message into the bot's reply.
type Responder struct {
	Completer Completer
	Training  TrainingSource
	Guard     *Guard
	BotName   string
	Timeout   time.Duration
	Log       waLog.Logger

	flagged atomic.Int64
}

func NewResponder(c Completer, training TrainingSource, botName string, timeout time.Duration, log waLog.Logger) *Responder {
	if log == nil {
		log = waLog.Noop
	}
	return &Responder{
		Completer: c,
		Training:  training,
		Guard:     &Guard{Log: log},
		BotName:   botName,
		Timeout:   timeout,
		Log:       log,
	}
}

// SystemPrompt builds the instruction text sent ahead of every message.
func (r *Responder) SystemPrompt() string {
	var training string
	if r.Training != nil {
		training = r.Training.Training()
	}
	name := r.BotName
	if name == "" {
		name = "SalvoRadaBot"
	}
	identity := fmt.Sprintf("\n\nVocê é um assistente útil chamado %s. Seja amigável e direto nas respostas.", name)
	return training + identity + GuardRules
}

// Flagged returns how many messages matched an injection pattern.
func (r *Responder) Flagged() int64 { return r.flagged.Load() }

// Reply always returns text to send. Completion failures become one of the
// fallback messages.
func (r *Responder) Reply(ctx context.Context, text string) string {
	userText, flagged := r.Guard.Sanitize(text)
	if flagged {
		n := r.flagged.Add(1)
		r.Log.Infof("Answering flagged message under guard rules (%d so far)", n)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := r.Completer.Complete(ctx, r.SystemPrompt(), userText)
	if err != nil {
		kind := Classify(err)
		r.Log.Errorf("Completion failed (%s) after %v: %v", kind, time.Since(start).Round(time.Millisecond), err)
		return FallbackText(kind)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		r.Log.Warnf("Completion returned an empty reply")
		return GenericText
	}
	r.Log.Debugf("Completion took %v", time.Since(start).Round(time.Millisecond))
	return reply
}
