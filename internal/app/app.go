// Package app wires the console's components into one process context with
// a start/stop lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsapp-console/internal/bot"
	"whatsapp-console/internal/completion"
	"whatsapp-console/internal/config"
	"whatsapp-console/internal/conversation"
	"whatsapp-console/internal/credentials"
	"whatsapp-console/internal/gateway"
	"whatsapp-console/internal/prompts"
	"whatsapp-console/internal/schedule"
	"whatsapp-console/internal/session"
	"whatsapp-console/internal/whatsapp"
)

// App holds every long-lived component. Nothing here is package-global.
type App struct {
	Config *config.Config
	Log    waLog.Logger

	Credentials   *credentials.Store
	Sessions      *session.Registry
	Tokens        *session.Issuer
	Files         *prompts.Files
	Conversations *conversation.Log
	Schedules     *schedule.Store
	Scheduler     *schedule.Scheduler
	Responder     *completion.Responder
	Bot           *bot.Handler
	WhatsApp      *whatsapp.Transport
	Gateway       *gateway.Server
}

// New validates cfg, prepares the data directories and default files, and
// opens the WhatsApp device store.
func New(ctx context.Context, cfg *config.Config, log waLog.Logger) (*App, error) {
	a, err := build(cfg, log)
	if err != nil {
		return nil, err
	}
	wa, err := whatsapp.Open(ctx, cfg.WhatsAppDB, whatsapp.Options{
		SendRate:   cfg.SendRate,
		SendBurst:  cfg.SendBurst,
		TerminalQR: true,
	}, log.Sub("WhatsApp"))
	if err != nil {
		return nil, err
	}
	a.attach(wa)
	return a, nil
}

// build creates everything that does not touch the network.
func build(cfg *config.Config, log waLog.Logger) (*App, error) {
	if log == nil {
		log = waLog.Noop
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log}

	a.Files = prompts.New(cfg.DataDir, log.Sub("Files"))
	if err := a.Files.EnsureDefaults(); err != nil {
		return nil, err
	}
	a.Credentials = credentials.New(cfg.Path(prompts.CredentialsFile), log.Sub("Auth"))
	if err := a.Credentials.EnsureDefault(); err != nil {
		return nil, err
	}
	conv, err := conversation.Open(cfg.Path(prompts.ConversationsFile), log.Sub("Conversations"))
	if err != nil {
		return nil, err
	}
	a.Conversations = conv
	sched, err := schedule.NewStore(cfg.ScheduleDir, cfg.Location(), log.Sub("Schedules"))
	if err != nil {
		return nil, err
	}
	a.Schedules = sched

	a.Sessions = session.NewRegistry()
	if cfg.SessionSecret == "" {
		log.Warnf("SESSION_SECRET not set; console sessions will not survive a restart")
	}
	tokens, err := session.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	a.Tokens = tokens

	a.Responder = completion.NewResponder(NewCompleter(cfg), a.Files, cfg.BotName, cfg.AITimeout, log.Sub("Completion"))

	if err := os.MkdirAll(cfg.PublicDir, 0o755); err != nil {
		return nil, fmt.Errorf("create public dir: %w", err)
	}
	return a, nil
}

// NewCompleter returns the completion backend selected by cfg.Provider.
func NewCompleter(cfg *config.Config) completion.Completer {
	if cfg.Provider == config.ProviderOllama {
		return completion.NewOllama(cfg.OllamaURL, cfg.Model)
	}
	return completion.NewOpenAI(cfg.APIKey, cfg.AIBaseURL, cfg.Model)
}

// transport is what the scheduler, bot and gateway need from WhatsApp.
type transport interface {
	schedule.Transport
	bot.Sender
	gateway.Status
}

func (a *App) attach(wa *whatsapp.Transport) {
	a.WhatsApp = wa
	a.wire(wa)
}

func (a *App) wire(t transport) {
	a.Bot = bot.NewHandler(a.Responder, t, a.Conversations, a.Log.Sub("Bot"))
	a.Scheduler = schedule.NewScheduler(a.Schedules, t, a.Config.ScheduleInterval, a.Log.Sub("Scheduler"))
	a.Scheduler.Recorder = a.Conversations
	a.Gateway = gateway.New(gateway.Deps{
		Credentials:   a.Credentials,
		Sessions:      a.Sessions,
		Tokens:        a.Tokens,
		Files:         a.Files,
		Schedules:     a.Schedules,
		Conversations: a.Conversations,
		WhatsApp:      t,
		PublicDir:     a.Config.PublicDir,
		Log:           a.Log.Sub("Gateway"),
	})
}

// Run starts WhatsApp, the scheduler and the HTTP server, and blocks until
// ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.WhatsApp != nil {
		a.WhatsApp.OnQR = func(img string) { a.Gateway.Broadcast("qr", img) }
		a.WhatsApp.OnReady = func() { a.Gateway.Broadcast("ready", nil) }
		a.WhatsApp.OnDisconnected = func() { a.Gateway.Broadcast("disconnected", nil) }
		a.WhatsApp.OnMessage = func(in whatsapp.Inbound) { go a.Bot.Handle(ctx, in) }
		if err := a.WhatsApp.Start(ctx); err != nil {
			a.Log.Errorf("Failed to start WhatsApp: %v", err)
		}
		defer a.WhatsApp.Stop()
	}

	go a.Scheduler.Run(ctx)

	ln, err := net.Listen("tcp", ":"+a.Config.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", a.Config.Port, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.Log.Infof("Console listening on http://localhost:%s", portOf(ln))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.Log.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Gateway.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func portOf(ln net.Listener) string {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return fmt.Sprint(addr.Port)
	}
	return ln.Addr().String()
}
