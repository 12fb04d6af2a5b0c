// Package gateway serves the operator console: static assets over HTTP and
// a WebSocket carrying named JSON events.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsapp-console/internal/conversation"
	"whatsapp-console/internal/prompts"
	"whatsapp-console/internal/schedule"
	"whatsapp-console/internal/session"
)

// Authenticator checks console credentials.
type Authenticator interface {
	Validate(username, password string) bool
}

// Status reports the WhatsApp link state.
type Status interface {
	IsReady() bool
	CurrentQR() string
}

// Deps are the components commands operate on.
type Deps struct {
	Credentials   Authenticator
	Sessions      *session.Registry
	Tokens        *session.Issuer
	Files         *prompts.Files
	Schedules     *schedule.Store
	Conversations *conversation.Log
	WhatsApp      Status
	PublicDir     string
	Log           waLog.Logger
}

// Server owns the connection table. All other state lives in Deps.
type Server struct {
	deps     Deps
	log      waLog.Logger
	upgrader websocket.Upgrader
	router   *gin.Engine
	commands map[string]command

	mu    sync.RWMutex
	conns map[string]*conn
}

func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = waLog.Noop
	}
	s := &Server{
		deps: deps,
		log:  deps.Log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make(map[string]*conn),
	}
	s.commands = s.commandTable()
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler for the console.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"whatsapp":  s.deps.WhatsApp != nil && s.deps.WhatsApp.IsReady(),
			"sessions":  s.deps.Sessions.Len(),
			"timestamp": time.Now(),
		})
	})
	router.GET("/socket", s.handleSocket)

	if s.deps.PublicDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.deps.PublicDir))))
	}
	return router
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		s.log.Debugf("%s %s %d %v", ctx.Request.Method, ctx.Request.URL.Path, ctx.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleSocket(ctx *gin.Context) {
	ws, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	c := newConn(uuid.NewString(), ws, s.log)

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.log.Infof("Console connected: %s", c.id)

	go c.pingLoop()
	c.readLoop(s.dispatch)

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.deps.Sessions.Revoke(c.id)
	c.close()
	s.log.Infof("Console disconnected: %s", c.id)
}

// Broadcast pushes an event to every authenticated connection.
func (s *Server) Broadcast(event string, data any) {
	s.deps.Sessions.Each(func(sess session.Session) {
		s.mu.RLock()
		c := s.conns[sess.ConnectionID]
		s.mu.RUnlock()
		if c == nil {
			return
		}
		if err := c.emit(event, data); err != nil {
			s.log.Warnf("Failed to push %s to %s: %v", event, c.id, err)
		}
	})
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// CloseAll closes every open socket.
func (s *Server) CloseAll() {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}
