package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
)

// Frame is one event on the socket. Frames carrying Ack expect a single
// {"event":"ack","ack":n,"data":...} reply.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int            `json:"ack,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   *int   `json:"ack,omitempty"`
}

type conn struct {
	id   string
	ws   *websocket.Conn
	log  waLog.Logger
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func newConn(id string, ws *websocket.Conn, log waLog.Logger) *conn {
	return &conn{id: id, ws: ws, log: log, done: make(chan struct{})}
}

func (c *conn) write(f outFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *conn) emit(event string, data any) error {
	return c.write(outFrame{Event: event, Data: data})
}

func (c *conn) ack(id int, data any) error {
	return c.write(outFrame{Event: "ack", Data: data, Ack: &id})
}

func (c *conn) readLoop(dispatch func(*conn, Frame)) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnf("Read error on %s: %v", c.id, err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(message, &f); err != nil || f.Event == "" {
			c.log.Warnf("Ignoring malformed frame from %s", c.id)
			continue
		}
		dispatch(c, f)
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
