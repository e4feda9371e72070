package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petervdpas/parley/internal/proto"
	"github.com/petervdpas/parley/internal/util"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// ErrKicked means the relay closed the connection on purpose; the caller
// must not reconnect.
var ErrKicked = errors.New("disconnected by relay")

// Conn is one signaling connection to the relay. Reads happen on an
// internal goroutine and surface on Messages; Send may be called from any
// goroutine.
type Conn struct {
	ws  *websocket.Conn
	id  string
	in  chan proto.Message
	err error

	writeMu sync.Mutex
	once    sync.Once
}

// Dial connects to the relay and waits for the welcome frame carrying the
// session id.
func Dial(ctx context.Context, url string) (*Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: util.DefaultConnectTimeout}
	ws, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(util.DefaultConnectTimeout))
	var hello proto.Message
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return nil, fmt.Errorf("waiting for welcome: %w", err)
	}
	if hello.Type != proto.TypeWelcome || hello.ID == "" {
		ws.Close()
		return nil, fmt.Errorf("expected welcome, got %q", hello.Type)
	}

	c := &Conn{ws: ws, id: hello.ID, in: make(chan proto.Message, 64)}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	// The relay pings; any frame extends the deadline.
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go c.readLoop()
	return c, nil
}

// ID is the session id the relay assigned to this connection.
func (c *Conn) ID() string { return c.id }

// Messages delivers inbound frames in order. It is closed when the
// connection ends; Err then tells why.
func (c *Conn) Messages() <-chan proto.Message { return c.in }

// Err is the reason the connection ended. Only valid after Messages closed.
func (c *Conn) Err() error { return c.err }

func (c *Conn) readLoop() {
	defer close(c.in)
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		var m proto.Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if websocket.IsCloseError(err, proto.CloseKicked) {
				c.err = ErrKicked
			} else {
				c.err = err
			}
			return
		}
		c.in <- m
	}
}

// Send writes one frame.
func (c *Conn) Send(m proto.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(m)
}

// Close sends a normal close frame and drops the connection.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
