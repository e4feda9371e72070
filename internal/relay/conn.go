package relay

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petervdpas/parley/internal/metrics"
	"github.com/petervdpas/parley/internal/proto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 << 10
	defaultOutbuf  = 256
	closeQueueFull = websocket.CloseTryAgainLater
)

// conn is one participant websocket. Deliver only queues; a single write
// pump owns the socket's write side.
type conn struct {
	ws   *websocket.Conn
	ip   string
	id   atomic.Value // session id, set once the hub has registered us
	send chan proto.Message

	once      sync.Once
	done      chan struct{}
	closeCode int
	closeText string
}

func newConn(ws *websocket.Conn, ip string, buf int) *conn {
	if buf <= 0 {
		buf = defaultOutbuf
	}
	return &conn{
		ws:   ws,
		ip:   ip,
		send: make(chan proto.Message, buf),
		done: make(chan struct{}),
	}
}

// Deliver implements Outbox. A full queue closes the connection: a
// participant that cannot keep up is disconnected rather than silently
// missing signaling frames.
func (c *conn) Deliver(m proto.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	case <-c.done:
		return false
	default:
		log.Printf("RELAY: session %s (%s) is not keeping up, disconnecting", c.sessionID(), c.ip)
		metrics.SlowConsumers.Inc()
		c.close(closeQueueFull, "outbound queue full")
		return false
	}
}

func (c *conn) setSessionID(id string) { c.id.Store(id) }

// sessionID is empty until the welcome has been queued.
func (c *conn) sessionID() string {
	id, _ := c.id.Load().(string)
	return id
}

// close asks the write pump to send a close frame and shut the socket. The
// first caller's code wins.
func (c *conn) close(code int, text string) {
	c.once.Do(func() {
		c.closeCode, c.closeText = code, text
		close(c.done)
	})
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case m := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(m); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			if c.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}
