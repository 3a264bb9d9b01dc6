package proxy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/highlight"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 16 << 20
	sendBuffer     = 256
)

// client is one connected page.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	// stale is set when a message to this page was dropped; its highlights
	// are resent once its queue drains.
	stale atomic.Bool
}

// hub fans outbound messages to every connected page. It is the highlight
// sink for the proxy's engine.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	dropped atomic.Int64
	// resync sends a stale page the full highlight state.
	resync func(c *client)
}

func newHub() *hub {
	return &hub{clients: make(map[string]*client)}
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	return c
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// remove unregisters c and closes its send queue. It is safe to call twice.
func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// closeAll disconnects every page.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast queues msg for every page. A page that is not keeping up loses
// the message rather than stalling the pipeline.
func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, msg)
	}
}

// enqueue queues msg for c without blocking. The caller holds h.mu.
func (h *hub) enqueue(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.dropped.Add(1)
		if !c.stale.Swap(true) {
			debug.Warn("proxy", "client %s send buffer full, dropping messages until it catches up", c.id)
		}
	}
}

// sendTo queues msg for one page, if it is still connected.
func (h *hub) sendTo(c *client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		h.enqueue(c, msg)
	}
}

// catchUp resyncs c once it has drained its queue after dropping messages.
func (h *hub) catchUp(c *client) {
	if len(c.send) > 0 || h.resync == nil {
		return
	}
	if c.stale.CompareAndSwap(true, false) {
		debug.Log("proxy", "client %s caught up, resending highlights", c.id)
		h.resync(c)
	}
}

// clientSink delivers ops to a single page.
type clientSink struct {
	h *hub
	c *client
}

func (s clientSink) Emit(op highlight.Op) {
	msg, err := encode(MsgOp, op)
	if err != nil {
		debug.Error("proxy", "%v", err)
		return
	}
	s.h.sendTo(s.c, msg)
}

func (h *hub) publish(typ string, data any) {
	msg, err := encode(typ, data)
	if err != nil {
		debug.Error("proxy", "%v", err)
		return
	}
	h.broadcast(msg)
}

// Emit implements highlight.Sink.
func (h *hub) Emit(op highlight.Op) {
	h.publish(MsgOp, op)
}

var (
	_ highlight.Sink = (*hub)(nil)
	_ highlight.Sink = clientSink{}
)

// writePump writes queued messages and keepalive pings until the send queue
// is closed or a write fails.
func (c *client) writePump(h *hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			h.catchUp(c)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
