package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetcam/console/internal/stream"
)

var frameUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	clientSendBuffer   = 8
	clientWriteTimeout = 5 * time.Second
)

// framePayload is the envelope pushed to UI websocket clients. Data is
// base64-encoded by the JSON marshaller.
type framePayload struct {
	CameraID   int       `json:"camera_id"`
	Data       []byte    `json:"data"`
	ReceivedAt time.Time `json:"received_at"`
}

// frameClient owns one UI websocket connection. All writes go through
// the buffered send channel so a stalled client can never block the
// broadcaster.
type frameClient struct {
	conn *websocket.Conn
	send chan framePayload
}

// FrameHub fans frames from the upstream stream session out to any
// number of connected UI websocket clients. Broadcast is safe to use as
// the stream manager's frame callback: it never blocks and never calls
// back into the manager.
type FrameHub struct {
	mu      sync.Mutex
	clients map[*frameClient]struct{}
}

func NewFrameHub() *FrameHub {
	return &FrameHub{clients: make(map[*frameClient]struct{})}
}

// Broadcast queues one frame for every connected client. A client whose
// buffer is full misses the frame; video frames are disposable and the
// next one supersedes it.
func (h *FrameHub) Broadcast(f stream.Frame) {
	payload := framePayload{CameraID: f.CameraID, Data: f.Data, ReceivedAt: f.ReceivedAt}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// ClientCount reports the number of attached UI clients.
func (h *FrameHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the client to the hub until
// it disconnects.
func (h *FrameHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := frameUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] FrameHub: upgrade failed: %v", err)
		return
	}

	c := &frameClient{conn: conn, send: make(chan framePayload, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop drains the send buffer onto the socket. A write that cannot
// finish within the deadline counts as a dead client.
func (h *FrameHub) writeLoop(c *frameClient) {
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
		if err := c.conn.WriteJSON(payload); err != nil {
			h.remove(c)
			return
		}
	}
}

// readLoop discards inbound messages and observes the close; clients do
// not send application messages.
func (h *FrameHub) readLoop(c *frameClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// remove detaches a client. The send channel is closed under the lock
// so Broadcast can never write to a closed channel.
func (h *FrameHub) remove(c *frameClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Close drops every attached client.
func (h *FrameHub) Close() {
	h.mu.Lock()
	cs := make([]*frameClient, 0, len(h.clients))
	for c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.Unlock()

	for _, c := range cs {
		h.remove(c)
	}
}
