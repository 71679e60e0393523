package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsWriteWait bounds each frame write so a wedged peer ends its own write
// loop instead of pinning the goroutine.
const wsWriteWait = 10 * time.Second

// Controls is the slice of the playback controller a renderer client may
// drive over the socket. Everything else about audio state is read-only.
type Controls interface {
	SetLean(active bool) error
	SelectTrack(id string) error
}

// wsMessage is an inbound client message. Fields are pointers so absence and
// zero value stay distinguishable.
type wsMessage struct {
	Lean   *bool   `json:"lean,omitempty"`
	Select *string `json:"select,omitempty"`
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// WSHub is the renderer feed: every tick's state frame goes out to each
// connected client as JSON, and clients send the leaning level (and track
// selections) back in. Slow clients lose frames, never block the tick loop.
type WSHub struct {
	upgrader websocket.Upgrader
	controls Controls

	mu      sync.Mutex
	clients map[uuid.UUID]*wsClient
}

// NewWSHub creates a hub driving the given controls.
func NewWSHub(controls Controls) *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			// Renderers are browser clients on other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		controls: controls,
		clients:  make(map[uuid.UUID]*wsClient),
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends one state frame to every client.
func (h *WSHub) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws: marshal frame: %v", err)
		return
	}
	h.mu.Lock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			// client not keeping up, skip this frame
		}
	}
	h.mu.Unlock()
}

func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}

	c := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	log.Printf("ws: client %s connected (total: %d)", c.id, h.ClientCount())

	go h.writeLoop(c)
	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	close(c.send)
	conn.Close()
	log.Printf("ws: client %s disconnected (remaining: %d)", c.id, h.ClientCount())
}

func (h *WSHub) writeLoop(c *wsClient) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *WSHub) readLoop(c *wsClient) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("ws: client %s sent malformed message: %v", c.id, err)
			continue
		}
		if msg.Lean != nil {
			if err := h.controls.SetLean(*msg.Lean); err != nil {
				log.Printf("ws: set lean: %v", err)
			}
		}
		if msg.Select != nil {
			if err := h.controls.SelectTrack(*msg.Select); err != nil {
				log.Printf("ws: select %s: %v", *msg.Select, err)
			}
		}
	}
}
