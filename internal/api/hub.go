package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cazino/engine/internal/metrics"
	"github.com/cazino/engine/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

type client struct {
	conn     *websocket.Conn
	marketID string
	send     chan []byte
}

type roomMessage struct {
	marketID string
	data     []byte
}

// Hub fans events out to the WebSocket clients of each market. A client
// only receives events for the market it connected to.
type Hub struct {
	rooms      map[string]map[*client]struct{}
	broadcast  chan roomMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub creates a hub. allowedOrigin "*" or "" accepts any origin.
func NewHub(allowedOrigin string, log *slog.Logger) *Hub {
	h := &Hub{
		rooms:      make(map[string]map[*client]struct{}),
		broadcast:  make(chan roomMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
	return h
}

// Run owns the room table until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for marketID, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
				delete(h.rooms, marketID)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			room := h.rooms[c.marketID]
			if room == nil {
				room = make(map[*client]struct{})
				h.rooms[c.marketID] = room
			}
			room[c] = struct{}{}
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			h.log.Info("ws client connected", "market_id", c.marketID, "room_size", len(room))

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[msg.marketID] {
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer: drop it rather than stall the room.
					h.remove(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops c from its room. Callers hold mu.
func (h *Hub) remove(c *client) {
	room, ok := h.rooms[c.marketID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.marketID)
	}
	metrics.WebSocketClients.Dec()
}

// Clients returns how many clients are connected to a market.
func (h *Hub) Clients(marketID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[marketID])
}

// Publish queues ev for the clients of its market. It never blocks: when
// the queue is full the event is dropped.
func (h *Hub) Publish(_ context.Context, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", ev.Type, err)
	}
	select {
	case h.broadcast <- roomMessage{marketID: ev.MarketID, data: data}:
	default:
		h.log.Warn("ws broadcast queue full, dropping event", "type", ev.Type, "market_id", ev.MarketID)
	}
	return nil
}

// ServeWS upgrades the request and subscribes the connection to marketID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, marketID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, marketID: marketID, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump keeps the read deadline fresh and detects disconnects.
// Clients have nothing to say, so incoming messages are discarded.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection. It also pings so
// proxies keep the connection open.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ notify.Publisher = (*Hub)(nil)
