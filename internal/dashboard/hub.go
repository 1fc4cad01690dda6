// Package dashboard serves a read-only operational view of the running
// connector framework: which venues are connected, the current mixed
// order book per instrument, per-venue balances, and recent order state
// transitions. The operational counters in internal/metrics are not
// part of this view; cmd/connectord serves them on its own Prometheus
// listener. It is adapted from the reference codebase's
// dashboard server (internal/api in the reference tree), keeping its
// WebSocket hub/client broadcast machinery largely as-is and replacing
// the market-making-specific snapshot/event types with this framework's
// own.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// venueMsg pairs a marshalled Event with the venue it originated from, so
// the hub can route it only to viewers subscribed to that venue. An empty
// venue (snapshots, process-wide events) always reaches every client.
type venueMsg struct {
	venue string
	data  []byte
}

// Hub manages WebSocket clients and routes events to them, filtered by
// each client's venue subscription.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan venueMsg
	mu         sync.RWMutex
	logger     *slog.Logger
}

// Client represents one connected WebSocket viewer. A client with a
// non-empty venues set only receives events scoped to those venues;
// an empty set receives every venue.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	venues map[string]struct{}
}

// wants reports whether evtVenue should be delivered to c.
func (c *Client) wants(evtVenue string) bool {
	if evtVenue == "" || len(c.venues) == 0 {
		return true
	}
	_, ok := c.venues[evtVenue]
	return ok
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan venueMsg, 256),
		logger:     logger.With("component", "dashboard-hub"),
	}
}

// Run drives the hub's main loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("client connected", "count", len(h.clients), "venues", client.venues)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "count", len(h.clients))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(msg.venue) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastEvent sends an event to every client subscribed to evt.Venue
// (or every client, if evt.Venue is empty).
func (h *Hub) BroadcastEvent(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- venueMsg{venue: evt.Venue, data: data}:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "venue", evt.Venue, "type", evt.Type)
	}
}

// BroadcastSnapshot wraps snapshot in a "snapshot"-typed event and sends
// it to every connected client, regardless of venue subscription.
func (h *Hub) BroadcastSnapshot(snapshot Snapshot) {
	h.BroadcastEvent(Event{Type: EventSnapshot, Timestamp: time.Now(), Data: snapshot})
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

func (c *Client) writePump() {
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

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}
		// The dashboard is read-only; any inbound client message is ignored.
	}
}

// NewClient registers conn with hub and starts its read/write pumps.
// venues restricts the client to events from those venues only; an empty
// slice subscribes it to every venue.
func NewClient(hub *Hub, conn *websocket.Conn, venues []string) *Client {
	var filter map[string]struct{}
	if len(venues) > 0 {
		filter = make(map[string]struct{}, len(venues))
		for _, v := range venues {
			filter[v] = struct{}{}
		}
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), venues: filter}
	client.hub.register <- client
	go client.writePump()
	go client.readPump()
	return client
}
