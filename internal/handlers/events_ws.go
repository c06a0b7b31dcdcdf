package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minewatch/minewatch/internal/database"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = wsPongWait * 9 / 10
	wsSendBuffer   = 64
)

// EventMessage is the frame pushed to websocket subscribers.
type EventMessage struct {
	Type  string            `json:"type"`
	Event database.EventLog `json:"event"`
}

type eventClient struct {
	send  chan []byte
	types map[database.EventType]bool
}

func (c *eventClient) wants(t database.EventType) bool {
	return len(c.types) == 0 || c.types[t]
}

// EventHub streams persisted pipeline events to websocket clients. It is
// registered as a sink of the event log.
type EventHub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	closed  bool
}

// NewEventHub creates a hub. checkOrigin may be nil to accept any origin.
func NewEventHub(checkOrigin func(r *http.Request) bool) *EventHub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*eventClient]struct{}),
	}
}

// SetupRoutes configures the websocket route
func (h *EventHub) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/events", h.HandleWebSocket)
}

// Publish fans an event out to subscribers. A client whose buffer is full
// misses the event rather than blocking the pipeline.
func (h *EventHub) Publish(entry database.EventLog) {
	data, err := json.Marshal(EventMessage{Type: "event", Event: entry})
	if err != nil {
		log.Printf("EventHub: Failed to encode event %d: %v", entry.ID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(entry.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Printf("EventHub: Dropping %s event for slow client", entry.Type)
		}
	}
}

// ClientCount returns the number of connected subscribers
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection and streams events until the
// client goes away. ?types=A,B restricts the stream to those event types.
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("EventHub: Failed to upgrade WebSocket: %v", err)
		return
	}

	client := &eventClient{send: make(chan []byte, wsSendBuffer)}
	if raw := r.URL.Query().Get("types"); raw != "" {
		client.types = make(map[database.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			client.types[database.EventType(strings.TrimSpace(t))] = true
		}
	}

	if !h.register(client) {
		conn.Close()
		return
	}
	log.Printf("EventHub: Client connected from %s", r.RemoteAddr)

	done := make(chan struct{})
	go h.writePump(conn, client, done)
	h.readPump(conn)

	h.unregister(client)
	close(done)
	conn.Close()
	log.Printf("EventHub: Client %s disconnected", r.RemoteAddr)
}

// readPump discards client frames and returns once the connection fails.
func (h *EventHub) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("EventHub: WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (h *EventHub) writePump(conn *websocket.Conn, client *eventClient, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (h *EventHub) register(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *EventHub) unregister(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
