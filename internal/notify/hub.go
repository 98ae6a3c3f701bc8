package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub maintains the set of active socket clients for push delivery and
// doubles as the PresenceRegistry the dispatcher consults. It replaces the
// ambient shared connection maps the surrounding platform used to keep.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	byUser     map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger

	// onConnect is invoked on every registration, e.g. to touch presence.
	onConnect func(userID string)
}

// Client represents one WebSocket connection bound to a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	rooms  map[string]bool
	logger *slog.Logger
}

// Message is the wire shape pushed to socket clients.
type Message struct {
	Type      string         `json:"type"`
	Room      string         `json:"room,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// roomMessage lets a client join or leave a room (e.g. the room of a call it
// is watching).
type roomMessage struct {
	Action string `json:"action"` // "join" or "leave"
	Room   string `json:"room"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// OnConnect registers a hook invoked whenever a client attaches.
func (h *Hub) OnConnect(fn func(userID string)) { h.onConnect = fn }

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true
			count := len(h.clients)
			h.mu.Unlock()
			if h.onConnect != nil {
				h.onConnect(client.userID)
			}
			h.logger.Info("socket connected", "user_id", client.userID, "client_count", count)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if peers := h.byUser[client.userID]; peers != nil {
		delete(peers, client)
		if len(peers) == 0 {
			delete(h.byUser, client.userID)
		}
	}
	close(client.send)
	h.logger.Info("socket disconnected", "user_id", client.userID, "client_count", len(h.clients))
}

// Connected reports whether userID has at least one live socket.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// SendToUser delivers msg to every socket of userID, returning how many
// sockets accepted it. Slow clients are dropped rather than awaited.
func (h *Hub) SendToUser(userID string, msg Message) int {
	msg.UserID = userID
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal socket message failed", "err", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for client := range h.byUser[userID] {
		if h.trySend(client, payload) {
			sent++
		}
	}
	return sent
}

// SendToRoom delivers msg to every socket that joined room.
func (h *Hub) SendToRoom(room string, msg Message) int {
	msg.Room = room
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal socket message failed", "err", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for client := range h.clients {
		if !client.rooms[room] {
			continue
		}
		if h.trySend(client, payload) {
			sent++
		}
	}
	return sent
}

// trySend must be called with h.mu held.
func (h *Hub) trySend(client *Client, payload []byte) bool {
	select {
	case client.send <- payload:
		return true
	default:
		delete(h.clients, client)
		if peers := h.byUser[client.userID]; peers != nil {
			delete(peers, client)
			if len(peers) == 0 {
				delete(h.byUser, client.userID)
			}
		}
		close(client.send)
		return false
	}
}

// Stats returns hub statistics for diagnostics endpoints.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]any{
		"total_clients":   len(h.clients),
		"connected_users": len(h.byUser),
	}
}

// ServeWS upgrades an authenticated request and attaches the socket to userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		rooms:  map[string]bool{},
		logger: h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// readPump pumps control messages from the socket to the hub.
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
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read failed", "err", err, "user_id", c.userID)
			}
			break
		}

		var msg roomMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Room == "" {
			continue
		}
		c.hub.mu.Lock()
		switch msg.Action {
		case "join":
			c.rooms[msg.Room] = true
		case "leave":
			delete(c.rooms, msg.Room)
		}
		c.hub.mu.Unlock()
	}
}

// writePump pumps messages from the hub to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
