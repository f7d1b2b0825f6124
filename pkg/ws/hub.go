package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket message types
const (
	MsgTypeInit           = "init"            // track snapshot on connect
	MsgTypePositionUpdate = "position_update" // new position sample
	MsgTypeEstimateUpdate = "estimate_update" // refreshed distance/ETA
	MsgTypeMissionStatus  = "mission_status"  // mission lifecycle change
	MsgTypeError          = "error"
)

// Message WebSocket message envelope
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client one WebSocket connection watching a single mission
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	missionID string
	send      chan []byte
}

// Hub WebSocket connection registry, keyed by mission
type Hub struct {
	logger     *zap.Logger
	clients    map[string]map[*Client]bool // missionID -> clients
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// snapshot provider called on connect, per mission
	getInitData func(missionID string) interface{}
}

// NewHub creates a hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetInitDataProvider sets the per-mission snapshot provider.
func (h *Hub) SetInitDataProvider(provider func(missionID string) interface{}) {
	h.getInitData = provider
}

// Run processes register/unregister events.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.missionID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.missionID] = set
			}
			set[client] = true
			total := len(set)
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected",
				zap.String("mission_id", client.missionID), zap.Int("mission_clients", total))

			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.missionID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					close(client.send)
					if len(set) == 0 {
						delete(h.clients, client.missionID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket client disconnected", zap.String("mission_id", client.missionID))
		}
	}
}

// sendInitData sends the mission snapshot to a freshly connected client.
func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		return
	}

	initData := h.getInitData(client.missionID)
	if initData == nil {
		return
	}

	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: initData})
	if err != nil {
		h.logger.Error("Failed to marshal init data", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("Failed to send init data, client buffer full")
	}
}

// BroadcastToMission sends a structured message to every client
// watching a mission. Slow consumers are dropped, never waited on.
func (h *Hub) BroadcastToMission(missionID, msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[missionID] {
		select {
		case client.send <- payload:
		default:
			// slow consumer, drop the connection
			close(client.send)
			delete(h.clients[missionID], client)
		}
	}
}

// ClientCount returns the number of connected clients across missions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

// NewClient creates a client bound to a mission.
func NewClient(hub *Hub, conn *websocket.Conn, missionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		missionID: missionID,
		send:      make(chan []byte, 256),
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister removes the client from the hub.
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// ReadPump drains inbound frames to keep the connection alive.
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// client messages are ignored; the channel is one-way
	}
}

// WritePump forwards queued messages to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
