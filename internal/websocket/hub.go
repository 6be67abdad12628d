package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/model"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Client represents a WebSocket client
type Client struct {
	BatchID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by batch ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Broadcast messages to batch subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	BatchID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BatchID] == nil {
				h.clients[client.BatchID] = make(map[*Client]bool)
			}
			h.clients[client.BatchID][client] = true
			h.mu.Unlock()
			logger.Default().WithField(logger.FieldBatchID, client.BatchID).Debug("websocket client registered")

		case client := <-h.unregister:
			h.remove(client)
			logger.Default().WithField(logger.FieldBatchID, client.BatchID).Debug("websocket client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.BatchID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow reader
					h.dropLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

func (h *Hub) dropLocked(client *Client) {
	clients, ok := h.clients[client.BatchID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.BatchID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			close(client.Send)
		}
	}
	h.clients = make(map[string]map[*Client]bool)
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribers returns how many clients watch a batch.
func (h *Hub) Subscribers(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[batchID])
}

// BroadcastProgress sends a progress snapshot to all batch subscribers. Once
// every unit is accounted a complete message follows.
func (h *Hub) BroadcastProgress(phase model.Phase, unitID string, p model.BatchProgress) {
	h.send(p.BatchID, model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		BatchID:  p.BatchID,
		Phase:    phase,
		Progress: p,
		UnitID:   unitID,
	})
	if p.Total > 0 && p.Done+p.Failed >= p.Total {
		h.send(p.BatchID, model.WSCompleteMessage{
			Type:     model.WSMessageTypeComplete,
			BatchID:  p.BatchID,
			Phase:    phase,
			Progress: p,
		})
	}
}

// BroadcastError reports a failed unit to all batch subscribers
func (h *Hub) BroadcastError(batchID, unitID, code, message string) {
	h.send(batchID, model.WSErrorMessage{
		Type:    model.WSMessageTypeError,
		BatchID: batchID,
		UnitID:  unitID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// send never blocks the caller; updates are dropped when the hub is backed up.
func (h *Hub) send(batchID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Default().WithError(err).Error("failed to marshal websocket message")
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{BatchID: batchID, Message: data}:
	default:
		logger.Default().WithField(logger.FieldBatchID, batchID).Warn("websocket broadcast queue full, dropping update")
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, batchID string) {
	client := &Client{
		BatchID: batchID,
		Conn:    c,
		Send:    make(chan []byte, sendBuffer),
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Default().WithError(err).Warn("websocket read failed")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.Send <- pong:
			default:
			}
		}
	}
}
