package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/guild-achievements/internal/domain"
)

// Message types
const (
	MessageTypeProgress    = domain.EventAchievementProgress
	MessageTypeComplete    = domain.EventAchievementComplete
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type        string    `json:"type"`
	CommunityID string    `json:"community_id,omitempty"`
	MemberID    string    `json:"member_id,omitempty"`
	Data        any       `json:"data,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hub maintains the set of active clients and fans achievement events out
// to the clients subscribed to the event's community
type Hub struct {
	// Subscribed clients by community ID, mapped to their member filter
	// ("" receives every member's events)
	clients map[string]map[*Client]string

	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client      *Client
	communityID string
	memberID    string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]string),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for communityID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, communityID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.communityID]; !ok {
				h.clients[req.communityID] = make(map[*Client]string)
			}
			h.clients[req.communityID][req.client] = req.memberID
			h.mu.Unlock()
			h.logger.Debug("client subscribed",
				"client_id", req.client.id,
				"community_id", req.communityID,
				"member_id", req.memberID,
			)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.communityID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.communityID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "community_id", req.communityID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the community's subscribers
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client, memberID := range h.clients[message.CommunityID] {
		if memberID != "" && memberID != message.MemberID {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastProgress forwards an achievementProgress event to subscribers
func (h *Hub) BroadcastProgress(_ context.Context, event domain.ProgressEvent) {
	h.enqueue(&Message{
		Type:        MessageTypeProgress,
		CommunityID: event.CommunityID,
		MemberID:    event.MemberID,
		Data:        event,
		Timestamp:   time.Now(),
	})
}

// BroadcastCompletion forwards an achievementComplete event to subscribers
func (h *Hub) BroadcastCompletion(_ context.Context, event domain.CompletionEvent) {
	h.enqueue(&Message{
		Type:        MessageTypeComplete,
		CommunityID: event.CommunityID,
		MemberID:    event.MemberID,
		Data:        event,
		Timestamp:   time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a community subscription, optionally limited
// to one member's events
func (h *Hub) Subscribe(client *Client, communityID, memberID string) {
	h.subscribe <- &subscriptionRequest{client: client, communityID: communityID, memberID: memberID}
}

// Unsubscribe removes a client from a community subscription
func (h *Hub) Unsubscribe(client *Client, communityID string) {
	h.unsubscribe <- &subscriptionRequest{client: client, communityID: communityID}
}

// GetSubscriberCount returns the number of subscribers for a community
func (h *Hub) GetSubscriberCount(communityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[communityID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
