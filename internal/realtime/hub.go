// Package realtime fans hunt messages out to connected clients by group.
package realtime

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

const DefaultQueueSize = 256

// Disconnect reasons reported by Client.Reason.
const (
	ReasonClosed   = "closed"
	ReasonOverflow = "overflow"
)

// Client is one connection's subscription. Messages for all of its groups
// arrive in publish order on Outbound.
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID

	groups   map[string]bool
	outbound chan Message
	done     chan struct{}
	once     sync.Once
	reason   string
	log      *logger.Logger
}

// Outbound is closed once the client is disconnected.
func (c *Client) Outbound() <-chan Message { return c.outbound }

func (c *Client) Done() <-chan struct{} { return c.done }

// Reason reports why the client was disconnected. Empty while connected.
func (c *Client) Reason() string {
	select {
	case <-c.done:
		return c.reason
	default:
		return ""
	}
}

type Hub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	queueSize     int
	subscriptions map[string]map[*Client]bool
}

// NewHub builds a hub whose clients buffer up to queueSize messages; zero
// means DefaultQueueSize.
func NewHub(log *logger.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		logger:        log.With("component", "Hub"),
		queueSize:     queueSize,
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (hub *Hub) NewClient(userID uuid.UUID) *Client {
	id := uuid.New()
	return &Client{
		ID:       id,
		UserID:   userID,
		groups:   make(map[string]bool),
		outbound: make(chan Message, hub.queueSize),
		done:     make(chan struct{}),
		log:      hub.logger.With("client_id", id),
	}
}

func (hub *Hub) Join(client *Client, group string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	group = strings.TrimSpace(group)
	if group == "" || client.Reason() != "" {
		return
	}
	client.groups[group] = true

	clients, exists := hub.subscriptions[group]
	if !exists {
		clients = make(map[*Client]bool)
		hub.subscriptions[group] = clients
	}
	clients[client] = true

	hub.logger.Debug("client joined group", "client_id", client.ID, "group", group)
}

func (hub *Hub) Leave(client *Client, group string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	group = strings.TrimSpace(group)
	if group == "" {
		return
	}
	delete(client.groups, group)
	hub.unsubscribe(client, group)
	hub.logger.Debug("client left group", "client_id", client.ID, "group", group)
}

func (hub *Hub) unsubscribe(client *Client, group string) {
	if subMap, ok := hub.subscriptions[group]; ok {
		delete(subMap, client)
		if len(subMap) == 0 {
			delete(hub.subscriptions, group)
		}
	}
}

// Groups returns the number of groups with at least one client.
func (hub *Hub) Groups() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions)
}

// Publish queues msg for every client in its group without blocking. A
// client whose queue is full is disconnected so that it reconnects and
// replays instead of holding up the others.
func (hub *Hub) Publish(msg Message) {
	if msg.Group == "" {
		return
	}
	m := observability.Current()

	var overflowed []*Client
	hub.mu.RLock()
	for c := range hub.subscriptions[msg.Group] {
		select {
		case c.outbound <- msg:
			m.IncHubDelivered(string(msg.Type))
		default:
			overflowed = append(overflowed, c)
		}
	}
	hub.mu.RUnlock()

	for _, c := range overflowed {
		hub.logger.Warn("disconnecting client; outbound queue full", "client_id", c.ID, "group", msg.Group, "type", msg.Type)
		m.IncHubDropped(ReasonOverflow)
		hub.disconnect(c, ReasonOverflow)
	}
}

// CloseClient leaves every group and closes the client's queue.
func (hub *Hub) CloseClient(client *Client) {
	hub.disconnect(client, ReasonClosed)
}

func (hub *Hub) disconnect(client *Client, reason string) {
	client.once.Do(func() {
		hub.mu.Lock()
		for g := range client.groups {
			hub.unsubscribe(client, g)
		}
		client.groups = make(map[string]bool)
		client.reason = reason
		close(client.done)
		close(client.outbound)
		hub.mu.Unlock()
		hub.logger.Debug("client disconnected", "client_id", client.ID, "reason", reason)
	})
}
