package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"qms/waitlist-service/internal/models"

	"github.com/sirupsen/logrus"
)

const EventQueueStatus = "queue.status"

type Client struct {
	ID         string
	Send       chan []byte
	Subscribed bool
}

// Hub fans queue status snapshots out to connected display boards. It keeps
// the latest snapshot so a new client can be primed on subscribe.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	latest  []byte
	now     func() time.Time
	logger  logrus.FieldLogger
}

type Envelope struct {
	Type      string             `json:"type"`
	Payload   models.QueueStatus `json:"payload"`
	CreatedAt time.Time          `json:"created_at"`
}

type SubscribeMessage struct {
	Action string `json:"action"`
}

func New(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[string]*Client),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Subscribe toggles delivery for client. Subscribing queues the latest
// snapshot for it.
func (h *Hub) Subscribe(client *Client, subscribed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	client.Subscribed = subscribed
	if subscribed && h.latest != nil {
		h.deliver(client, h.latest)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// QueueChanged is called by the queue store under its lock, so it must
// never block.
func (h *Hub) QueueChanged(status models.QueueStatus) {
	payload, err := json.Marshal(Envelope{
		Type:      EventQueueStatus,
		Payload:   status,
		CreatedAt: h.now(),
	})
	if err != nil {
		h.logger.WithError(err).Error("encode queue status")
		return
	}
	h.Broadcast(payload)
}

func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = payload
	for _, client := range h.clients {
		if !client.Subscribed {
			continue
		}
		h.deliver(client, payload)
	}
}

func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		h.logger.WithField("client_id", client.ID).Warn("drop message for slow client")
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
