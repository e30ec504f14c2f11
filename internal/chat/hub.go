package chat

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// redisChannel carries every realtime frame between server instances.
// Frames embed their projectId; the feature layer on each client filters
// by conversation, and drops its own echoes by senderId.
const redisChannel = "portal-chat"

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte  // From Redis -> clients
	Register   chan *Client // Client finished the auth handshake
	Unregister chan *Client // Client left
	Publish    chan []byte  // Client frame -> Redis (or local loopback)
	redis      *redis.Client
}

// NewHub builds the fan-out hub. redisClient may be nil, in which case
// published frames loop back locally; single-instance deployments and
// tests run that way.
func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Publish:    make(chan []byte, 16),
		clients:    make(map[*Client]bool),
		redis:      redisClient,
	}
}

// Run owns h.clients; nothing else touches the map, so it needs no lock.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}

		case payload := <-h.Publish:
			if h.redis == nil {
				h.fanOut(payload)
				continue
			}
			if err := h.redis.Publish(context.Background(), redisChannel, payload).Err(); err != nil {
				log.Printf("redis publish failed: %v", err)
				// The frame is lost but the connection survives; the
				// durable REST path still carries the message.
			}

		case payload := <-h.broadcast:
			h.fanOut(payload)
		}
	}
}

func (h *Hub) fanOut(payload []byte) {
	for client := range h.clients {
		select {
		case client.Send <- payload:
		default:
			close(client.Send)
			delete(h.clients, client)
		}
	}
}

// SubscribeToRedis feeds frames published by other instances into the
// local fan-out. No-op without Redis.
func (h *Hub) SubscribeToRedis() {
	if h.redis == nil {
		return
	}
	pubsub := h.redis.Subscribe(context.Background(), redisChannel)
	ch := pubsub.Channel()

	for msg := range ch {
		h.broadcast <- []byte(msg.Payload)
	}
}
