package chat

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"studiolink/internal/protocol"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
)

// Client is a middleman between one websocket connection and the hub.
// The transport identity comes from the JWT at upgrade time; the client
// still has to send the application-level auth frame before any business
// frame is accepted, matching what every portal frontend does.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	UserID string
	Role   string
	authed bool
}

// ReadPump pumps frames from the websocket to the hub.
//
// The first accepted frame must be {"type":"auth"}. Business frames that
// arrive before it are dropped. Every fan-out frame is stamped server-side
// (id, sender, timestamp) so clients cannot spoof each other.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws read error: %v", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("ws dropped malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case protocol.FrameTypeAuth:
			// Identity is already bound by the JWT; the frame just
			// activates the channel.
			c.authed = true

		case protocol.FrameTypeChatMessage:
			if !c.authed {
				continue
			}
			var frame protocol.ChatMessageFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				log.Printf("ws dropped malformed chat frame: %v", err)
				continue
			}
			frame.ID = uuid.NewString()
			frame.SenderID = c.UserID
			frame.SenderRole = c.Role
			frame.Timestamp = time.Now().UTC().Format(time.RFC3339)
			c.publish(&frame)

		case protocol.FrameTypeTyping:
			if !c.authed {
				continue
			}
			var frame protocol.TypingFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				log.Printf("ws dropped malformed typing frame: %v", err)
				continue
			}
			frame.SenderID = c.UserID
			frame.SenderRole = c.Role
			c.publish(&frame)

		default:
			// Unknown type: drop, never disconnect over it.
		}
	}
}

func (c *Client) publish(frame interface{}) {
	payload, err := json.Marshal(frame)
	if err != nil {
		// Marshal of our own structs failing means something is badly
		// wrong server-side; tell the client with the internal-error
		// close code so it surfaces the right status.
		log.Printf("ws marshal failed: %v", err)
		c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.CloseInternalError, "internal server error"),
			time.Now().Add(writeWait))
		return
	}
	c.Hub.Publish <- payload
}

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
