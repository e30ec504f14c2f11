package chat

import "time"

// ---------------------------------------------
// Database & API models
// ---------------------------------------------

// Message is the persisted form of a project conversation message.
// Realtime pushes are ephemeral; this row, created via the REST endpoint,
// is the source of truth for history reloads.
type Message struct {
	ID         int       `json:"id"`
	ProjectID  int       `json:"projectId"`
	SenderID   int       `json:"senderId"`
	SenderRole string    `json:"senderRole"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}
