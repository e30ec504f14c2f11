package protocol

// Frame type discriminators. Every frame on the realtime channel carries
// one of these in its "type" field; anything else is dropped by the reader.
const (
	FrameTypeAuth        = "auth"
	FrameTypeChatMessage = "chat_message"
	FrameTypeTyping      = "typing"
)

// Close codes beyond the RFC 6455 set. 4500 is what the server sends when
// it hit an internal error; clients still retry on it, they just surface a
// different status message.
const (
	CloseInternalError = 4500
)

// Envelope is the minimal decode target for an inbound frame: just enough
// to read the discriminator. The raw bytes are re-decoded into the concrete
// frame by whoever handles that type.
type Envelope struct {
	Type string `json:"type"`
}

// AuthFrame is the first client→server frame after transport open. It binds
// the channel to a user identity. The server ignores business frames until
// it has seen one.
type AuthFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// ChatMessageFrame carries one chat message for a project conversation.
// Client→server frames leave ID/SenderID/SenderRole/Timestamp empty; the
// server stamps them before fan-out.
type ChatMessageFrame struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	ProjectID  string `json:"projectId"`
	Message    string `json:"message"`
	SenderID   string `json:"senderId,omitempty"`
	SenderRole string `json:"senderRole,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// TypingFrame signals that a user started or stopped typing in a project
// conversation. Never persisted.
type TypingFrame struct {
	Type       string `json:"type"`
	ProjectID  string `json:"projectId"`
	SenderID   string `json:"senderId,omitempty"`
	SenderRole string `json:"senderRole,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}
