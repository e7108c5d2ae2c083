package models

// Inbound frame types accepted from clients.
const (
	FrameMessage = "message"
	FrameTyping  = "typing"
	FrameRead    = "read"
)

// Outbound event types.
const (
	EventEstablished = "connection_established"
	EventMessage     = "message"
	EventTyping      = "typing"
	EventError       = "error"
)

// InboundFrame is a decoded client command.
type InboundFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
}

// MessageEvent carries a full message to every session in the conversation.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

// TypingEvent is the advisory typing indicator broadcast.
type TypingEvent struct {
	Type     string `json:"type"`
	UserID   int    `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// NoticeEvent covers connection_established and error frames, which carry a
// human-readable message string.
type NoticeEvent struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}
