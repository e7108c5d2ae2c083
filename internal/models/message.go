package models

// Message is an immutable conversation message. Sender display fields are
// denormalized at send time so consumers never need a second lookup.
type Message struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       int     `json:"sender_id"`
	SenderName     string  `json:"sender_name"`
	SenderEmail    string  `json:"sender_email"`
	Content        string  `json:"content"`
	Timestamp      float64 `json:"timestamp"`
	CreatedAt      string  `json:"created_at"`
}
