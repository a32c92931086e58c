package chat

import "context"

// Delivery status values for locally originated messages. Server-sourced
// history entries carry no status and are implicitly sent.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Conversation is a 1:1 thread with another marketplace user. At most one
// exists per counterparty. ID stays 0 until the first server sync assigns
// the server-side conversation id.
type Conversation struct {
	ID              int64  `json:"id"`
	UserID          int64  `json:"user_id"`
	Username        string `json:"username"`
	Avatar          string `json:"avatar,omitempty"`
	LastMessage     string `json:"last_message"`
	LastMessageType int    `json:"last_message_type"`
	LastMessageID   int64  `json:"last_message_id"`
	UnreadCount     int    `json:"unread_count"`
	LastActiveDate  string `json:"last_active_date"`
}

// Message is one chat message as tracked by the client. ID is the server id
// (0 while unconfirmed); ClientID is the ephemeral local id assigned at send
// time, used to correlate optimistic state before a server id exists.
type Message struct {
	ID             int64  `json:"id"`
	ClientID       string `json:"client_id,omitempty"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	Body           string `json:"message"`
	Type           int    `json:"type"`
	CreatedAt      string `json:"created_at"`
	Status         string `json:"status,omitempty"`
}

// Transport is the slice of the connection manager the store depends on.
// The store never touches the socket handle itself.
type Transport interface {
	SendPrivateMessage(targetUserID int64, body string, msgType int) (timestamp string, err error)
	IsConnected() bool
	SetActiveTarget(userID int64)
}

// API is the REST collaborator serving conversation and history hydration.
type API interface {
	Conversations(ctx context.Context) ([]Conversation, error)
	Messages(ctx context.Context, conversationID int64) ([]Message, error)
}

// MergedBatch is the payload of chat.messages.merged bus events.
type MergedBatch struct {
	UserID   int64
	Messages []Message
}

// StatusUpdate is the payload of chat.message.status bus events, emitted when
// a pending message resolves to sent or failed.
type StatusUpdate struct {
	UserID    int64
	ClientID  string
	Timestamp string
	Status    string
}
