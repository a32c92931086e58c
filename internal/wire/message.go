package wire

import (
	"encoding/json"
	"time"
)

// Frame event names. This is the full vocabulary of the chat endpoint;
// anything else is dropped for forward compatibility.
const (
	EventPing           = "ping"
	EventPrivateMessage = "private_message"
	EventAck            = "ack"
	EventNewMessage     = "new_message"
	EventConnected      = "connected"
	EventError          = "error"
)

// Numeric message types used on the wire and in the conversation model.
const (
	TypeText    = 1
	TypeListing = 2 // body carries a car-listing identifier
	TypeVideo   = 3 // body carries a media URL
	TypeImage   = 4 // body carries a media URL
)

// TimeLayout is the UTC timestamp format the server expects and echoes back
// in acks. It doubles as the ack correlation key, so it must be produced
// byte-for-byte identically on every send.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// FormatTime renders t in the server's timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a server timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// Frame is the envelope for every message crossing the socket, in either
// direction. Data's shape depends on Event.
type Frame struct {
	Event        string          `json:"event"`
	TargetUserID int64           `json:"target_user_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Outgoing is the data payload of a private_message frame.
type Outgoing struct {
	Message      string `json:"message"`
	Type         int    `json:"type"`
	Time         string `json:"time"`
	TargetUserID int64  `json:"target_user_id"`
}

// InboundMessage is one message inside a connected/new_message batch.
type InboundMessage struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	Message        string `json:"message"`
	Type           int    `json:"type"`
	CreatedAt      string `json:"created_at"`
}

// ConversationUpdate is the element carried by connected/new_message frames:
// a counterparty summary with an embedded message batch. ID is the
// counterparty's user id.
type ConversationUpdate struct {
	ID             int64            `json:"id"`
	Username       string           `json:"username"`
	Avatar         string           `json:"avatar,omitempty"`
	LastActiveDate string           `json:"last_active_date,omitempty"`
	Messages       []InboundMessage `json:"messages"`
}

// Ping builds a keepalive frame. target may be 0 when no counterparty is
// being tracked.
func Ping(target int64) *Frame {
	return &Frame{Event: EventPing, TargetUserID: target}
}

// Ack builds an acknowledgment frame echoing the message timestamp.
func Ack(target int64, timestamp string) *Frame {
	data, _ := json.Marshal(timestamp)
	return &Frame{Event: EventAck, TargetUserID: target, Data: data}
}

// PrivateMessage builds an outbound chat message frame.
func PrivateMessage(target int64, body string, msgType int, timestamp string) *Frame {
	data, _ := json.Marshal(Outgoing{
		Message:      body,
		Type:         msgType,
		Time:         timestamp,
		TargetUserID: target,
	})
	return &Frame{Event: EventPrivateMessage, TargetUserID: target, Data: data}
}
