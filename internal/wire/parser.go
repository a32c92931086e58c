package wire

import (
	"encoding/json"
	"fmt"
)

// DecodeFrame parses a raw socket payload into a Frame.
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("decode frame: missing event")
	}
	return &f, nil
}

// DecodeUpdate extracts the counterparty summary from a connected or
// new_message frame. The server wraps it in a one-element array.
func (f *Frame) DecodeUpdate() (*ConversationUpdate, error) {
	var updates []ConversationUpdate
	if err := json.Unmarshal(f.Data, &updates); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("decode %s payload: empty update list", f.Event)
	}
	return &updates[0], nil
}

// DecodeAckTime extracts the echoed timestamp from an ack frame.
func (f *Frame) DecodeAckTime() (string, error) {
	var ts string
	if err := json.Unmarshal(f.Data, &ts); err != nil {
		return "", fmt.Errorf("decode ack payload: %w", err)
	}
	if ts == "" {
		return "", fmt.Errorf("decode ack payload: empty timestamp")
	}
	return ts, nil
}

// ErrorText renders an error frame's payload for display. The payload shape
// is server-defined, so anything that is not a plain string is passed through
// as raw JSON.
func (f *Frame) ErrorText() string {
	var s string
	if err := json.Unmarshal(f.Data, &s); err == nil {
		return s
	}
	return string(f.Data)
}

// FilterBatch removes messages that must never reach the conversation store:
// system messages (sender 0) and the local user's own messages reflected back
// by the server.
func FilterBatch(msgs []InboundMessage, selfID int64) []InboundMessage {
	var out []InboundMessage
	for _, m := range msgs {
		if m.SenderID == 0 || m.SenderID == selfID {
			continue
		}
		out = append(out, m)
	}
	return out
}
