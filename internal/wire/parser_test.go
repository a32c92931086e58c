package wire

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeFrame(t *testing.T) {
	raw := []byte(`{"event":"new_message","target_user_id":7,"data":[{"id":1,"username":"alice","messages":[]}]}`)
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if f.Event != EventNewMessage {
		t.Errorf("event = %q, want new_message", f.Event)
	}
	if f.TargetUserID != 7 {
		t.Errorf("target_user_id = %d, want 7", f.TargetUserID)
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"truncated json", `{"event":"ping"`},
		{"not json", `hello`},
		{"missing event", `{"target_user_id":7}`},
		{"empty event", `{"event":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeFrame([]byte(tc.raw)); err == nil {
				t.Errorf("DecodeFrame(%q) = nil error, want error", tc.raw)
			}
		})
	}
}

func TestDecodeUpdateUnwrapsArray(t *testing.T) {
	raw := []byte(`{"event":"connected","data":[{"id":5,"username":"alice","avatar":"a.png","messages":[{"id":100,"conversation_id":9,"sender_id":5,"message":"hi","type":1,"created_at":"2025-06-01T09:00:00+00:00"}]}]}`)
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	upd, err := f.DecodeUpdate()
	if err != nil {
		t.Fatalf("DecodeUpdate() error = %v", err)
	}
	if upd.ID != 5 || upd.Username != "alice" {
		t.Errorf("update = %+v, want id 5 username alice", upd)
	}
	if len(upd.Messages) != 1 || upd.Messages[0].ID != 100 {
		t.Errorf("messages = %+v, want one message with id 100", upd.Messages)
	}
}

func TestDecodeUpdateEmptyList(t *testing.T) {
	f := &Frame{Event: EventNewMessage, Data: json.RawMessage(`[]`)}
	if _, err := f.DecodeUpdate(); err == nil {
		t.Error("DecodeUpdate() of empty list = nil error, want error")
	}
}

func TestDecodeAckTime(t *testing.T) {
	f := &Frame{Event: EventAck, Data: json.RawMessage(`"2025-06-01T10:00:00+00:00"`)}
	ts, err := f.DecodeAckTime()
	if err != nil {
		t.Fatalf("DecodeAckTime() error = %v", err)
	}
	if ts != "2025-06-01T10:00:00+00:00" {
		t.Errorf("timestamp = %q", ts)
	}

	bad := &Frame{Event: EventAck, Data: json.RawMessage(`{"oops":true}`)}
	if _, err := bad.DecodeAckTime(); err == nil {
		t.Error("DecodeAckTime() of object payload = nil error, want error")
	}
}

func TestErrorText(t *testing.T) {
	plain := &Frame{Event: EventError, Data: json.RawMessage(`"token expired"`)}
	if got := plain.ErrorText(); got != "token expired" {
		t.Errorf("ErrorText() = %q, want token expired", got)
	}
	structured := &Frame{Event: EventError, Data: json.RawMessage(`{"code":401}`)}
	if got := structured.ErrorText(); got != `{"code":401}` {
		t.Errorf("ErrorText() = %q, want raw passthrough", got)
	}
}

func TestFilterBatch(t *testing.T) {
	msgs := []InboundMessage{
		{ID: 1, SenderID: 0, Message: "system notice"},
		{ID: 2, SenderID: 1, Message: "my own echo"},
		{ID: 3, SenderID: 5, Message: "real"},
		{ID: 4, SenderID: 7, Message: "also real"},
	}
	out := FilterBatch(msgs, 1)
	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2", len(out))
	}
	if out[0].ID != 3 || out[1].ID != 4 {
		t.Errorf("kept ids = [%d %d], want [3 4]", out[0].ID, out[1].ID)
	}

	if got := FilterBatch(nil, 1); got != nil {
		t.Errorf("FilterBatch(nil) = %v, want nil", got)
	}
}

// TestFormatTimeUTCOffset pins the rendered offset for UTC instants. The
// server compares acks byte-for-byte against the sent time string, so this
// must stay "+00:00" rather than "Z".
func TestFormatTimeUTCOffset(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	in := time.Date(2025, 6, 1, 7, 0, 0, 0, loc)
	got := FormatTime(in)
	want := "2025-06-01T10:00:00+00:00"
	if got != want {
		t.Errorf("FormatTime() = %q, want %q", got, want)
	}

	back, err := ParseTime(got)
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !back.Equal(in) {
		t.Errorf("round trip = %v, want %v", back, in)
	}
}

func TestPrivateMessageFrame(t *testing.T) {
	f := PrivateMessage(42, "Is the car available?", TypeText, "2025-06-01T10:00:00+00:00")
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Event        string `json:"event"`
		TargetUserID int64  `json:"target_user_id"`
		Data         struct {
			Message      string `json:"message"`
			Type         int    `json:"type"`
			Time         string `json:"time"`
			TargetUserID int64  `json:"target_user_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Event != EventPrivateMessage {
		t.Errorf("event = %q", decoded.Event)
	}
	if decoded.TargetUserID != 42 || decoded.Data.TargetUserID != 42 {
		t.Error("target user id must appear on envelope and payload")
	}
	if decoded.Data.Message != "Is the car available?" || decoded.Data.Type != TypeText {
		t.Errorf("payload = %+v", decoded.Data)
	}
	if decoded.Data.Time != "2025-06-01T10:00:00+00:00" {
		t.Errorf("time = %q", decoded.Data.Time)
	}
}

func TestAckFrameCarriesBareTimestamp(t *testing.T) {
	f := Ack(5, "2025-06-01T10:00:00+00:00")
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"event":"ack","target_user_id":5,"data":"2025-06-01T10:00:00+00:00"}`
	if string(raw) != want {
		t.Errorf("ack frame = %s, want %s", raw, want)
	}
}

func TestPingFrameOmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(Ping(0))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"event":"ping"}` {
		t.Errorf("ping frame = %s, want {\"event\":\"ping\"}", raw)
	}

	raw, _ = json.Marshal(Ping(7))
	if string(raw) != `{"event":"ping","target_user_id":7}` {
		t.Errorf("targeted ping frame = %s", raw)
	}
}
