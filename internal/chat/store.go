package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"autochat/internal/bus"
	"autochat/internal/status"
	"autochat/internal/wire"
)

// ackTimeout bounds how long a sent message may stay pending. The transport
// gives no delivery guarantee, so timeout expiry is the sole detection of
// "sent but never acknowledged".
const ackTimeout = 5 * time.Second

// ErrNotAuthenticated is returned when a send is attempted without a local
// user id.
var ErrNotAuthenticated = errors.New("no authenticated user")

// pendingAck correlates a sent message's timestamp back to the optimistic
// entry that spawned it. Its presence in Store.pending is the single arbiter
// of the late-ack vs. timeout race: whichever side observes it first wins.
type pendingAck struct {
	clientID string
	userID   int64
	timer    *clock.Timer
}

// Store turns connection manager events and REST calls into a consistent
// conversation model: a recency-ordered conversation list with unread counts
// and per-conversation message lists, ordered and deduplicated, with
// optimistic send state reconciled against server acks.
type Store struct {
	selfID    int64
	transport Transport
	api       API
	bus       *bus.Bus
	clock     clock.Clock
	logger    *zap.Logger

	mu            sync.RWMutex
	conversations []*Conversation     // sorted by last activity descending
	messages      map[int64][]Message // keyed by counterparty user id, ascending created_at
	pending       map[string]*pendingAck
	historyLoaded map[int64]bool
	activeUserID  int64
	loadingConvos bool
	connStatus    status.State
}

// NewStore creates a store for the given local user.
func NewStore(selfID int64, transport Transport, api API, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Store {
	return &Store{
		selfID:        selfID,
		transport:     transport,
		api:           api,
		bus:           b,
		clock:         clk,
		logger:        logger,
		messages:      make(map[int64][]Message),
		pending:       make(map[string]*pendingAck),
		historyLoaded: make(map[int64]bool),
		connStatus:    status.Disconnected,
	}
}

// HandleStatus mirrors the connection status and re-syncs the conversation
// list on every transition, which covers the reconnect-then-resync case.
// Wired as the manager's OnStatus callback.
func (s *Store) HandleStatus(st status.State) {
	s.mu.Lock()
	s.connStatus = st
	s.mu.Unlock()

	go func() {
		_ = s.LoadConversations(context.Background())
	}()
}

// ConnStatus returns the last status reported by the connection manager.
func (s *Store) ConnStatus() status.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connStatus
}

// LoadConversations fetches the authoritative conversation list and replaces
// the in-memory list wholesale. Concurrent calls collapse into one: a call
// while another is in flight is a no-op. A fetch failure leaves current
// state untouched.
func (s *Store) LoadConversations(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingConvos {
		s.mu.Unlock()
		return nil
	}
	s.loadingConvos = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loadingConvos = false
		s.mu.Unlock()
	}()

	convos, err := s.api.Conversations(ctx)
	if err != nil {
		s.logger.Warn("conversation list fetch failed", zap.Error(err))
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	s.conversations = make([]*Conversation, 0, len(convos))
	for i := range convos {
		c := convos[i]
		s.conversations = append(s.conversations, &c)
	}
	// The active chat stays read regardless of what the server reports.
	if s.activeUserID != 0 {
		if c := s.findLocked(s.activeUserID); c != nil {
			c.UnreadCount = 0
		}
	}
	s.sortConversationsLocked()
	count := len(s.conversations)
	s.mu.Unlock()

	s.logger.Info("conversations loaded", zap.Int("count", count))
	s.publish("chat.conversations.loaded", count)
	return nil
}

// LoadMessages hydrates a conversation's history from REST, keyed by the
// server-side conversation id. A thread that has never been synced
// server-side (id 0) completes as a no-op with an empty list.
func (s *Store) LoadMessages(ctx context.Context, userID int64) error {
	s.mu.Lock()
	var convID int64
	if c := s.findLocked(userID); c != nil {
		convID = c.ID
	}
	s.mu.Unlock()

	if convID == 0 {
		s.mu.Lock()
		s.historyLoaded[userID] = true
		s.mu.Unlock()
		return nil
	}

	msgs, err := s.api.Messages(ctx, convID)
	if err != nil {
		s.logger.Warn("message history fetch failed",
			zap.Int64("conversation_id", convID), zap.Error(err))
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	added := s.mergeMessagesLocked(userID, msgs)
	s.historyLoaded[userID] = true
	s.mu.Unlock()

	if len(added) > 0 {
		s.publish("chat.messages.merged", MergedBatch{UserID: userID, Messages: added})
	}
	return nil
}

// SendMessage transmits a message and tracks it optimistically. The
// transport write comes first: if the socket is not open the call aborts
// without mutating state, so no optimistic entry ever exists for a message
// that was never transmitted. On success the message enters the target
// conversation as pending, with a 5 second window to be acknowledged before
// it flips to failed.
func (s *Store) SendMessage(targetUserID int64, body string, msgType int) (Message, error) {
	if s.selfID == 0 {
		return Message{}, ErrNotAuthenticated
	}

	ts, err := s.transport.SendPrivateMessage(targetUserID, body, msgType)
	if err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	msg := Message{
		ClientID:  uuid.NewString(),
		SenderID:  s.selfID,
		Body:      body,
		Type:      msgType,
		CreatedAt: ts,
		Status:    StatusPending,
	}

	s.mu.Lock()
	c := s.findLocked(targetUserID)
	if c == nil {
		c = &Conversation{UserID: targetUserID}
		s.conversations = append(s.conversations, c)
	}
	msg.ConversationID = c.ID
	s.messages[targetUserID] = append(s.messages[targetUserID], msg)
	s.sortMessagesLocked(targetUserID)

	c.LastMessage = body
	c.LastMessageType = msgType
	c.LastActiveDate = ts
	s.sortConversationsLocked()
	snapshot := *c

	entry := &pendingAck{clientID: msg.ClientID, userID: targetUserID}
	entry.timer = s.clock.AfterFunc(ackTimeout, func() { s.expirePending(ts) })
	s.pending[ts] = entry
	s.mu.Unlock()

	s.publish("chat.messages.merged", MergedBatch{UserID: targetUserID, Messages: []Message{msg}})
	s.publish("chat.conversation.updated", snapshot)
	return msg, nil
}

// HandleAck resolves the pending entry matching the echoed timestamp,
// flipping its message from pending to sent. Unknown or already-resolved
// timestamps are ignored: duplicate acks, and acks arriving after the
// timeout already failed the message, must not resurrect it. Wired as the
// manager's OnAck callback.
func (s *Store) HandleAck(targetUserID int64, timestamp string) {
	s.mu.Lock()
	entry, ok := s.pending[timestamp]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, timestamp)
	entry.timer.Stop()
	s.setMessageStatusLocked(entry.userID, entry.clientID, StatusSent)
	s.mu.Unlock()

	s.publish("chat.message.status", StatusUpdate{
		UserID:    entry.userID,
		ClientID:  entry.clientID,
		Timestamp: timestamp,
		Status:    StatusSent,
	})
}

// expirePending fires when the ack window closes. If the entry is already
// resolved this is a no-op.
func (s *Store) expirePending(timestamp string) {
	s.mu.Lock()
	entry, ok := s.pending[timestamp]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, timestamp)
	s.setMessageStatusLocked(entry.userID, entry.clientID, StatusFailed)
	s.mu.Unlock()

	s.logger.Warn("message delivery timed out",
		zap.Int64("user_id", entry.userID), zap.String("timestamp", timestamp))
	s.publish("chat.message.status", StatusUpdate{
		UserID:    entry.userID,
		ClientID:  entry.clientID,
		Timestamp: timestamp,
		Status:    StatusFailed,
	})
}

// HandleInbound merges a filtered inbound batch for one counterparty. Wired
// as the manager's OnMessages callback.
func (s *Store) HandleInbound(upd *wire.ConversationUpdate) {
	if upd == nil || len(upd.Messages) == 0 {
		return
	}
	userID := upd.ID

	incoming := make([]Message, 0, len(upd.Messages))
	for _, m := range upd.Messages {
		incoming = append(incoming, Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Body:           m.Message,
			Type:           m.Type,
			CreatedAt:      m.CreatedAt,
		})
	}

	s.mu.Lock()
	added := s.mergeMessagesLocked(userID, incoming)
	if len(added) == 0 {
		// Pure re-delivery: no conversation churn.
		s.mu.Unlock()
		return
	}

	c := s.findLocked(userID)
	if c == nil {
		c = &Conversation{UserID: userID}
		s.conversations = append(s.conversations, c)
	}
	if upd.Username != "" {
		c.Username = upd.Username
	}
	if upd.Avatar != "" {
		c.Avatar = upd.Avatar
	}

	last := added[len(added)-1]
	if c.ID == 0 && last.ConversationID != 0 {
		c.ID = last.ConversationID
	}
	c.LastMessage = last.Body
	c.LastMessageType = last.Type
	c.LastMessageID = last.ID
	c.LastActiveDate = last.CreatedAt
	if s.activeUserID == userID {
		c.UnreadCount = 0
	} else {
		c.UnreadCount += len(added)
	}
	s.sortConversationsLocked()
	snapshot := *c
	s.mu.Unlock()

	s.publish("chat.messages.merged", MergedBatch{UserID: userID, Messages: added})
	s.publish("chat.conversation.updated", snapshot)
}

// SetActiveChat marks a conversation as open in the UI, clearing its unread
// count and lazily hydrating its history on first open. Zero clears the
// marker so later inbound messages count as unread again.
func (s *Store) SetActiveChat(userID int64) {
	s.mu.Lock()
	s.activeUserID = userID
	needLoad := false
	if userID != 0 {
		if c := s.findLocked(userID); c != nil {
			c.UnreadCount = 0
		}
		needLoad = !s.historyLoaded[userID]
	}
	s.mu.Unlock()

	s.transport.SetActiveTarget(userID)

	if needLoad {
		go func() {
			_ = s.LoadMessages(context.Background(), userID)
		}()
	}
}

// DeleteMessage removes one message from local state, matched by client id
// or by decimal server id. Used to discard a failed message before the
// caller re-sends it. Returns whether a message was removed.
func (s *Store) DeleteMessage(userID int64, ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[userID]
	for i, m := range msgs {
		if !matchRef(m, ref) {
			continue
		}
		s.messages[userID] = append(msgs[:i:i], msgs[i+1:]...)
		return true
	}
	return false
}

func matchRef(m Message, ref string) bool {
	if m.ClientID != "" && m.ClientID == ref {
		return true
	}
	if m.ID != 0 {
		if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id == m.ID {
			return true
		}
	}
	return false
}

// Conversations returns the conversation list, most recent activity first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	return out
}

// Messages returns a conversation's message list, oldest first.
func (s *Store) Messages(userID int64) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[userID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// UnreadCount returns one conversation's unread count.
func (s *Store) UnreadCount(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.findLocked(userID); c != nil {
		return c.UnreadCount
	}
	return 0
}

// TotalUnreadCount sums unread counts across all conversations.
func (s *Store) TotalUnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total
}

// mergeMessagesLocked appends the net-new subset of incoming (deduplicated
// against existing non-zero server ids) and re-sorts ascending by creation
// time. Returns the added messages, themselves sorted ascending.
func (s *Store) mergeMessagesLocked(userID int64, incoming []Message) []Message {
	existing := s.messages[userID]
	seen := make(map[int64]struct{}, len(existing))
	for _, m := range existing {
		if m.ID != 0 {
			seen[m.ID] = struct{}{}
		}
	}

	var added []Message
	for _, m := range incoming {
		if m.ID != 0 {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		added = append(added, m)
	}
	if len(added) == 0 {
		return nil
	}

	s.messages[userID] = append(existing, added...)
	s.sortMessagesLocked(userID)
	sort.SliceStable(added, func(i, j int) bool {
		return lessCreated(added[i].CreatedAt, added[j].CreatedAt)
	})
	return added
}

func (s *Store) sortMessagesLocked(userID int64) {
	msgs := s.messages[userID]
	sort.SliceStable(msgs, func(i, j int) bool {
		return lessCreated(msgs[i].CreatedAt, msgs[j].CreatedAt)
	})
}

func (s *Store) sortConversationsLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		// Most recent activity first.
		return lessCreated(s.conversations[j].LastActiveDate, s.conversations[i].LastActiveDate)
	})
}

// lessCreated orders two server timestamps. Unparseable values fall back to
// string comparison, which matches chronological order for well-formed
// ISO 8601 anyway.
func lessCreated(a, b string) bool {
	ta, errA := wire.ParseTime(a)
	tb, errB := wire.ParseTime(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return ta.Before(tb)
}

func (s *Store) setMessageStatusLocked(userID int64, clientID, st string) {
	msgs := s.messages[userID]
	for i := range msgs {
		if msgs[i].ClientID == clientID {
			msgs[i].Status = st
			return
		}
	}
}

func (s *Store) findLocked(userID int64) *Conversation {
	for _, c := range s.conversations {
		if c.UserID == userID {
			return c
		}
	}
	return nil
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
