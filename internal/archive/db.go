// Package archive keeps a local SQLite transcript of chat traffic. The
// in-memory conversation store stays the source of truth for the session;
// the archive is a durable record written through from bus events.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"autochat/internal/chat"
)

// DB wraps the SQLite connection for the profile-owned archive.db.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive db: %w", err)
	}
	return &DB{db}, nil
}

// UpsertConversation inserts or updates a conversation summary row.
func (db *DB) UpsertConversation(c *chat.Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (user_id, conversation_id, username, avatar, last_message, last_message_type, unread_count, last_active_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			username = excluded.username,
			avatar = excluded.avatar,
			last_message = excluded.last_message,
			last_message_type = excluded.last_message_type,
			unread_count = excluded.unread_count,
			last_active_date = excluded.last_active_date,
			updated_at = excluded.updated_at`,
		c.UserID, c.ID, c.Username, c.Avatar, c.LastMessage, c.LastMessageType,
		c.UnreadCount, c.LastActiveDate, now)
	return err
}

// UpsertMessage records one message, idempotent on (user_id, msg_key). The
// key is the client-local id for locally originated messages, otherwise the
// server id, so re-recording the same message only refreshes mutable fields.
func (db *DB) UpsertMessage(userID int64, m *chat.Message) error {
	key := m.ClientID
	if key == "" {
		key = fmt.Sprintf("srv-%d", m.ID)
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (user_id, msg_key, server_id, sender_id, body, type, status, created_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, msg_key) DO UPDATE SET
			server_id = excluded.server_id,
			status = excluded.status`,
		userID, key, m.ID, m.SenderID, m.Body, m.Type, m.Status, m.CreatedAt, now)
	return err
}

// SetMessageStatus updates the recorded delivery status of a locally
// originated message.
func (db *DB) SetMessageStatus(userID int64, clientID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE user_id = ? AND msg_key = ?`,
		status, userID, clientID)
	return err
}

// RecentMessages returns the latest messages recorded for a counterparty,
// oldest first.
func (db *DB) RecentMessages(userID int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT server_id, msg_key, sender_id, body, type, status, created_at
		FROM messages
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var key string
		if err := rows.Scan(&m.ID, &key, &m.SenderID, &m.Body, &m.Type, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.ID == 0 {
			m.ClientID = key
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into ascending order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListConversations returns recorded conversation summaries, most recent
// activity first.
func (db *DB) ListConversations(limit int) ([]chat.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT user_id, conversation_id, username, avatar, last_message, last_message_type, unread_count, last_active_date
		FROM conversations
		ORDER BY last_active_date DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convos []chat.Conversation
	for rows.Next() {
		var c chat.Conversation
		if err := rows.Scan(&c.UserID, &c.ID, &c.Username, &c.Avatar, &c.LastMessage,
			&c.LastMessageType, &c.UnreadCount, &c.LastActiveDate); err != nil {
			return nil, err
		}
		convos = append(convos, c)
	}
	return convos, rows.Err()
}
