package socket

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"autochat/internal/status"
	"autochat/internal/wire"
)

const (
	keepaliveInterval    = 25 * time.Second
	reconnectDelay       = 3 * time.Second
	maxReconnectAttempts = 10
)

// ErrNotConnected is returned when a send is attempted while the socket is
// not open. The caller decides whether that is a hard failure; the manager
// never queues.
var ErrNotConnected = errors.New("socket not connected")

// Callbacks is the narrow contract the manager exposes to its single
// consumer. Registration is last-write-wins.
type Callbacks struct {
	// OnStatus fires on every connection status transition.
	OnStatus func(st status.State)
	// OnMessages fires once per inbound batch, after system and self-echo
	// messages have been filtered out. Never fires with an empty batch.
	OnMessages func(upd *wire.ConversationUpdate)
	// OnAck fires when the server acknowledges a sent message, echoing its
	// timestamp.
	OnAck func(targetUserID int64, timestamp string)
	// OnError surfaces chat-level and close-code errors for display.
	OnError func(msg string)
}

// Manager owns the single WebSocket connection to the chat endpoint:
// lifecycle, keepalive pings, bounded reconnection and frame dispatch.
// Nothing else in the process touches the socket handle.
type Manager struct {
	endpoint string
	selfID   int64
	machine  *status.Machine
	clock    clock.Clock
	logger   *zap.Logger

	mu              sync.Mutex
	conn            *websocket.Conn
	cb              Callbacks
	token           string
	attempts        int
	shouldReconnect bool
	dialing         bool
	gen             int
	activeTarget    int64
	reconnectTimer  *clock.Timer
	keepaliveStop   chan struct{}

	// writeMu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewManager creates a manager for the given chat endpoint (ws:// or wss://
// URL). selfID is the local user's id, used for self-echo suppression.
func NewManager(endpoint string, selfID int64, machine *status.Machine, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		endpoint: endpoint,
		selfID:   selfID,
		machine:  machine,
		clock:    clk,
		logger:   logger,
	}
}

// SetCallbacks registers the consumer's handlers, replacing any previous
// registration.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// SetActiveTarget records the counterparty of the currently open chat so
// keepalive pings can be addressed to it. Zero clears the target.
func (m *Manager) SetActiveTarget(userID int64) {
	m.mu.Lock()
	m.activeTarget = userID
	m.mu.Unlock()
}

// IsConnected reports whether the socket is currently open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Status returns the current connection status.
func (m *Manager) Status() status.State {
	return m.machine.Current()
}

// Connect opens the socket, authenticating with the bearer token as a query
// parameter. It is idempotent: a no-op while a connection is open or a dial
// is in progress. A failed dial enters the same bounded reconnect path as an
// abnormal closure.
func (m *Manager) Connect(token string) error {
	m.mu.Lock()
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	m.token = token
	m.shouldReconnect = true
	m.mu.Unlock()

	m.setStatus(status.Connecting)

	conn, err := m.dial(token)
	if err != nil {
		m.mu.Lock()
		m.dialing = false
		m.mu.Unlock()
		m.logger.Warn("chat dial failed", zap.Error(err))
		m.scheduleReconnect()
		return fmt.Errorf("connect chat socket: %w", err)
	}

	m.mu.Lock()
	if !m.shouldReconnect {
		// Disconnect was requested while the dial was in flight.
		m.dialing = false
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.dialing = false
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.setStatus(status.Connected)
	m.logger.Info("chat socket connected")
	m.startKeepalive()
	go m.readLoop(conn, gen)
	return nil
}

func (m *Manager) dial(token string) (*websocket.Conn, error) {
	u, err := url.Parse(m.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Disconnect performs a clean client-initiated close. It cancels the
// keepalive and any pending reconnect, and suppresses auto-reconnect for the
// resulting close event. Required on every exit path from an authenticated
// chat session.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.shouldReconnect = false
	m.attempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++
	m.mu.Unlock()

	m.stopKeepalive()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	m.setStatus(status.Disconnected)
	m.logger.Info("chat socket disconnected")
}

// SendPrivateMessage transmits one chat message and returns the generated
// UTC timestamp, which the caller uses as the ack correlation key. Returns
// ErrNotConnected without queueing if the socket is not open.
func (m *Manager) SendPrivateMessage(targetUserID int64, body string, msgType int) (string, error) {
	ts := wire.FormatTime(m.clock.Now())
	if err := m.writeFrame(wire.PrivateMessage(targetUserID, body, msgType, ts)); err != nil {
		return "", err
	}
	return ts, nil
}

func (m *Manager) writeFrame(f *wire.Frame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Event, err)
	}
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleFrame(raw)
	}
}

// handleClose runs the reconnect policy after the read loop dies. The
// generation guard makes close events from an already-replaced connection
// no-ops, so a Disconnect racing a network drop cannot double-schedule.
func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.gen++
	should := m.shouldReconnect
	m.mu.Unlock()

	m.stopKeepalive()

	code := closeCode(err)
	if code == websocket.CloseNormalClosure || !should {
		m.setStatus(status.Disconnected)
		return
	}

	m.logger.Warn("chat socket closed", zap.Int("code", code), zap.Error(err))
	switch code {
	case websocket.CloseAbnormalClosure:
		m.emitError("connection lost unexpectedly")
	case websocket.CloseTLSHandshake:
		m.emitError("secure connection failed")
	}
	m.scheduleReconnect()
}

// closeCode maps a read error to a close code. Network-level errors without
// a close frame count as abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if !m.shouldReconnect {
		m.mu.Unlock()
		return
	}
	if m.attempts >= maxReconnectAttempts {
		m.mu.Unlock()
		m.logger.Warn("reconnect attempts exhausted", zap.Int("attempts", maxReconnectAttempts))
		// Terminal: an explicit Connect is required to retry.
		m.setStatus(status.Disconnected)
		return
	}
	m.attempts++
	attempt := m.attempts
	token := m.token
	m.reconnectTimer = m.clock.AfterFunc(reconnectDelay, func() {
		_ = m.Connect(token)
	})
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", zap.Int("attempt", attempt))
	m.setStatus(status.Reconnecting)
}

func (m *Manager) startKeepalive() {
	ticker := m.clock.Ticker(keepaliveInterval)
	stop := make(chan struct{})

	m.mu.Lock()
	m.keepaliveStop = stop
	m.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sendPing()
			case <-stop:
				return
			}
		}
	}()
}

func (m *Manager) stopKeepalive() {
	m.mu.Lock()
	if m.keepaliveStop != nil {
		close(m.keepaliveStop)
		m.keepaliveStop = nil
	}
	m.mu.Unlock()
}

func (m *Manager) sendPing() {
	m.mu.Lock()
	target := m.activeTarget
	m.mu.Unlock()
	if err := m.writeFrame(wire.Ping(target)); err != nil {
		m.logger.Warn("keepalive ping failed", zap.Error(err))
	}
}

// handleFrame dispatches one inbound frame. Malformed frames are logged and
// swallowed: a single corrupt frame must not destabilize the connection.
func (m *Manager) handleFrame(raw []byte) {
	f, err := wire.DecodeFrame(raw)
	if err != nil {
		m.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch f.Event {
	case wire.EventPing:
		// The server's ping is a liveness probe; answer immediately.
		if err := m.writeFrame(wire.Ping(f.TargetUserID)); err != nil {
			m.logger.Warn("ping reply failed", zap.Error(err))
		}

	case wire.EventConnected, wire.EventNewMessage:
		upd, err := f.DecodeUpdate()
		if err != nil {
			m.logger.Warn("dropping malformed update", zap.Error(err))
			return
		}
		upd.Messages = wire.FilterBatch(upd.Messages, m.selfID)
		if len(upd.Messages) == 0 {
			return
		}
		m.mu.Lock()
		cb := m.cb.OnMessages
		m.mu.Unlock()
		if cb != nil {
			cb(upd)
		}
		// Acknowledge each delivered message by echoing its timestamp.
		for _, msg := range upd.Messages {
			if err := m.writeFrame(wire.Ack(upd.ID, msg.CreatedAt)); err != nil {
				m.logger.Warn("ack send failed", zap.Error(err))
			}
		}

	case wire.EventAck:
		ts, err := f.DecodeAckTime()
		if err != nil {
			m.logger.Warn("dropping malformed ack", zap.Error(err))
			return
		}
		m.mu.Lock()
		cb := m.cb.OnAck
		m.mu.Unlock()
		if cb != nil {
			cb(f.TargetUserID, ts)
		}

	case wire.EventError:
		m.emitError(f.ErrorText())

	default:
		// Unknown events are dropped for forward compatibility.
		m.logger.Debug("ignoring unknown event", zap.String("event", f.Event))
	}
}

func (m *Manager) setStatus(st status.State) {
	if err := m.machine.Transition(st); err != nil {
		// Redundant transition (e.g. Disconnect while already disconnected).
		return
	}
	m.mu.Lock()
	cb := m.cb.OnStatus
	m.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (m *Manager) emitError(msg string) {
	m.mu.Lock()
	cb := m.cb.OnError
	m.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}
