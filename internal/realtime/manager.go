// Package realtime owns the client side of the portal's websocket channel:
// one connection per Manager, authenticated by an application-level auth
// frame, re-established transparently after abnormal closures.
package realtime

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"studiolink/internal/protocol"
)

const (
	// DefaultReconnectDelay is the fixed wait before a reconnect attempt.
	// No growth, no attempt cap: the channel keeps trying for as long as
	// the identity stays authenticated.
	DefaultReconnectDelay = 3 * time.Second

	writeWait = 10 * time.Second
)

// ErrNotConnected is returned when a send is attempted while the channel
// is not open. The frame is dropped, never queued.
var ErrNotConnected = errors.New("realtime: channel not open")

// Status is the connection lifecycle state.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusOpen           Status = "open"
)

// IdentityProvider supplies the identity the auth frame is stamped from.
// ok reports whether anyone is authenticated at all.
type IdentityProvider interface {
	Identity() (userID, role string, ok bool)
}

// FrameHandler receives every well-formed inbound frame, in the exact
// order the transport delivered it. The manager never interprets frame
// semantics itself.
type FrameHandler func(frameType string, raw []byte)

// Manager maintains at most one live websocket tied to the authenticated
// identity.
type Manager struct {
	url      string
	identity IdentityProvider
	dialer   *websocket.Dialer

	// ReconnectDelay may be lowered in tests. Read once per schedule.
	ReconnectDelay time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	status     Status
	connected  bool
	lastError  string
	generation uint64
	handler    FrameHandler

	writeMu sync.Mutex
}

// NewManager builds a manager for the given ws:// URL. jar carries the
// session cookie into the dial; pass nil for token-in-URL setups.
func NewManager(url string, identity IdentityProvider, jar http.CookieJar) *Manager {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Jar:              jar,
	}
	return &Manager{
		url:            url,
		identity:       identity,
		dialer:         dialer,
		status:         StatusIdle,
		ReconnectDelay: DefaultReconnectDelay,
	}
}

// SetHandler installs the single inbound dispatch target.
func (m *Manager) SetHandler(h FrameHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError is the human-readable connection status surfaced to the UI.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Connect opens the channel. No-op while unauthenticated or while a
// connection already exists. The first frame out is always the auth frame;
// missing identity fields fall back to anonymous/client rather than
// blocking the connection.
func (m *Manager) Connect() {
	userID, role, ok := m.identity.Identity()
	if !ok {
		return
	}

	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return
	}
	m.generation++
	gen := m.generation
	m.status = StatusConnecting
	m.mu.Unlock()

	conn, _, err := m.dialer.Dial(m.url, nil)
	if err != nil {
		log.Printf("realtime: dial failed: %v", err)
		m.mu.Lock()
		if m.generation == gen {
			m.status = StatusIdle
			m.lastError = "connection failed, retrying"
			m.scheduleReconnectLocked(gen)
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if m.generation != gen {
		// A Disconnect raced the dial; this socket is unwanted.
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.status = StatusAuthenticating
	m.mu.Unlock()

	if userID == "" {
		userID = "anonymous"
	}
	if role == "" {
		role = "client"
	}
	if err := m.write(conn, protocol.AuthFrame{
		Type:   protocol.FrameTypeAuth,
		UserID: userID,
		Role:   role,
	}); err != nil {
		log.Printf("realtime: auth frame failed: %v", err)
	}

	m.mu.Lock()
	if m.generation == gen {
		// The server does not ack the auth frame; sends from here on are
		// best-effort until it has processed it.
		m.status = StatusOpen
		m.connected = true
		m.lastError = ""
	}
	m.mu.Unlock()

	go m.readLoop(conn, gen)
}

// Disconnect closes the channel and cancels any pending reconnect. This is
// the only path that suppresses the reconnect policy: the generation bump
// makes a scheduled attempt a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.connected = false
	m.status = StatusIdle
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		m.writeMu.Unlock()
		conn.Close()
	}
}

// Send writes one frame if the channel is open; otherwise the frame is
// dropped and the condition recorded.
func (m *Manager) Send(frame interface{}) error {
	m.mu.Lock()
	conn := m.conn
	open := m.connected
	if conn == nil || !open {
		m.lastError = "message dropped: not connected"
		m.mu.Unlock()
		log.Printf("realtime: dropped outbound frame, channel not open")
		return ErrNotConnected
	}
	m.mu.Unlock()

	return m.write(conn, frame)
}

// SendChatMessage frames a chat message for one project, stamped from the
// cached identity.
func (m *Manager) SendChatMessage(projectID, body string) error {
	userID, role := m.senderIdentity()
	return m.Send(protocol.ChatMessageFrame{
		Type:       protocol.FrameTypeChatMessage,
		ProjectID:  projectID,
		Message:    body,
		SenderID:   userID,
		SenderRole: role,
	})
}

// SendTypingIndicator frames a typing start/stop signal for one project.
func (m *Manager) SendTypingIndicator(projectID string, isTyping bool) error {
	userID, role := m.senderIdentity()
	return m.Send(protocol.TypingFrame{
		Type:       protocol.FrameTypeTyping,
		ProjectID:  projectID,
		SenderID:   userID,
		SenderRole: role,
		IsTyping:   isTyping,
	})
}

func (m *Manager) senderIdentity() (string, string) {
	userID, role, _ := m.identity.Identity()
	if userID == "" {
		userID = "anonymous"
	}
	if role == "" {
		role = "client"
	}
	return userID, role
}

func (m *Manager) write(conn *websocket.Conn, frame interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

// readLoop dispatches inbound frames until the transport fails. Dispatch
// happens on this goroutine, so handlers see frames in arrival order.
func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		var env protocol.Envelope
		if jerr := json.Unmarshal(raw, &env); jerr != nil {
			// Malformed frames are logged and dropped; they never take
			// the connection down.
			log.Printf("realtime: dropped malformed frame: %v", jerr)
			continue
		}

		m.mu.Lock()
		handler := m.handler
		m.mu.Unlock()
		if handler != nil {
			handler(env.Type, raw)
		}
	}
}

// handleClose classifies a transport failure. 1000/1001 are clean; any
// other code while still authenticated schedules exactly one reconnect.
func (m *Manager) handleClose(gen uint64, err error) {
	code := -1
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		// Disconnect already tore this connection down.
		return
	}
	m.conn = nil
	m.connected = false
	m.status = StatusIdle

	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		// Clean close: no reconnect.
		m.lastError = ""
		return
	case protocol.CloseInternalError:
		m.lastError = "server error, reconnecting"
	default:
		m.lastError = "connection lost, reconnecting"
	}

	if _, _, ok := m.identity.Identity(); !ok {
		// Identity went away while we were connected; stay idle.
		return
	}
	m.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the single delayed reconnect. The captured
// generation makes the timer a no-op if Connect or Disconnect ran in the
// meantime.
func (m *Manager) scheduleReconnectLocked(gen uint64) {
	delay := m.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		stale := m.generation != gen || m.status != StatusIdle
		m.mu.Unlock()
		if stale {
			return
		}
		if _, _, ok := m.identity.Identity(); !ok {
			return
		}
		m.Connect()
	})
}
