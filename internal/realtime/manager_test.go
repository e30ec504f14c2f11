package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"studiolink/internal/protocol"
)

type fakeIdentity struct {
	mu     sync.Mutex
	userID string
	role   string
	ok     bool
}

func (f *fakeIdentity) Identity() (string, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID, f.role, f.ok
}

func (f *fakeIdentity) set(userID, role string, ok bool) {
	f.mu.Lock()
	f.userID = userID
	f.role = role
	f.ok = ok
	f.mu.Unlock()
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startWS runs a websocket endpoint whose per-connection behavior is the
// given handler. Returns the ws:// URL and a connection counter.
func startWS(t *testing.T, handler func(conn *websocket.Conn)) (string, *int32) {
	t.Helper()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&conns, 1)
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &conns
}

// drain reads frames until the connection dies, forwarding them if ch is
// non-nil.
func drain(conn *websocket.Conn, ch chan []byte) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if ch != nil {
			ch <- raw
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectWhileUnauthenticatedIsNoOp(t *testing.T) {
	url, conns := startWS(t, func(conn *websocket.Conn) { drain(conn, nil) })

	m := NewManager(url, &fakeIdentity{ok: false}, nil)
	m.Connect()

	if m.IsConnected() {
		t.Fatal("connected without an authenticated identity")
	}
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(conns) != 0 {
		t.Fatal("transport was dialed without an authenticated identity")
	}
}

func TestAuthFrameIsFirst(t *testing.T) {
	frames := make(chan []byte, 16)
	url, _ := startWS(t, func(conn *websocket.Conn) { drain(conn, frames) })

	m := NewManager(url, &fakeIdentity{userID: "9", role: "team", ok: true}, nil)
	m.Connect()
	defer m.Disconnect()

	select {
	case raw := <-frames:
		var frame protocol.AuthFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("first frame not JSON: %v", err)
		}
		if frame.Type != protocol.FrameTypeAuth || frame.UserID != "9" || frame.Role != "team" {
			t.Fatalf("unexpected auth frame: %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame received after connect")
	}
}

func TestAuthFrameFallsBackOnMissingIdentityFields(t *testing.T) {
	frames := make(chan []byte, 16)
	url, _ := startWS(t, func(conn *websocket.Conn) { drain(conn, frames) })

	// Authenticated but with empty fields: the connection must still go
	// through with the default identity.
	m := NewManager(url, &fakeIdentity{userID: "", role: "", ok: true}, nil)
	m.Connect()
	defer m.Disconnect()

	select {
	case raw := <-frames:
		var frame protocol.AuthFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("first frame not JSON: %v", err)
		}
		if frame.UserID != "anonymous" || frame.Role != "client" {
			t.Fatalf("expected anonymous/client fallback, got %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame received after connect")
	}
	if !m.IsConnected() {
		t.Fatal("missing identity fields blocked the connection")
	}
}

func closeWith(conn *websocket.Conn, code int) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	// Give the peer a moment to read the close frame.
	time.Sleep(20 * time.Millisecond)
	conn.Close()
}

func TestCleanCloseNeverReconnects(t *testing.T) {
	url, conns := startWS(t, func(conn *websocket.Conn) {
		go drain(conn, nil)
		closeWith(conn, websocket.CloseNormalClosure)
	})

	m := NewManager(url, &fakeIdentity{userID: "1", role: "client", ok: true}, nil)
	m.ReconnectDelay = 50 * time.Millisecond
	m.Connect()

	waitFor(t, time.Second, "disconnect", func() bool { return !m.IsConnected() })
	time.Sleep(250 * time.Millisecond)
	if got := atomic.LoadInt32(conns); got != 1 {
		t.Fatalf("clean close triggered a reconnect: %d connections", got)
	}
}

func TestAbnormalCloseReconnectsOnce(t *testing.T) {
	var first int32
	url, conns := startWS(t, func(conn *websocket.Conn) {
		if atomic.CompareAndSwapInt32(&first, 0, 1) {
			go drain(conn, nil)
			closeWith(conn, 4000)
			return
		}
		drain(conn, nil) // second connection stays up
	})

	m := NewManager(url, &fakeIdentity{userID: "1", role: "client", ok: true}, nil)
	m.ReconnectDelay = 50 * time.Millisecond
	m.Connect()

	waitFor(t, 2*time.Second, "reconnect", func() bool {
		return atomic.LoadInt32(conns) == 2 && m.IsConnected()
	})
	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(conns); got != 2 {
		t.Fatalf("expected exactly one reconnect, got %d connections", got)
	}
}

func TestServerErrorCodeSurfacesStatus(t *testing.T) {
	url, _ := startWS(t, func(conn *websocket.Conn) {
		go drain(conn, nil)
		closeWith(conn, protocol.CloseInternalError)
	})

	m := NewManager(url, &fakeIdentity{userID: "1", role: "client", ok: true}, nil)
	m.ReconnectDelay = 500 * time.Millisecond
	m.Connect()
	defer m.Disconnect()

	waitFor(t, time.Second, "server-error status", func() bool {
		return m.LastError() == "server error, reconnecting"
	})
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	url, conns := startWS(t, func(conn *websocket.Conn) {
		go drain(conn, nil)
		closeWith(conn, 4000)
	})

	m := NewManager(url, &fakeIdentity{userID: "1", role: "client", ok: true}, nil)
	m.ReconnectDelay = 150 * time.Millisecond
	m.Connect()

	waitFor(t, time.Second, "disconnect", func() bool { return !m.IsConnected() })
	// Disconnect lands inside the reconnect window and must win.
	m.Disconnect()

	time.Sleep(400 * time.Millisecond)
	if got := atomic.LoadInt32(conns); got != 1 {
		t.Fatalf("reconnect fired after Disconnect: %d connections", got)
	}
}

func TestLogoutDuringConnectionGoesIdle(t *testing.T) {
	identity := &fakeIdentity{userID: "1", role: "client", ok: true}
	url, conns := startWS(t, func(conn *websocket.Conn) {
		go drain(conn, nil)
		// Identity disappears, then the transport drops abnormally.
		identity.set("", "", false)
		closeWith(conn, 4000)
	})

	m := NewManager(url, identity, nil)
	m.ReconnectDelay = 50 * time.Millisecond
	m.Connect()

	waitFor(t, time.Second, "disconnect", func() bool { return !m.IsConnected() })
	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(conns); got != 1 {
		t.Fatalf("reconnected after identity went away: %d connections", got)
	}
	if m.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", m.Status())
	}
}

func TestInboundFramesDispatchInOrderAndSurviveGarbage(t *testing.T) {
	ready := make(chan *websocket.Conn, 1)
	url, _ := startWS(t, func(conn *websocket.Conn) {
		ready <- conn
		drain(conn, nil)
	})

	m := NewManager(url, &fakeIdentity{userID: "1", role: "client", ok: true}, nil)

	var mu sync.Mutex
	var order []string
	m.SetHandler(func(frameType string, raw []byte) {
		var frame protocol.ChatMessageFrame
		json.Unmarshal(raw, &frame)
		mu.Lock()
		order = append(order, frame.ID)
		mu.Unlock()
	})

	m.Connect()
	defer m.Disconnect()

	conn := <-ready
	for _, payload := range []string{
		`{"type":"chat_message","id":"a","projectId":"1","message":"x"}`,
		`{this is not json`,
		`{"type":"chat_message","id":"b","projectId":"1","message":"y"}`,
		`{"type":"chat_message","id":"c","projectId":"1","message":"z"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}

	waitFor(t, time.Second, "3 dispatched frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	mu.Lock()
	got := strings.Join(order, "")
	mu.Unlock()
	if got != "abc" {
		t.Fatalf("frames dispatched out of order: %q", got)
	}
	if !m.IsConnected() {
		t.Fatal("malformed frame took the connection down")
	}
}

func TestSendWhileClosedDropsFrame(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", &fakeIdentity{userID: "1", role: "client", ok: true}, nil)
	if err := m.SendChatMessage("1", "hello"); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if m.LastError() == "" {
		t.Fatal("dropped send left no status")
	}
}
