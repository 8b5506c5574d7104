package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tsangwailam/mcclaw/internal/activity"
)

type fakeConn struct {
	mu     sync.Mutex
	open   bool
	full   bool
	frames [][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{open: true} }

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrClosed
	}
	if f.full {
		return ErrQueueFull
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeConn) messages(t *testing.T) []Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, frame := range f.frames {
		var m Message
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("invalid frame %q: %v", frame, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRegisterSendsAcknowledgement(t *testing.T) {
	h := New(nil)
	c := newFakeConn()
	h.Register(c)

	msgs := c.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Kind != KindConnected {
		t.Errorf("Expected kind %q, got %q", KindConnected, msgs[0].Kind)
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("Expected acknowledgement to carry a timestamp")
	}
	if h.Count() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", h.Count())
	}
}

func TestBroadcastSkipsClosedConnections(t *testing.T) {
	h := New(nil)

	open := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range open {
		h.Register(c)
	}
	closed := newFakeConn()
	h.Register(closed)
	closed.Close()

	agent := "claude"
	h.Broadcast(activity.Record{ID: "r1", Action: "Deploy", Agent: &agent, Status: activity.StatusCompleted})

	for i, c := range open {
		msgs := c.messages(t)
		if len(msgs) != 2 {
			t.Fatalf("conn %d: expected 2 messages, got %d", i, len(msgs))
		}
		m := msgs[1]
		if m.Kind != KindActivity {
			t.Errorf("conn %d: expected kind %q, got %q", i, KindActivity, m.Kind)
		}
		payload, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("conn %d: payload is %T", i, m.Payload)
		}
		if payload["id"] != "r1" || payload["agent"] != "claude" {
			t.Errorf("conn %d: unexpected payload %v", i, payload)
		}
	}

	if len(closed.messages(t)) != 1 {
		t.Error("Closed connection should not receive the broadcast")
	}
	if h.Count() != 3 {
		t.Errorf("Expected closed connection to be dropped, got %d subscribers", h.Count())
	}
}

func TestBroadcastFullQueueKeepsConnection(t *testing.T) {
	h := New(nil)
	slow := newFakeConn()
	fast := newFakeConn()
	h.Register(slow)
	h.Register(fast)

	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	h.Broadcast(activity.Record{ID: "r1", Action: "Build"})

	if got := len(fast.messages(t)); got != 2 {
		t.Errorf("Expected fast subscriber to get the broadcast, got %d messages", got)
	}
	if got := len(slow.messages(t)); got != 1 {
		t.Errorf("Expected slow subscriber to miss the broadcast, got %d messages", got)
	}
	if h.Count() != 2 {
		t.Errorf("Slow subscriber should stay registered, got %d subscribers", h.Count())
	}
}

func TestUnregister(t *testing.T) {
	h := New(nil)
	c := newFakeConn()
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)

	if h.Count() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", h.Count())
	}

	h.Broadcast(activity.Record{ID: "r1", Action: "Build"})
	if got := len(c.messages(t)); got != 1 {
		t.Errorf("Unregistered connection received %d messages", got)
	}
}

func TestCloseDisconnectsAll(t *testing.T) {
	h := New(nil)
	a, b := newFakeConn(), newFakeConn()
	h.Register(a)
	h.Register(b)

	h.Close()

	if a.Open() || b.Open() {
		t.Error("Expected all connections to be closed")
	}
	if h.Count() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", h.Count())
	}
}

func TestServeHTTPRejectsPlainRequests(t *testing.T) {
	h := New(nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
	if h.Count() != 0 {
		t.Errorf("Expected no subscribers, got %d", h.Count())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestServeHTTPStreamsActivity(t *testing.T) {
	h := New(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ack Message
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("Failed to read acknowledgement: %v", err)
	}
	if ack.Kind != KindConnected {
		t.Fatalf("Expected %q, got %q", KindConnected, ack.Kind)
	}

	waitFor(t, func() bool { return h.Count() == 1 })
	h.Broadcast(activity.Record{ID: "live-1", Action: "Ship", Status: activity.StatusInProgress})

	var msg struct {
		Kind    string          `json:"type"`
		Payload activity.Record `json:"data"`
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}
	if msg.Kind != KindActivity || msg.Payload.ID != "live-1" {
		t.Errorf("Unexpected broadcast %+v", msg)
	}

	ws.Close()
	waitFor(t, func() bool { return h.Count() == 0 })
}
