package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/countrybattle/backend/internal/battle"
)

type nullStore struct{}

func (nullStore) SaveBattleResult(ctx context.Context, res battle.Result) error { return nil }

func testConn(buffer int) *Connection {
	return &Connection{
		ID:          "test-" + time.Now().Format("150405.000000000"),
		Send:        make(chan []byte, buffer),
		ConnectedAt: time.Now(),
	}
}

func TestBroadcastDeliversAndPrunesFailures(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	healthy1 := testConn(4)
	healthy2 := testConn(4)
	broken := testConn(0) // zero buffer: every send fails
	for _, c := range []*Connection{healthy1, broken, healthy2} {
		c.Manager = cm
		cm.add(c)
	}

	cm.Broadcast(map[string]string{"type": "state_update"})

	if got := cm.Count(); got != 2 {
		t.Fatalf("expected broken connection pruned, count=%d", got)
	}
	for _, c := range []*Connection{healthy1, healthy2} {
		select {
		case msg := <-c.Send:
			if !strings.Contains(string(msg), "state_update") {
				t.Errorf("unexpected payload %s", msg)
			}
		default:
			t.Errorf("connection %s did not receive the broadcast", c.ID)
		}
	}
}

func TestBroadcastMarshalsOnce(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	a := testConn(1)
	b := testConn(1)
	a.Manager, b.Manager = cm, cm
	cm.add(a)
	cm.add(b)

	cm.Broadcast(map[string]int{"x": 1})

	ma, mb := <-a.Send, <-b.Send
	if string(ma) != string(mb) {
		t.Errorf("connections received different payloads: %s vs %s", ma, mb)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	c := testConn(1)
	c.Manager = cm
	cm.add(c)

	cm.Remove(c)
	cm.Remove(c) // second removal is a no-op, not a panic
	if cm.Count() != 0 {
		t.Errorf("expected empty registry, count=%d", cm.Count())
	}
}

func TestBroadcastAfterRemoveDoesNotPanic(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	c := testConn(1)
	c.Manager = cm
	cm.add(c)
	cm.Remove(c)

	cm.Broadcast(map[string]string{"type": "state_update"})
	if cm.Count() != 0 {
		t.Errorf("expected empty registry, count=%d", cm.Count())
	}
}

func TestSendToFailureRemovesConnection(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	c := testConn(0)
	c.Manager = cm
	cm.add(c)

	cm.SendTo(c, map[string]string{"type": "pong"})
	if cm.Count() != 0 {
		t.Errorf("failed single-target send should prune the connection, count=%d", cm.Count())
	}
}

func dialTestServer(t *testing.T, handler http.HandlerFunc) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func TestClientPingGetsPong(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	ws := dialTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if _, err := cm.Upgrade(w, r); err != nil {
			t.Errorf("upgrade: %v", err)
		}
	})

	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readMessage(t, ws); m["type"] != "pong" {
		t.Errorf("expected pong, got %v", m)
	}
}

func TestViewerReceivesStateOnConnect(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	clock := clockwork.NewFakeClock()
	battles := battle.NewManager(cm, nullStore{}, battle.Defaults{
		Countries: []string{"Turkey", "Egypt"},
		Duration:  time.Minute,
	}, clock)
	defer battles.Stop()

	if _, err := battles.Start(context.Background(), "admin", nil, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	handler := NewWebSocketHandler(cm, battles)
	ws := dialTestServer(t, handler.HandleViewer)

	m := readMessage(t, ws)
	if m["type"] != "state_update" {
		t.Fatalf("expected state_update on connect, got %v", m["type"])
	}
	if m["creator_username"] != "admin" {
		t.Errorf("unexpected creator %v", m["creator_username"])
	}
}

func TestViewerReceivesNoBattleWhenIdle(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	battles := battle.NewManager(cm, nullStore{}, battle.Defaults{
		Countries: []string{"Turkey", "Egypt"},
		Duration:  time.Minute,
	}, clockwork.NewFakeClock())

	handler := NewWebSocketHandler(cm, battles)
	ws := dialTestServer(t, handler.HandleViewer)

	if m := readMessage(t, ws); m["type"] != "no_battle" {
		t.Errorf("expected no_battle, got %v", m["type"])
	}
}
