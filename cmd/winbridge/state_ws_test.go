package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"winbridge/internal/winhandler"
)

// Hub tests use Clients with a nil websocket.Conn; the hub guards conn.Close
// against nil and never writes itself.

func startHub(t *testing.T, sendBuf, broadcastBuf int) *Hub {
	t.Helper()
	hub := NewHub(testLogger(), HubConfig{SendBuf: sendBuf, BroadcastBuf: broadcastBuf})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for hub to stop")
		}
	})
	return hub
}

func registerClient(t *testing.T, hub *Hub, name string, buf int) *Client {
	t.Helper()
	c := &Client{hub: hub, send: make(chan []byte, buf), remoteAddr: name, logger: testLogger()}
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, name+" not registered in time")
	return c
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func receive(t *testing.T, ch <-chan []byte, what string) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for %s", what)
		return nil
	}
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub := startHub(t, 4, 8)
	c1 := registerClient(t, hub, "c1", 4)
	c2 := registerClient(t, hub, "c2", 4)

	msg := []byte(`{"type":"ready"}`)
	// Direct send: BroadcastBytes may drop under scheduling pressure.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		if got := receive(t, c.send, c.remoteAddr); string(got) != string(msg) {
			t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := startHub(t, 1, 8)
	slow := registerClient(t, hub, "slow", 1)
	fast := registerClient(t, hub, "fast", 8)

	// Simulate a stuck client.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"stopped"}`)
	hub.broadcast <- msg

	if got := receive(t, fast.send, "fast client"); string(got) != string(msg) {
		t.Fatalf("fast client got %q", got)
	}

	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("ClientCount = %d, want 1", n)
	}
}

func decodeFrame(t *testing.T, msg []byte) (string, map[string]any) {
	t.Helper()
	var env struct {
		Type string         `json:"type"`
		Ts   *time.Time     `json:"ts"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	if env.Ts == nil {
		t.Fatalf("frame %s has no timestamp", msg)
	}
	return env.Type, env.Data
}

func TestRunBroadcaster_ConvertsEventsInOrder(t *testing.T) {
	hub := startHub(t, 16, 16)
	c := registerClient(t, hub, "c", 16)

	src := make(chan winhandler.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunBroadcaster(ctx, hub, src, testLogger())

	src <- winhandler.EventReady{}
	src <- winhandler.EventGamepadBound{ID: 3, Name: "Xbox 360 Pad"}
	src <- winhandler.EventGamepadReleased{ID: 3, Reason: "released by peer"}

	typ, _ := decodeFrame(t, receive(t, c.send, "ready"))
	if typ != "ready" {
		t.Fatalf("first frame %q", typ)
	}
	typ, data := decodeFrame(t, receive(t, c.send, "gamepad_bound"))
	if typ != "gamepad_bound" || data["name"] != "Xbox 360 Pad" || data["id"] != float64(3) {
		t.Fatalf("unexpected frame %q %v", typ, data)
	}
	typ, data = decodeFrame(t, receive(t, c.send, "gamepad_released"))
	if typ != "gamepad_released" || data["reason"] != "released by peer" {
		t.Fatalf("unexpected frame %q %v", typ, data)
	}
}

func TestRunBroadcaster_CoalescesCursor(t *testing.T) {
	hub := startHub(t, 16, 16)
	c := registerClient(t, hub, "c", 16)

	src := make(chan winhandler.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunBroadcaster(ctx, hub, src, testLogger())

	src <- winhandler.EventCursorPos{X: 1, Y: 1}
	src <- winhandler.EventCursorPos{X: 2, Y: 2}
	src <- winhandler.EventCursorPos{X: 10, Y: 20}

	typ, data := decodeFrame(t, receive(t, c.send, "cursor_pos"))
	if typ != "cursor_pos" || data["x"] != float64(10) || data["y"] != float64(20) {
		t.Fatalf("expected latest cursor, got %q %v", typ, data)
	}

	// A pending cursor is flushed ahead of the next event.
	src <- winhandler.EventCursorPos{X: 5, Y: 5}
	src <- winhandler.EventStopped{}
	typ, _ = decodeFrame(t, receive(t, c.send, "flushed cursor"))
	if typ != "cursor_pos" {
		t.Fatalf("expected cursor_pos before stopped, got %q", typ)
	}
	typ, _ = decodeFrame(t, receive(t, c.send, "stopped"))
	if typ != "stopped" {
		t.Fatalf("got %q, want stopped", typ)
	}

	select {
	case extra := <-c.send:
		t.Fatalf("unexpected extra frame %s", extra)
	case <-time.After(2 * wsCursorCoalesceWindow):
	}
}

func TestServer_StateInitThenBroadcast(t *testing.T) {
	srv := NewServer(testLogger(), func() winhandler.Status {
		return winhandler.Status{Running: true, Ready: true, GamepadName: "pad"}
	}, HubConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)

	mux := http.NewServeMux()
	srv.Register(mux, "/ws/state")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/state"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read state_init: %v", err)
	}
	typ, data := decodeFrame(t, msg)
	if typ != "state_init" || data["ready"] != true || data["gamepad_name"] != "pad" {
		t.Fatalf("unexpected state_init %q %v", typ, data)
	}

	waitUntil(t, time.Second, func() bool { return srv.Hub().ClientCount() == 1 }, "client not registered")
	srv.Hub().BroadcastBytes([]byte(`{"type":"ready"}`))

	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if string(msg) != `{"type":"ready"}` {
		t.Fatalf("broadcast = %s", msg)
	}
}
