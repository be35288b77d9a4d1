package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marantzbridge/internal/eventbus"
	"marantzbridge/internal/protocol"
)

// NOTE: The hub tests focus on hub behavior (fanout + slow-client disconnection)
// without standing up a real websocket server.
//
// We construct Clients with a nil websocket.Conn and ensure our test paths never
// require actual writes. For slow-client eviction, the hub calls conn.Close();
// nil is safe (hub guards against nil).

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func runTestHub(t *testing.T, hub *Hub) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for hub to stop")
		}
	}
}

func newTestClient(hub *Hub, name string, sendBuf int) *Client {
	return &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, sendBuf),
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	stop := runTestHub(t, hub)
	defer stop()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	msg := []byte(`{"type":"volume_update","data":{"value":45.5,"db":-4.5}}`)

	// Avoid BroadcastBytes() here because it is intentionally non-blocking and may
	// drop if the hub broadcast queue is temporarily full during scheduling.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	stop := runTestHub(t, hub)
	defer stop()

	// Slow client: send buffer will fill and we never drain it.
	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"mute_update","data":{"state":"on"}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
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

	if n := hub.Len(); n != 1 {
		t.Fatalf("hub has %d clients, want 1", n)
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
		t.Fatalf("decode frame %q: %v", msg, err)
	}
	if env.Ts == nil {
		t.Fatalf("frame %q has no ts", msg)
	}
	return env.Type, env.Data
}

func TestRunBroadcaster_CoalescesVolumeWithoutReordering(t *testing.T) {
	hub := newTestHub(t, 32, 32)
	stop := runTestHub(t, hub)
	defer stop()

	c := newTestClient(hub, "c", 32)
	registerClient(t, hub, c)

	bus := eventbus.New(32, slog.Default())
	sub := bus.Subscribe("ws")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(ctx, hub, sub, slog.Default())
	}()
	defer func() {
		cancel()
		<-done
	}()

	for _, line := range []string{"MV40", "MV41", "MV42", "PWON"} {
		bus.Publish(protocol.Parse(line))
	}

	var types []string
	var lastVolume float64
	deadline := time.After(time.Second)
	for len(types) == 0 || types[len(types)-1] != "power_update" {
		select {
		case msg := <-c.send:
			typ, data := decodeFrame(t, msg)
			types = append(types, typ)
			if typ == "volume_update" {
				lastVolume, _ = data["value"].(float64)
			}
		case <-deadline:
			t.Fatalf("timeout; frames so far: %v", types)
		}
	}

	if len(types) > 4 {
		t.Fatalf("frames=%v, want at most 4", types)
	}
	if lastVolume != 42 {
		t.Fatalf("last volume before power frame=%v, want 42", lastVolume)
	}

	// A lone volume update is still delivered after the window.
	bus.Publish(protocol.Parse("MV30"))
	select {
	case msg := <-c.send:
		typ, data := decodeFrame(t, msg)
		if typ != "volume_update" || data["value"] != float64(30) {
			t.Fatalf("got %s %v, want volume_update 30", typ, data)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("pending volume never flushed")
	}
}

func TestConvertEvent_Unrecognized(t *testing.T) {
	out := convertEvent(protocol.Parse("XYZZY"), time.Now())
	if out.Type != "unrecognized_line" {
		t.Fatalf("type=%q", out.Type)
	}
	if d, ok := out.Data.(wsUnrecognizedData); !ok || d.Line != "XYZZY" {
		t.Fatalf("data=%#v", out.Data)
	}
}

func TestStateWS_InitialFramesAndRename(t *testing.T) {
	state := &fakeState{snap: ReceiverState{Connected: true, Power: "on"}}
	inputs := NewInputNames(nil)
	srv := NewServer(slog.Default(), state, inputs, ServerConfig{})
	inputs.OnChange(func(names map[string]string) {
		srv.Hub().BroadcastEvent(channelInputNames, names)
	})

	stop := runTestHub(t, srv.Hub())
	defer stop()

	mux := http.NewServeMux()
	srv.Register(mux, "/ws")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() (string, map[string]any) {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return decodeFrame(t, msg)
	}

	want := []string{"state_init", "input_names_update", "receiver_connected"}
	for _, w := range want {
		typ, data := read()
		if typ != w {
			t.Fatalf("frame type=%q, want %q", typ, w)
		}
		if typ == "state_init" && data["power"] != "on" {
			t.Fatalf("state_init data=%v", data)
		}
	}
	if state.resyncs.Load() != 1 {
		t.Fatalf("resyncs=%d, want 1", state.resyncs.Load())
	}

	rename := `{"type":"rename_input","data":{"input_code":"CD","new_name":"Turntable"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(rename)); err != nil {
		t.Fatalf("write: %v", err)
	}
	typ, data := read()
	if typ != "input_names_update" || data["CD"] != "Turntable" {
		t.Fatalf("got %s %v, want renamed input names", typ, data)
	}
}

func TestStateWS_SetReceiverIP(t *testing.T) {
	sw := &fakeSwitcher{}
	addr := NewReceiverAddress(DefaultConfig(), sw, nil, slog.Default())
	srv := NewServer(slog.Default(), &fakeState{}, nil, ServerConfig{Receiver: addr})
	addr.OnChange(func(up ReceiverIPUpdate) {
		srv.Hub().BroadcastEvent(channelIPUpdateSuccess, up)
	})

	stop := runTestHub(t, srv.Hub())
	defer stop()

	mux := http.NewServeMux()
	srv.Register(mux, "/ws")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Skips the connect frames.
	readType := func(want string) map[string]any {
		t.Helper()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read while waiting for %s: %v", want, err)
			}
			if typ, data := decodeFrame(t, msg); typ == want {
				return data
			}
		}
	}

	send := func(ip string) {
		t.Helper()
		msg := `{"type":"set_receiver_ip","data":{"ip":"` + ip + `"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send("192.168.1.50")
	data := readType("ip_update_success")
	if data["ip"] != "192.168.1.50" || data["message"] == "" {
		t.Fatalf("ip_update_success data=%v", data)
	}
	if sw.last() == nil {
		t.Fatalf("manager was not retargeted")
	}

	send("not a host")
	data = readType("ip_update_error")
	if msg, _ := data["message"].(string); !strings.Contains(msg, "invalid receiver address") {
		t.Fatalf("ip_update_error data=%v", data)
	}
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
