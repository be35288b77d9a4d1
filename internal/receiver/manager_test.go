package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marantzbridge/internal/protocol"
)

// pipeDialer hands the manager one end of a net.Pipe and the test the other.
type pipeDialer struct {
	peers    chan net.Conn
	failures atomic.Int32
	dials    atomic.Int32
	// brokenWrites makes that many sessions fail their first write.
	brokenWrites atomic.Int32
}

// brokenWriteConn accepts reads but fails every write.
type brokenWriteConn struct {
	net.Conn
}

func (c brokenWriteConn) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{peers: make(chan net.Conn, 4)}
}

func (d *pipeDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	d.dials.Add(1)
	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, errors.New("connection refused")
	}
	local, remote := net.Pipe()
	d.peers <- remote
	if d.brokenWrites.Load() > 0 {
		d.brokenWrites.Add(-1)
		return brokenWriteConn{Conn: local}, nil
	}
	return local, nil
}

func (d *pipeDialer) String() string { return "pipe" }

func (d *pipeDialer) nextPeer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.peers:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for dial")
		return nil
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *recordingSink) Publish(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) kinds() []protocol.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func (s *recordingSink) count(kind protocol.EventKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func testConfig() Config {
	return Config{
		Backoff:      BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2},
		WriteTimeout: time.Second,
		QueueSize:    64,
	}
}

func startManager(t *testing.T, d Dialer, cfg Config) (*Manager, *recordingSink, func()) {
	t.Helper()
	sink := &recordingSink{}
	m := NewManager(d, sink, cfg, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for Run to return")
		}
	}
	return m, sink, stop
}

// readLines reads n CR-terminated lines from the peer.
func readLines(t *testing.T, r *bufio.Reader, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\r')
		if err != nil {
			t.Fatalf("read line %d: %v", i, err)
		}
		out = append(out, strings.TrimSuffix(line, "\r"))
	}
	return out
}

func TestManager_ConnectPublishesEventsInOrder(t *testing.T) {
	d := newPipeDialer()
	m, sink, stop := startManager(t, d, testConfig())
	defer stop()

	peer := d.nextPeer(t)
	defer peer.Close()

	waitUntil(t, time.Second, m.Connected, "manager not connected")

	if _, err := io.WriteString(peer, "PWON\rMV355\rCVFL 50\rCVEND\r"); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return len(sink.kinds()) >= 5 }, "events not published")

	want := []protocol.EventKind{
		protocol.ReceiverConnected,
		protocol.PowerState,
		protocol.Volume,
		protocol.ChannelLevel,
		protocol.ChannelLevelListEnd,
	}
	got := sink.kinds()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d kind=%v, want %v (all %v)", i, got[i], want[i], got)
		}
	}
}

func TestManager_QueuedWritesFlushOnConnect(t *testing.T) {
	d := newPipeDialer()
	d.failures.Store(2)

	m, _, stop := startManager(t, d, testConfig())
	defer stop()

	if err := m.Enqueue("PW?", "MV?"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	peer := d.nextPeer(t)
	defer peer.Close()

	got := readLines(t, bufio.NewReader(peer), 2)
	if got[0] != "PW?" || got[1] != "MV?" {
		t.Fatalf("writes=%q", got)
	}
	if n := d.dials.Load(); n < 3 {
		t.Fatalf("dials=%d, want >= 3", n)
	}
}

func TestManager_ReconnectsAfterConnectionLoss(t *testing.T) {
	d := newPipeDialer()
	m, sink, stop := startManager(t, d, testConfig())
	defer stop()

	peer := d.nextPeer(t)
	waitUntil(t, time.Second, m.Connected, "manager not connected")
	_ = peer.Close()

	waitUntil(t, time.Second, func() bool { return sink.count(protocol.ReceiverDisconnected) == 1 }, "no disconnect notification")

	// Writes submitted while down survive the reconnect.
	if err := m.Enqueue("SI?"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	peer2 := d.nextPeer(t)
	defer peer2.Close()

	got := readLines(t, bufio.NewReader(peer2), 1)
	if got[0] != "SI?" {
		t.Fatalf("write after reconnect=%q", got[0])
	}
	waitUntil(t, time.Second, func() bool { return sink.count(protocol.ReceiverConnected) == 2 }, "no second connect notification")

	kinds := sink.kinds()
	if kinds[0] != protocol.ReceiverConnected || kinds[1] != protocol.ReceiverDisconnected || kinds[2] != protocol.ReceiverConnected {
		t.Fatalf("notification order=%v", kinds)
	}
}

func TestManager_ConcurrentBatchesStayContiguous(t *testing.T) {
	d := newPipeDialer()
	m, _, stop := startManager(t, d, testConfig())
	defer stop()

	peer := d.nextPeer(t)
	defer peer.Close()
	waitUntil(t, time.Second, m.Connected, "manager not connected")

	const producers = 8
	const perBatch = 4

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			batch := make([]string, perBatch)
			for i := range batch {
				batch[i] = fmt.Sprintf("P%d-%d", p, i)
			}
			if err := m.Enqueue(batch...); err != nil {
				t.Errorf("Enqueue: %v", err)
			}
		}(p)
	}
	wg.Wait()

	got := readLines(t, bufio.NewReader(peer), producers*perBatch)
	for i := 0; i < len(got); i += perBatch {
		var p int
		if _, err := fmt.Sscanf(got[i], "P%d-0", &p); err != nil {
			t.Fatalf("batch at %d starts with %q", i, got[i])
		}
		for j := 1; j < perBatch; j++ {
			want := fmt.Sprintf("P%d-%d", p, j)
			if got[i+j] != want {
				t.Fatalf("line %d=%q, want %q (batch interleaved)", i+j, got[i+j], want)
			}
		}
	}
}

func TestManager_KeepAliveWhenIdle(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig()
	cfg.KeepAliveInterval = 30 * time.Millisecond
	_, _, stop := startManager(t, d, cfg)
	defer stop()

	peer := d.nextPeer(t)
	defer peer.Close()

	got := readLines(t, bufio.NewReader(peer), 1)
	if got[0] != "PW?" {
		t.Fatalf("keepalive=%q, want PW?", got[0])
	}
}

func TestManager_OversizedLineDoesNotDropSession(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig()
	cfg.MaxLineLength = 32
	m, sink, stop := startManager(t, d, cfg)
	defer stop()

	peer := d.nextPeer(t)
	defer peer.Close()
	waitUntil(t, time.Second, m.Connected, "manager not connected")

	if _, err := io.WriteString(peer, strings.Repeat("Z", 500)+"\rMUON\r"); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return sink.count(protocol.MuteState) == 1 }, "line after oversized line not decoded")
	if sink.count(protocol.ReceiverDisconnected) != 0 {
		t.Fatalf("oversized line dropped the session")
	}
}

func TestManager_EnqueueRejections(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	m := NewManager(newPipeDialer(), nil, cfg, nil)

	if err := m.Enqueue("PW?", "MV?", "SI?"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v, want ErrQueueFull", err)
	}
	if m.Pending() != 0 {
		t.Fatalf("rejected batch partially queued: pending=%d", m.Pending())
	}
	if err := m.Enqueue("PW?\rMV?"); !errors.Is(err, ErrInvalidLine) {
		t.Fatalf("err=%v, want ErrInvalidLine", err)
	}
}

func TestManager_RunTwice(t *testing.T) {
	d := newPipeDialer()
	m, _, stop := startManager(t, d, testConfig())
	defer stop()
	peer := d.nextPeer(t)
	defer peer.Close()

	if err := m.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run err=%v, want ErrAlreadyRunning", err)
	}
}

func TestManager_StopEmitsDisconnect(t *testing.T) {
	d := newPipeDialer()
	m, sink, stop := startManager(t, d, testConfig())
	peer := d.nextPeer(t)
	defer peer.Close()
	waitUntil(t, time.Second, m.Connected, "manager not connected")

	stop()

	if m.State() != Disconnected {
		t.Fatalf("state=%v after stop", m.State())
	}
	if sink.count(protocol.ReceiverDisconnected) != 1 {
		t.Fatalf("disconnect notifications=%d", sink.count(protocol.ReceiverDisconnected))
	}
}

func TestManager_ConnectResetsBackoff(t *testing.T) {
	d := newPipeDialer()
	d.failures.Store(3)
	cfg := testConfig()
	// Unreset, the fourth delay would be 10ms*4^3, capped at 600ms.
	cfg.Backoff = BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 600 * time.Millisecond, Multiplier: 4}
	m, _, stop := startManager(t, d, cfg)
	defer stop()

	peer := d.nextPeer(t)
	waitUntil(t, 2*time.Second, m.Connected, "manager not connected")

	dropped := time.Now()
	_ = peer.Close()

	peer2 := d.nextPeer(t)
	defer peer2.Close()
	if gap := time.Since(dropped); gap > 300*time.Millisecond {
		t.Fatalf("redial took %v; backoff was not reset by the successful connect", gap)
	}
}

func TestManager_WriteFailureReconnectsAndKeepsQueue(t *testing.T) {
	d := newPipeDialer()
	d.brokenWrites.Store(1)
	m, sink, stop := startManager(t, d, testConfig())
	defer stop()

	peer := d.nextPeer(t)
	defer peer.Close()
	waitUntil(t, time.Second, m.Connected, "manager not connected")

	if err := m.Enqueue("PW?", "MV?", "SI?"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return sink.count(protocol.ReceiverDisconnected) == 1 }, "write failure did not drop the session")

	// The in-flight line is dropped; the rest of the batch follows on the
	// next session.
	peer2 := d.nextPeer(t)
	defer peer2.Close()
	got := readLines(t, bufio.NewReader(peer2), 2)
	if got[0] != "MV?" || got[1] != "SI?" {
		t.Fatalf("writes after reconnect=%q, want [MV? SI?]", got)
	}
	waitUntil(t, time.Second, func() bool { return sink.count(protocol.ReceiverConnected) == 2 }, "no reconnect notification")
}

func TestManager_WriteFailureEntersReconnecting(t *testing.T) {
	d := newPipeDialer()
	d.brokenWrites.Store(1)
	cfg := testConfig()
	cfg.Backoff = BackoffConfig{InitialDelay: 300 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	m, _, stop := startManager(t, d, cfg)
	defer stop()

	peer := d.nextPeer(t)
	defer peer.Close()
	waitUntil(t, time.Second, m.Connected, "manager not connected")

	if err := m.Enqueue("PW?"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return m.State() == Reconnecting }, "state did not become reconnecting")
}

func TestManager_PacedBatch(t *testing.T) {
	d := newPipeDialer()
	m, _, stop := startManager(t, d, testConfig())
	defer stop()

	peer := d.nextPeer(t)
	defer peer.Close()
	waitUntil(t, time.Second, m.Connected, "manager not connected")

	const pause = 80 * time.Millisecond
	if err := m.EnqueuePaced(pause, "MNOPT", "MNENT"); err != nil {
		t.Fatalf("EnqueuePaced: %v", err)
	}

	r := bufio.NewReader(peer)
	first := readLines(t, r, 1)
	firstAt := time.Now()
	second := readLines(t, r, 1)
	if gap := time.Since(firstAt); gap < pause-10*time.Millisecond {
		t.Fatalf("lines %q %q written %v apart, want >= %v", first[0], second[0], gap, pause)
	}
}

func TestManager_SetDialerReconnectsToNewTarget(t *testing.T) {
	d1 := newPipeDialer()
	cfg := testConfig()
	// A long backoff shows the switch does not wait for it.
	cfg.Backoff = BackoffConfig{InitialDelay: 5 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 1}
	m, sink, stop := startManager(t, d1, cfg)
	defer stop()

	peer := d1.nextPeer(t)
	defer peer.Close()
	waitUntil(t, time.Second, m.Connected, "manager not connected")

	d2 := newPipeDialer()
	m.SetDialer(d2)

	peer2 := d2.nextPeer(t)
	defer peer2.Close()
	waitUntil(t, time.Second, func() bool { return sink.count(protocol.ReceiverConnected) == 2 }, "no connect on new target")

	if err := m.Enqueue("PW?"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := readLines(t, bufio.NewReader(peer2), 1); got[0] != "PW?" {
		t.Fatalf("write on new target=%q", got[0])
	}
	if n := d1.dials.Load(); n != 1 {
		t.Fatalf("old target dialed %d times after switch", n)
	}
}
