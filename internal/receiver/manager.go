// Package receiver owns the long-lived session with the receiver: connect,
// read and decode status lines, write queued commands, and reconnect with
// backoff when the session drops.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"marantzbridge/internal/observability"
	"marantzbridge/internal/protocol"
)

var (
	ErrQueueFull      = errors.New("pending write queue is full")
	ErrInvalidLine    = errors.New("command line contains a line terminator")
	ErrAlreadyRunning = errors.New("receiver manager already running")
	ErrConnectionLost = errors.New("connection lost")
	ErrWriteFailed    = errors.New("write failed")
)

const (
	connectedMessage    = "Successfully connected to receiver."
	disconnectedMessage = "Connection to receiver lost. Reconnecting..."
	shutdownMessage     = "Bridge shutting down."
)

// Sink receives decoded events and connectivity notifications. Publish is
// called from the manager's goroutines and must not block.
type Sink interface {
	Publish(ev protocol.Event)
}

// Config tunes a Manager. Zero durations disable the feature they control,
// except Backoff, which falls back to DefaultBackoffConfig.
type Config struct {
	Backoff BackoffConfig

	// WriteInterval is the pause after every write. The receiver drops
	// commands that arrive back to back.
	WriteInterval time.Duration
	WriteTimeout  time.Duration

	// KeepAliveInterval is how long the writer may be idle before it sends
	// KeepAliveCommand.
	KeepAliveInterval time.Duration
	KeepAliveCommand  string

	MaxLineLength int
	QueueSize     int
}

func DefaultConfig() Config {
	return Config{
		Backoff:           DefaultBackoffConfig(),
		WriteInterval:     100 * time.Millisecond,
		WriteTimeout:      5 * time.Second,
		KeepAliveInterval: 120 * time.Second,
		KeepAliveCommand:  "PW?",
		MaxLineLength:     protocol.DefaultMaxLineLength,
		QueueSize:         256,
	}
}

// Manager keeps the receiver session alive. Create one with NewManager and
// call Run; Enqueue and State are safe from any goroutine.
type Manager struct {
	sink   Sink
	cfg    Config
	logger *slog.Logger
	queue  *writeQueue

	running atomic.Bool
	// retarget wakes a backoff sleep after SetDialer.
	retarget chan struct{}

	mu     sync.RWMutex
	state  State
	dialer Dialer
	// target counts SetDialer calls; a session dialed with an older target
	// is dropped.
	target      uint64
	stopSession context.CancelFunc
}

func NewManager(dialer Dialer, sink Sink, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.KeepAliveCommand == "" {
		cfg.KeepAliveCommand = "PW?"
	}
	return &Manager{
		dialer: dialer,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		queue:  newWriteQueue(cfg.QueueSize),
		state:  Disconnected,

		retarget: make(chan struct{}, 1),
	}
}

// SetDialer switches the manager to a new receiver transport. The current
// session, if any, is closed and the next connect attempt uses d right away.
// Queued writes are kept.
func (m *Manager) SetDialer(d Dialer) {
	m.mu.Lock()
	m.dialer = d
	m.target++
	stop := m.stopSession
	m.mu.Unlock()

	m.logger.Info("receiver target changed", "target", d.String())
	if stop != nil {
		stop()
	}
	select {
	case m.retarget <- struct{}{}:
	default:
	}
}

func (m *Manager) currentDialer() (Dialer, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dialer, m.target
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Connected() bool { return m.State() == Connected }

// Pending returns the number of queued, unwritten lines.
func (m *Manager) Pending() int { return m.queue.len() }

// Enqueue appends lines to the write queue as one contiguous block. It never
// blocks. Lines queued while disconnected are written after the next
// successful connect.
func (m *Manager) Enqueue(lines ...string) error {
	return m.EnqueuePaced(0, lines...)
}

// EnqueuePaced is Enqueue with pause between the lines of this batch
// instead of the configured write interval. A pause of 0 keeps the
// configured interval.
func (m *Manager) EnqueuePaced(pause time.Duration, lines ...string) error {
	for _, l := range lines {
		if strings.ContainsAny(l, "\r\n") {
			return fmt.Errorf("%w: %q", ErrInvalidLine, l)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return m.queue.push(pause, lines...)
}

// Run connects and keeps the session alive until ctx is canceled. It returns
// nil on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)
	defer m.setState(Disconnected, shutdownMessage)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-m.retarget:
		default:
		}

		dialer, target := m.currentDialer()
		m.setState(Connecting, "")
		conn, err := dialer.Dial(ctx)
		if err != nil {
			observability.RecordConnectAttempt(false)
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			delay := NextBackoffDelay(m.cfg.Backoff, attempt, rng)
			m.logger.Warn("receiver connect failed", "target", dialer.String(), "attempt", attempt, "retry_in", delay, "error", err)
			m.setState(Reconnecting, "")
			if !m.backoff(ctx, delay) {
				return nil
			}
			continue
		}

		sessionCtx, ok := m.beginSession(ctx, target)
		if !ok {
			// Retargeted while dialing.
			_ = conn.Close()
			attempt = 0
			continue
		}

		observability.RecordConnectAttempt(true)
		attempt = 0
		m.logger.Info("receiver connected", "target", dialer.String(), "pending", m.queue.len())
		m.setState(Connected, "")

		err = m.serve(sessionCtx, conn)
		m.endSession()
		if ctx.Err() != nil {
			return nil
		}

		m.logger.Warn("receiver session ended", "target", dialer.String(), "error", err)
		m.setState(Reconnecting, disconnectedMessage)

		attempt = 1
		if !m.backoff(ctx, NextBackoffDelay(m.cfg.Backoff, attempt, rng)) {
			return nil
		}
	}
}

// beginSession registers a cancel func for the session about to be served.
// It fails if SetDialer ran after target was read.
func (m *Manager) beginSession(ctx context.Context, target uint64) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target != target {
		return nil, false
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	m.stopSession = cancel
	return sessionCtx, true
}

func (m *Manager) endSession() {
	m.mu.Lock()
	stop := m.stopSession
	m.stopSession = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// backoff sleeps for d, returning early when the target changes. It reports
// false once ctx is done.
func (m *Manager) backoff(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.retarget:
		return true
	case <-t.C:
		return true
	}
}

func (m *Manager) setState(next State, reason string) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next {
		return
	}
	observability.RecordConnectionState(next.String(), stateNames)
	m.logger.Debug("receiver state", "from", prev.String(), "to", next.String())

	if m.sink == nil {
		return
	}
	if next == Connected {
		m.sink.Publish(protocol.Connected(connectedMessage))
	}
	if prev == Connected {
		if reason == "" {
			reason = disconnectedMessage
		}
		m.sink.Publish(protocol.Disconnected(reason))
	}
}

// serve runs one session's reader and writer. When either stops, the other
// is stopped and both have returned before serve does.
func (m *Manager) serve(ctx context.Context, conn io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- m.readLoop(conn) }()
	go func() { errc <- m.writeLoop(ctx, conn) }()

	err := <-errc
	cancel()
	_ = conn.Close()
	<-errc
	return err
}

func (m *Manager) readLoop(r io.Reader) error {
	framer := protocol.NewFramer(r, m.cfg.MaxLineLength)
	osd := protocol.NewOSDContext(nil)
	for {
		line, err := framer.Next()
		if errors.Is(err, protocol.ErrLineTooLong) {
			observability.RecordDroppedLine()
			m.logger.Warn("dropped oversized receiver line", "max_len", m.cfg.MaxLineLength)
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		ev, ok := osd.Apply(protocol.Parse(line))
		if !ok {
			continue
		}
		observability.RecordLine(ev.Kind.String())
		if ev.Kind == protocol.Unrecognized {
			m.logger.Debug("unrecognized receiver line", "line", line)
		}
		if m.sink != nil {
			m.sink.Publish(ev)
		}
	}
}

func (m *Manager) writeLoop(ctx context.Context, w io.Writer) error {
	var keepalive <-chan time.Time
	if m.cfg.KeepAliveInterval > 0 {
		t := time.NewTicker(m.cfg.KeepAliveInterval)
		defer t.Stop()
		keepalive = t.C
	}
	lastWrite := time.Now()

	for {
		if item, ok := m.queue.pop(); ok {
			if err := m.write(w, item.line); err != nil {
				return err
			}
			lastWrite = time.Now()
			pause := m.cfg.WriteInterval
			if item.pause > 0 {
				pause = item.pause
			}
			if !sleepContext(ctx, pause) {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.queue.ready:
		case <-keepalive:
			if time.Since(lastWrite) < m.cfg.KeepAliveInterval {
				continue
			}
			m.logger.Debug("receiver keepalive", "command", m.cfg.KeepAliveCommand)
			if err := m.write(w, m.cfg.KeepAliveCommand); err != nil {
				return err
			}
			lastWrite = time.Now()
		}
	}
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (m *Manager) write(w io.Writer, line string) error {
	if d, ok := w.(writeDeadliner); ok && m.cfg.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	}
	_, err := io.WriteString(w, line+string(protocol.Terminator))
	observability.RecordWrite(err == nil)
	if err != nil {
		m.logger.Warn("receiver write failed, dropping line", "line", line, "error", err)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	m.logger.Debug("sent to receiver", "line", line)
	return nil
}

// sleepContext waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
