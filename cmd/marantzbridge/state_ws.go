package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marantzbridge/internal/eventbus"
	"marantzbridge/internal/protocol"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that turns bus events into push frames
//
// Notes:
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - On connect a client gets "state_init", "input_names_update" and the
//     current receiver_connected / receiver_disconnected status, in that order.
//   - Clients may send {type:"rename_input"}, {type:"reset_input_names"} and
//     {type:"set_receiver_ip"}.
//
// ============================================================================

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// wsOutboundEvent is a pre-typed, externally-consumable push event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means use now
}

// wsInbound is a client -> server message.
type wsInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wsRenameInputData struct {
	InputCode string `json:"input_code"`
	NewName   string `json:"new_name"`
}

type wsSetReceiverIPData struct {
	IP string `json:"ip"`
}

type wsMessageData struct {
	Message string `json:"message"`
}

// wsUnrecognizedData is the payload for unrecognized_line frames.
type wsUnrecognizedData struct {
	Line string `json:"line"`
}

func marshalEnvelope(typ string, data any, at time.Time) ([]byte, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: typ, Ts: &at, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 64
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 256
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "client", c.id, "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()

		h.logger.Info("ws client disconnected", "client", c.id, "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// BroadcastEvent marshals and broadcasts one push event.
func (h *Hub) BroadcastEvent(typ string, data any) {
	msg, err := marshalEnvelope(typ, data, time.Time{})
	if err != nil {
		h.logger.Warn("ws marshal failed", "error", err, "type", typ)
		return
	}
	h.BroadcastBytes(msg)
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub
	id  uuid.UUID

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 64
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		id:         uuid.New(),
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// enqueue queues msg for this client only. It reports false if the client
// is already too slow to take it.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

const (
	writeWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// maxInboundBytes caps client -> server frames.
	maxInboundBytes = 4096
)

// wsVolumeCoalesceWindow is the maximum time window during which bursty volume updates
// are coalesced (latest-wins) before broadcasting to clients.
const wsVolumeCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

func (c *Client) logExit(pump, what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "client", c.id, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+what+")", "client", c.id, "error", err)
}

// readPump reads client messages, hands them to handle, and unregisters the
// client on read error.
func (c *Client) readPump(ctx context.Context, handle func(*Client, wsInbound)) {
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.logger.Debug("ws ignoring malformed client message", "client", c.id, "bytes", len(data))
			continue
		}
		if handle != nil {
			handle(c, msg)
		}
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

// StateSource provides what a newly connected client needs.
type StateSource interface {
	Snapshot(ctx context.Context) (ReceiverState, error)
	Resync(reason string)
}

type Server struct {
	logger *slog.Logger

	hub    *Hub
	state    StateSource
	inputs   *InputNames
	receiver ReceiverHostSetter
}

type ServerConfig struct {
	Hub HubConfig
	// Receiver handles set_receiver_ip. Nil ignores those requests.
	Receiver ReceiverHostSetter
}

// NewServer constructs the WS state server components. Call Register on a
// mux, start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, state StateSource, inputs *InputNames, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		state:    state,
		inputs:   inputs,
		receiver: cfg.Receiver,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends the initial
// frames.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// The pumps must outlive the request context; net/http cancels it when
	// the handler returns. The hub and socket errors end them instead.
	go client.writePump(context.Background())
	go client.readPump(context.Background(), s.handleClientMessage)

	for _, msg := range s.initialFrames(r.Context()) {
		if !client.enqueue(msg) {
			s.hub.unregister <- client
			return
		}
	}
}

// initialFrames builds state_init, input_names_update and the connection
// status frame. A failed snapshot skips state_init only.
func (s *Server) initialFrames(ctx context.Context) [][]byte {
	var frames [][]byte

	connected := false
	if s.state != nil {
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		snap, err := s.state.Snapshot(waitCtx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn("ws snapshot request failed", "error", err)
			}
		} else {
			connected = snap.Connected
			if msg, err := marshalEnvelope(channelStateInit, snap, time.Time{}); err == nil {
				frames = append(frames, msg)
			}
		}
	}

	if s.inputs != nil {
		if msg, err := marshalEnvelope(channelInputNames, s.inputs.All(), time.Time{}); err == nil {
			frames = append(frames, msg)
		}
	}

	status := protocol.Disconnected("Connection to receiver lost. Reconnecting...")
	if connected {
		status = protocol.Connected("Successfully connected to receiver.")
		// Push a fresh full status to everyone, as the new client expects.
		s.state.Resync("ws client connected")
	}
	if msg, err := marshalEnvelope(channelName(status.Kind), status.Payload, time.Time{}); err == nil {
		frames = append(frames, msg)
	}
	return frames
}

func (s *Server) handleClientMessage(c *Client, msg wsInbound) {
	switch msg.Type {
	case "rename_input":
		var data wsRenameInputData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.InputCode == "" {
			s.logger.Warn("invalid rename_input request", "client", c.id)
			return
		}
		if s.inputs == nil {
			return
		}
		if err := s.inputs.Set(data.InputCode, data.NewName); err != nil {
			s.logger.Warn("rename_input failed", "client", c.id, "error", err)
			return
		}
		s.logger.Info("input renamed", "client", c.id, "input", data.InputCode, "name", data.NewName)

	case "reset_input_names":
		if s.inputs == nil {
			return
		}
		if err := s.inputs.Reset(); err != nil {
			s.logger.Warn("reset_input_names failed", "client", c.id, "error", err)
			return
		}
		s.logger.Info("input names reset", "client", c.id)

	case "set_receiver_ip":
		var data wsSetReceiverIPData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Warn("invalid set_receiver_ip request", "client", c.id)
			return
		}
		if s.receiver == nil {
			return
		}
		// Success is broadcast to every client by the address's OnChange.
		if _, err := s.receiver.SetHost(data.IP); err != nil {
			s.logger.Warn("set_receiver_ip failed", "client", c.id, "ip", data.IP, "error", err)
			if frame, mErr := marshalEnvelope(channelIPUpdateError, wsMessageData{Message: err.Error()}, time.Time{}); mErr == nil {
				c.enqueue(frame)
			}
		}

	default:
		s.logger.Debug("ws ignoring unknown client message", "client", c.id, "type", msg.Type)
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads bus events, marshals them, and broadcasts them to all
// hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, sub *eventbus.Subscription, logger *slog.Logger) {
	if hub == nil || sub == nil {
		return
	}
	defer sub.Unsubscribe()

	volumeChannel := channelName(protocol.Volume)

	// Flush the latest pending volume at most once every
	// wsVolumeCoalesceWindow, even if updates keep arriving.
	var pendingVol *wsOutboundEvent
	var volTimer *time.Timer
	var volTimerCh <-chan time.Time

	flushPendingVol := func() {
		if pendingVol == nil {
			return
		}
		msg, err := marshalEnvelope(pendingVol.Type, pendingVol.Data, pendingVol.At)
		pendingVol = nil
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", volumeChannel)
			return
		}
		hub.BroadcastBytes(msg)
	}

	stopVolTimer := func() {
		if volTimer != nil {
			volTimer.Stop()
		}
		volTimer = nil
		volTimerCh = nil
	}

	startVolTimerIfNeeded := func() {
		if volTimer != nil {
			return
		}
		volTimer = time.NewTimer(wsVolumeCoalesceWindow)
		volTimerCh = volTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingVol()
			stopVolTimer()
			return

		case <-volTimerCh:
			volTimer = nil
			volTimerCh = nil
			flushPendingVol()

		case ev, ok := <-sub.Events():
			if !ok {
				flushPendingVol()
				stopVolTimer()
				logger.Info("ws broadcaster stopping (source ended)", "reason", sub.Err())
				return
			}

			out := convertEvent(ev, time.Now().UTC())

			// Latest-wins for volume; the timer is not reset on each update.
			if out.Type == volumeChannel {
				pendingVol = &out
				startVolTimerIfNeeded()
				continue
			}

			// Anything else: flush pending volume first to keep order.
			flushPendingVol()
			stopVolTimer()

			msg, err := marshalEnvelope(out.Type, out.Data, out.At)
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err, "type", out.Type)
				continue
			}
			hub.BroadcastBytes(msg)
		}
	}
}

func convertEvent(ev protocol.Event, at time.Time) wsOutboundEvent {
	out := wsOutboundEvent{Type: eventChannel(ev), Data: ev.Payload, At: at}
	if ev.Kind == protocol.Unrecognized {
		out.Data = wsUnrecognizedData{Line: ev.Raw}
	}
	return out
}
