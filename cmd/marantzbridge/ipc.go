package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Local scripts and marantzctl submit commands here without going through
// HTTP.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"command": "VOLUME_SET", "value": "42"}
//                   {"type": "status"}
//                   {"type": "set_receiver_ip", "value": "192.168.1.50"}
//   - Server responds: {"status": "ok", "sent": ["MV42"]}
//                      {"status": "ok", "state": {...}}
//                      {"status": "ok", "message": "..."}
//                      {"status": "error", "error": "msg"}
//
// Unlike the HTTP API, IPC submissions are accepted while the receiver is
// disconnected; they are written after the next successful connect.
// ============================================================================

// IPCRequest is one client line.
type IPCRequest struct {
	Type    string `json:"type,omitempty"` // "command" (default), "status" or "set_receiver_ip"
	Command string `json:"command,omitempty"`
	Value   string `json:"value,omitempty"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status    string         `json:"status"`          // "ok" or "error"
	Error     string         `json:"error,omitempty"` // error message if status == "error"
	Message   string         `json:"message,omitempty"`
	Sent      []string       `json:"sent,omitempty"`
	Connected *bool          `json:"connected,omitempty"`
	State     *ReceiverState `json:"state,omitempty"`
}

// ipcHandler serves decoded requests. It is separate from the socket loop so
// tests can drive it over net.Pipe.
type ipcHandler struct {
	cmds   Submitter
	conn   ConnectionStatus
	state  StateSource
	rcv    ReceiverHostSetter
	logger *slog.Logger
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, h *ipcHandler, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go h.serveConn(ctx, conn)
	}
}

// serveConn processes a single IPC client connection
func (h *ipcHandler) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	h.logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h.logger.Debug("IPC received", "line", line)

		resp := h.handleLine(ctx, []byte(line))
		if err := encoder.Encode(resp); err != nil {
			h.logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	h.logger.Debug("IPC connection closed")
}

func (h *ipcHandler) handleLine(ctx context.Context, line []byte) IPCResponse {
	var req IPCRequest
	dec := json.NewDecoder(strings.NewReader(string(line)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	switch req.Type {
	case "", "command":
		if req.Command == "" {
			return ipcError(errors.New("command is required"))
		}
		sub, err := h.cmds.Submit(req.Command, req.Value)
		if err != nil {
			if h.state != nil && h.conn != nil && h.conn.Connected() {
				h.state.Resync("command rejected")
			}
			return ipcError(err)
		}
		resp := IPCResponse{Status: "ok", Sent: sub.Lines}
		if h.conn != nil {
			connected := h.conn.Connected()
			resp.Connected = &connected
		}
		return resp

	case "status":
		if h.state == nil {
			return ipcError(errors.New("state not available"))
		}
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		snap, err := h.state.Snapshot(waitCtx)
		if err != nil {
			return ipcError(fmt.Errorf("snapshot: %w", err))
		}
		return IPCResponse{Status: "ok", State: &snap}

	case "set_receiver_ip":
		if h.rcv == nil {
			return ipcError(errors.New("receiver address cannot be changed"))
		}
		up, err := h.rcv.SetHost(req.Value)
		if err != nil {
			return ipcError(err)
		}
		return IPCResponse{Status: "ok", Message: up.Message}

	default:
		return ipcError(fmt.Errorf("unknown request type %q", req.Type))
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}
