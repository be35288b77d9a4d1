package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIPCHandler_HandleLine(t *testing.T) {
	conn := &fakeConn{}
	state := &fakeState{snap: ReceiverState{Power: "standby"}}
	h := &ipcHandler{cmds: &fakeSubmitter{}, conn: conn, state: state, logger: slog.Default()}

	tests := []struct {
		name    string
		line    string
		status  string
		sent    string
		errPart string
	}{
		{"setter", `{"command":"VOLUME_SET","value":"42"}`, "ok", "MV42", ""},
		{"composite", `{"command":"FAVORITES_ADD"}`, "ok", "MNOPT,MNENT", ""},
		{"unknown", `{"command":"NOPE"}`, "error", "", "NOPE"},
		{"missing command", `{}`, "error", "", "command is required"},
		{"bad json", `{"command":`, "error", "", "parse request"},
		{"unknown field", `{"cmd":"POWER_ON"}`, "error", "", "parse request"},
		{"unknown type", `{"type":"reboot"}`, "error", "", "unknown request type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.handleLine(context.Background(), []byte(tt.line))
			if resp.Status != tt.status {
				t.Fatalf("status=%q, want %q (error %q)", resp.Status, tt.status, resp.Error)
			}
			if got := strings.Join(resp.Sent, ","); got != tt.sent {
				t.Fatalf("sent=%q, want %q", got, tt.sent)
			}
			if !strings.Contains(resp.Error, tt.errPart) {
				t.Fatalf("error=%q, want it to contain %q", resp.Error, tt.errPart)
			}
		})
	}

	// IPC queues while disconnected and says so.
	resp := h.handleLine(context.Background(), []byte(`{"command":"POWER_ON"}`))
	if resp.Connected == nil || *resp.Connected {
		t.Fatalf("connected=%v, want false", resp.Connected)
	}

	resp = h.handleLine(context.Background(), []byte(`{"type":"status"}`))
	if resp.Status != "ok" || resp.State == nil || resp.State.Power != "standby" {
		t.Fatalf("status response=%+v", resp)
	}
}

func TestIPCHandler_SetReceiverIP(t *testing.T) {
	sw := &fakeSwitcher{}
	h := &ipcHandler{
		cmds:   &fakeSubmitter{},
		rcv:    NewReceiverAddress(DefaultConfig(), sw, nil, slog.Default()),
		logger: slog.Default(),
	}

	resp := h.handleLine(context.Background(), []byte(`{"type":"set_receiver_ip","value":"192.168.1.50"}`))
	if resp.Status != "ok" || !strings.Contains(resp.Message, "192.168.1.50") {
		t.Fatalf("response=%+v", resp)
	}
	if sw.last() == nil || sw.last().String() != "tcp://192.168.1.50:23" {
		t.Fatalf("dialer=%v", sw.last())
	}

	resp = h.handleLine(context.Background(), []byte(`{"type":"set_receiver_ip","value":"bad host"}`))
	if resp.Status != "error" || !strings.Contains(resp.Error, "invalid receiver address") {
		t.Fatalf("response=%+v", resp)
	}

	h.rcv = nil
	resp = h.handleLine(context.Background(), []byte(`{"type":"set_receiver_ip","value":"192.168.1.51"}`))
	if resp.Status != "error" {
		t.Fatalf("response=%+v, want error without a receiver address", resp)
	}
}

func TestRunIPCServer_RoundTrip(t *testing.T) {
	// Unix socket paths are length-limited; keep it short.
	dir, err := os.MkdirTemp("", "mb")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	defer os.RemoveAll(dir)
	socketPath := filepath.Join(dir, "ipc.sock")

	h := &ipcHandler{cmds: &fakeSubmitter{}, logger: slog.Default()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runIPCServer(ctx, socketPath, h, slog.Default()) }()

	var conn net.Conn
	waitUntil(t, time.Second, func() bool {
		c, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, "IPC socket not listening")
	defer conn.Close()

	r := bufio.NewReader(conn)
	for i, line := range []string{
		`{"command":"POWER_ON"}`,
		`{"command":"VOLUME_SET","value":"42.5"}`,
	} {
		if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		raw, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		var resp IPCResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if resp.Status != "ok" || len(resp.Sent) != 1 {
			t.Fatalf("response %d: %+v", i, resp)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runIPCServer returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("IPC server did not stop")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket file not removed: %v", err)
	}
}
