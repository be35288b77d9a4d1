package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// marantzctl - Command-line IPC Client
// ============================================================================
// This tool submits commands to the marantzbridge daemon via IPC.
//
// Usage:
//   marantzctl POWER_ON
//   marantzctl VOLUME_SET 42.5
//   marantzctl INPUT_TUNER
//   marantzctl status
//   marantzctl set-ip 192.168.1.50
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/marantzbridge.sock)
// ============================================================================

// IPC types (duplicated from the daemon for standalone binary)
type IPCRequest struct {
	Type    string `json:"type,omitempty"`
	Command string `json:"command,omitempty"`
	Value   string `json:"value,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Sent      []string        `json:"sent,omitempty"`
	Connected *bool           `json:"connected,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
}

const ioTimeout = 5 * time.Second

func main() {
	socketPath := "/tmp/marantzbridge.sock"

	// Parse arguments
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var req IPCRequest

	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	case "status":
		req = IPCRequest{Type: "status"}

	case "set-ip":
		if len(args) != 2 {
			fmt.Fprintf(os.Stderr, "error: set-ip requires an address\n")
			os.Exit(1)
		}
		req = IPCRequest{Type: "set_receiver_ip", Value: args[1]}

	default:
		if len(args) > 2 {
			fmt.Fprintf(os.Stderr, "error: too many arguments\n")
			printUsage()
			os.Exit(1)
		}
		req = IPCRequest{Command: strings.ToUpper(args[0])}
		if len(args) == 2 {
			req.Value = args[1]
		}
	}

	resp, err := send(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if req.Type == "status" {
		var pretty any
		if err := json.Unmarshal(resp.State, &pretty); err != nil {
			fmt.Println(string(resp.State))
			return
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return
	}

	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	for _, line := range resp.Sent {
		fmt.Println(line)
	}
	if resp.Connected != nil && !*resp.Connected {
		fmt.Fprintln(os.Stderr, "note: receiver not connected, command queued until it reconnects")
	}
}

func send(socketPath string, req IPCRequest) (IPCResponse, error) {
	// Connect to socket
	conn, err := net.DialTimeout("unix", socketPath, ioTimeout)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	data, err := json.Marshal(req)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Send request (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	// Read response
	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if response.Status != "ok" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}

	return response, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `marantzctl - Submit commands to the marantzbridge daemon

USAGE:
  marantzctl [OPTIONS] COMMAND [VALUE]
  marantzctl [OPTIONS] status
  marantzctl [OPTIONS] set-ip ADDRESS

COMMANDS:
  Any catalog name, e.g.:
  POWER_ON / POWER_STANDBY     Main power
  MUTE_ON / MUTE_OFF           Mute
  VOLUME_UP / VOLUME_DOWN      Step volume
  VOLUME_SET VALUE             Set volume (0-98, half steps)
  INPUT_TUNER                  Select a source
  INITIAL_STATUS_QUERY         Query every tracked status
  status                       Print the daemon's last-known receiver state
  set-ip ADDRESS               Save a new receiver IP and reconnect to it

  The full catalog is served at GET /api/commands.

OPTIONS:
  -socket PATH    Unix domain socket path (default: /tmp/marantzbridge.sock)

EXAMPLES:
  marantzctl POWER_ON
  marantzctl VOLUME_SET 42.5
  marantzctl -socket /var/run/marantzbridge.sock MUTE_ON
`)
}
