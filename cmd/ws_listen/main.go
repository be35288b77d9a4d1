package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors the daemon's push frame.
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:5000/ws", "marantzbridge websocket URL")
		only    = flag.String("only", "", "Comma-separated frame types to print (e.g. 'volume_update,mute_update')")
		rename  = flag.String("rename", "", "Send rename_input CODE=NAME and keep listening (e.g. 'CD=Turntable')")
		rawJSON = flag.Bool("raw", false, "Print frames as received instead of one line per event")
	)
	flag.Parse()

	// Parse websocket URL
	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	filter := map[string]bool{}
	for _, t := range strings.Split(*only, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = true
		}
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	// Connect to websocket
	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The server pings every 20s; answer with pongs and extend the deadline.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	if *rename != "" {
		code, name, ok := strings.Cut(*rename, "=")
		if !ok {
			log.Fatalf("invalid -rename %q, want CODE=NAME", *rename)
		}
		sendMessage(conn, &writeMu, "rename_input", map[string]string{"input_code": code, "new_name": name})
	}

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				handleTextMessage(message, filter, *rawJSON)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		// Clean close
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one push frame.
func handleTextMessage(message []byte, filter map[string]bool, raw bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	if len(filter) > 0 && !filter[env.Type] {
		return
	}
	if raw {
		fmt.Println(string(message))
		return
	}

	ts := "-"
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000")
	}

	// Snapshots are large; print them indented.
	if env.Type == "state_init" {
		var v any
		_ = json.Unmarshal(env.Data, &v)
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Printf("%s [%s]\n%s\n\n", ts, strings.ToUpper(env.Type), string(pretty))
		return
	}
	fmt.Printf("%s [%s] %s\n", ts, strings.ToUpper(env.Type), string(env.Data))
}

// sendMessage sends a client message to the websocket server (thread-safe)
func sendMessage(conn *websocket.Conn, writeMu *sync.Mutex, typ string, data any) {
	payload, err := json.Marshal(map[string]any{"type": typ, "data": data})
	if err != nil {
		log.Printf("error marshaling message: %v", err)
		return
	}

	writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	writeMu.Unlock()

	if err != nil {
		log.Printf("error sending message: %v", err)
	}
}
