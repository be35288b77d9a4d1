package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"marantzbridge/internal/command"
	"marantzbridge/internal/eventbus"
	"marantzbridge/internal/observability"
	"marantzbridge/internal/receiver"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("marantzbridge v%s\n", version)
	fmt.Println("Network bridge for Marantz/Denon AV receivers")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  marantzbridge [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that keeps a control session open to the receiver over TCP")
	fmt.Println("  (port 23) or RS-232, decodes its status lines into typed events and")
	fmt.Println("  exposes them over HTTP, WebSocket and a local IPC socket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML or TOML config file (optional)")
	fmt.Println()
	fmt.Println("  -receiver-host string")
	fmt.Printf("        Receiver IP or hostname (default \"192.168.1.203\", env %s)\n", receiverHostEnv)
	fmt.Println()
	fmt.Println("  -receiver-port int")
	fmt.Printf("        Receiver control port (default %d)\n", receiver.DefaultPort)
	fmt.Println()
	fmt.Println("  -serial-port string")
	fmt.Println("        Serial device; when set the TCP host is ignored (e.g. /dev/ttyUSB0)")
	fmt.Println()
	fmt.Println("  -baud-rate int")
	fmt.Printf("        Serial baud rate (default %d)\n", receiver.DefaultBaudRate)
	fmt.Println()
	fmt.Println("  -http-host string")
	fmt.Println("        HTTP/WebSocket listen host (default \"0.0.0.0\")")
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Println("        HTTP/WebSocket listen port, 0 disables (default 5000)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC, empty disables (default \"/tmp/marantzbridge.sock\")")
	fmt.Println()
	fmt.Println("  -write-interval-ms int")
	fmt.Println("        Pause after every command written to the receiver (default 100)")
	fmt.Println()
	fmt.Println("  -keepalive-ms int")
	fmt.Println("        Idle time before a PW? keep-alive is sent, 0 disables (default 120000)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Connect to a receiver on the LAN")
	fmt.Println("  marantzbridge -receiver-host 192.168.1.50")
	fmt.Println()
	fmt.Println("  # Use a USB serial adapter and a config file")
	fmt.Println("  marantzbridge -config ~/.config/marantzbridge.yaml -serial-port /dev/ttyUSB0")
	fmt.Println()
	fmt.Println("  # Send a command from another terminal")
	fmt.Println("  marantzctl VOLUME_SET 42.5")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Precedence: defaults < config file < environment < flags")
	fmt.Println("  - input_names edits in the config file are applied without a restart")
	fmt.Println("  - Input renames and receiver IP changes from clients are saved to -config")
	fmt.Println()
}

func main() {
	// Check for version flag early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath     = flag.String("config", "", "Path to YAML or TOML config file")
		receiverHost   = flag.String("receiver-host", "", "Receiver IP or hostname")
		receiverPort   = flag.Int("receiver-port", receiver.DefaultPort, "Receiver control port")
		serialPort     = flag.String("serial-port", "", "Serial device for RS-232 control")
		baudRate       = flag.Int("baud-rate", receiver.DefaultBaudRate, "Serial baud rate")
		httpHost       = flag.String("http-host", "0.0.0.0", "HTTP/WebSocket listen host")
		httpPort       = flag.Int("http-port", 5000, "HTTP/WebSocket listen port (0 disables)")
		ipcSocketPath  = flag.String("ipc-socket", "/tmp/marantzbridge.sock", "Unix domain socket path for IPC")
		writeInterval  = flag.Int("write-interval-ms", 100, "Pause after every command written (milliseconds)")
		keepAliveEvery = flag.Int("keepalive-ms", 120000, "Idle time before a keep-alive query (milliseconds)")
		logLevelStr    = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion    = flag.Bool("version", false, "Print version and exit")
		showHelp       = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.Getenv)

	// Only flags given on the command line override the file.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	var ov FlagOverrides
	if set["receiver-host"] {
		ov.ReceiverHost = receiverHost
	}
	if set["receiver-port"] {
		ov.ReceiverPort = receiverPort
	}
	if set["serial-port"] {
		ov.SerialPort = serialPort
	}
	if set["baud-rate"] {
		ov.BaudRate = baudRate
	}
	if set["http-host"] {
		ov.ServerHost = httpHost
	}
	if set["http-port"] {
		ov.ServerPort = httpPort
	}
	if set["ipc-socket"] {
		ov.IPCSocketPath = ipcSocketPath
	}
	if set["write-interval-ms"] {
		ov.WriteInterval = writeInterval
	}
	if set["keepalive-ms"] {
		ov.KeepAliveEvery = keepAliveEvery
	}
	if set["log-level"] {
		ov.LogLevel = logLevelStr
	}
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	logger.Debug("starting marantzbridge", "version", version)
	logger.Debug("configuration",
		"config", *configPath,
		"receiver", cfg.Dialer().String(),
		"http_addr", cfg.ListenAddr(),
		"ipc_socket", cfg.IPC.SocketPath,
		"write_interval_ms", cfg.Receiver.WriteIntervalMS,
		"keepalive_interval_ms", cfg.Receiver.KeepAliveIntervalMS,
		"queue_size", cfg.Receiver.QueueSize,
		"input_names", len(cfg.InputNames),
	)

	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, logger); err != nil {
		logger.Error("marantzbridge exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires the daemon and blocks until ctx is canceled or a component
// fails.
func run(ctx context.Context, cfg Config, configPath string, logger *slog.Logger) error {
	bus := eventbus.New(eventbus.DefaultBuffer, logger)
	mgr := receiver.NewManager(cfg.Dialer(), bus, cfg.ManagerConfig(), logger)
	dispatcher := command.NewDispatcher(nil, mgr, logger)
	tracker := NewStateTracker(bus, dispatcher, logger)
	inputs := NewInputNames(cfg.InputNames)

	// Runtime edits are saved only when there is a file to save them to.
	var store *ConfigStore
	if configPath != "" {
		store = NewConfigStore(configPath)
		inputs.SaveTo(store)
	}
	address := NewReceiverAddress(cfg, mgr, store, logger)

	wsServer := NewServer(logger, tracker, inputs, ServerConfig{Receiver: address})
	hub := wsServer.Hub()
	inputs.OnChange(func(names map[string]string) {
		hub.BroadcastEvent(channelInputNames, names)
	})
	address.OnChange(func(up ReceiverIPUpdate) {
		hub.BroadcastEvent(channelIPUpdateSuccess, up)
	})

	// Subscribe before the manager starts so the first connect is seen.
	wsSub := bus.Subscribe("ws-broadcaster")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer bus.Close()
		return mgr.Run(gctx)
	})
	g.Go(func() error { return tracker.Run(gctx) })
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, hub, wsSub, logger)
		return nil
	})

	if addr := cfg.ListenAddr(); addr != "" {
		mux := http.NewServeMux()
		wsServer.Register(mux, "/ws")
		NewAPI(logger, dispatcher, dispatcher.Registry(), mgr, tracker, inputs).WithReceiver(address).Register(mux)
		g.Go(func() error { return runHTTPServer(gctx, addr, mux, logger) })
	}

	if path := cfg.IPC.SocketPath; path != "" {
		h := &ipcHandler{cmds: dispatcher, conn: mgr, state: tracker, rcv: address, logger: logger}
		g.Go(func() error { return runIPCServer(gctx, ExpandPath(path), h, logger) })
	}

	if configPath != "" {
		g.Go(func() error {
			if err := watchInputNames(gctx, configPath, inputs, logger); err != nil {
				// Hot reload is optional; the daemon keeps running without it.
				logger.Warn("config watcher disabled", "error", err)
			}
			return nil
		})
	}

	logger.Info("marantzbridge running", "receiver", cfg.Dialer().String())
	return g.Wait()
}
