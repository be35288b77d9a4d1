package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"marantzbridge/internal/receiver"
)

// Config is the top-level configuration for the marantzbridge daemon.
//
// The file is YAML unless its name ends in .toml. Keep defaults and
// validation centralized so the rest of the code can assume a well-formed
// config.
type Config struct {
	Receiver ReceiverConfig `yaml:"receiver" toml:"receiver"`
	Backoff  BackoffConfig  `yaml:"backoff" toml:"backoff"`
	Server   HTTPConfig     `yaml:"server" toml:"server"`
	IPC      IPCConfig      `yaml:"ipc" toml:"ipc"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`

	// InputNames maps receiver source codes (SAT/CBL, BT, ...) to display
	// names. Entries from the file are merged over DefaultInputNames.
	InputNames map[string]string `yaml:"input_names" toml:"input_names"`
}

type ReceiverConfig struct {
	// Host selects the TCP transport. SerialPort selects RS-232 instead.
	Host       string `yaml:"host" toml:"host"`
	Port       int    `yaml:"port" toml:"port"`
	SerialPort string `yaml:"serial_port,omitempty" toml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate,omitempty" toml:"baud_rate"`

	ConnectTimeoutMS    int `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
	TCPUserTimeoutMS    int `yaml:"tcp_user_timeout_ms" toml:"tcp_user_timeout_ms"`
	WriteIntervalMS     int `yaml:"write_interval_ms" toml:"write_interval_ms"`
	WriteTimeoutMS      int `yaml:"write_timeout_ms" toml:"write_timeout_ms"`
	KeepAliveIntervalMS int `yaml:"keepalive_interval_ms" toml:"keepalive_interval_ms"`
	QueueSize           int `yaml:"queue_size" toml:"queue_size"`
	MaxLineLength       int `yaml:"max_line_length" toml:"max_line_length"`
}

type BackoffConfig struct {
	InitialMS  int     `yaml:"initial_ms" toml:"initial_ms"`
	MaxMS      int     `yaml:"max_ms" toml:"max_ms"`
	Multiplier float64 `yaml:"multiplier" toml:"multiplier"`
	Jitter     float64 `yaml:"jitter,omitempty" toml:"jitter"`
}

type HTTPConfig struct {
	Host string `yaml:"host" toml:"host"`
	// Port 0 disables the HTTP/WebSocket server.
	Port int `yaml:"port" toml:"port"`
}

type IPCConfig struct {
	// Empty disables the IPC socket.
	SocketPath string `yaml:"socket_path" toml:"socket_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

const receiverHostEnv = "MARANTZ_IP"

// DefaultInputNames returns a fresh copy of the factory display names.
func DefaultInputNames() map[string]string {
	return map[string]string{
		"SAT/CBL":   "SAT/CBL",
		"BT":        "BLUETOOTH",
		"TV":        "TV AUDIO",
		"BD":        "BLU-RAY",
		"DVD":       "DVD",
		"GAME":      "GAME",
		"MPLAY":     "MEDIA PLAYER",
		"AUX1":      "AUX1",
		"AUX2":      "AUX2",
		"TUNER":     "TUNER",
		"USB/IPOD":  "iPod/USB",
		"CD":        "CD",
		"NET":       "ONLINE MUSIC",
		"PHONO":     "PHONO",
		"IRADIO":    "INTERNET RADIO",
		"PANDORA":   "PANDORA",
		"FAVORITES": "FAVORITES",
	}
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	rc := receiver.DefaultConfig()
	return Config{
		Receiver: ReceiverConfig{
			Host:                "192.168.1.203",
			Port:                receiver.DefaultPort,
			BaudRate:            receiver.DefaultBaudRate,
			ConnectTimeoutMS:    5000,
			TCPUserTimeoutMS:    10000,
			WriteIntervalMS:     int(rc.WriteInterval / time.Millisecond),
			WriteTimeoutMS:      int(rc.WriteTimeout / time.Millisecond),
			KeepAliveIntervalMS: int(rc.KeepAliveInterval / time.Millisecond),
			QueueSize:           rc.QueueSize,
			MaxLineLength:       rc.MaxLineLength,
		},
		Backoff: BackoffConfig{
			InitialMS:  int(rc.Backoff.InitialDelay / time.Millisecond),
			MaxMS:      int(rc.Backoff.MaxDelay / time.Millisecond),
			Multiplier: rc.Backoff.Multiplier,
		},
		Server: HTTPConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/marantzbridge.sock",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		InputNames: DefaultInputNames(),
	}
}

// LoadConfigFile reads and parses a config file on top of the defaults.
// Unknown keys are rejected in both formats to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	path = ExpandPath(path)

	cfg := DefaultConfig()
	cfg.InputNames = nil

	if isTOML(path) {
		if err := decodeTOML(path, &cfg); err != nil {
			return Config{}, err
		}
	} else {
		if err := decodeYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.InputNames = MergeInputNames(cfg.InputNames)
	return cfg, nil
}

func decodeYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		// An empty file is a valid "all defaults" config.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return nil
}

func decodeTOML(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config toml: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("decode config toml: unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadInputNames re-reads only the input_names section of a config file.
// Used by the hot-reload watcher.
func LoadInputNames(path string) (map[string]string, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return cfg.InputNames, nil
}

// MergeInputNames overlays custom names on the defaults. Blank names are
// ignored so a half-edited file never blanks a label.
func MergeInputNames(custom map[string]string) map[string]string {
	out := DefaultInputNames()
	for code, name := range custom {
		code = strings.TrimSpace(code)
		name = strings.TrimSpace(name)
		if code == "" || name == "" {
			continue
		}
		out[code] = name
	}
	return out
}

// ApplyEnv applies environment overrides. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c == nil || getenv == nil {
		return
	}
	if host := strings.TrimSpace(getenv(receiverHostEnv)); host != "" {
		c.Receiver.Host = host
	}
}

// FlagOverrides holds pointers to flag values; each override is applied
// only if its pointer is non-nil. main.go decides which flags exist.
type FlagOverrides struct {
	ReceiverHost   *string
	ReceiverPort   *int
	SerialPort     *string
	BaudRate       *int
	ServerHost     *string
	ServerPort     *int
	IPCSocketPath  *string
	LogLevel       *string
	WriteInterval  *int
	KeepAliveEvery *int
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.ReceiverHost != nil {
		cfg.Receiver.Host = *o.ReceiverHost
	}
	if o.ReceiverPort != nil {
		cfg.Receiver.Port = *o.ReceiverPort
	}
	if o.SerialPort != nil {
		cfg.Receiver.SerialPort = *o.SerialPort
	}
	if o.BaudRate != nil {
		cfg.Receiver.BaudRate = *o.BaudRate
	}
	if o.ServerHost != nil {
		cfg.Server.Host = *o.ServerHost
	}
	if o.ServerPort != nil {
		cfg.Server.Port = *o.ServerPort
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.WriteInterval != nil {
		cfg.Receiver.WriteIntervalMS = *o.WriteInterval
	}
	if o.KeepAliveEvery != nil {
		cfg.Receiver.KeepAliveIntervalMS = *o.KeepAliveEvery
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + env + overrides are applied.
func (c *Config) Validate() error {
	// Receiver
	if c.Receiver.SerialPort == "" {
		if strings.TrimSpace(c.Receiver.Host) == "" {
			return errors.New("receiver.host must not be empty (or set receiver.serial_port)")
		}
		if c.Receiver.Port <= 0 || c.Receiver.Port > 65535 {
			return errors.New("receiver.port must be between 1 and 65535")
		}
	} else if c.Receiver.BaudRate <= 0 {
		return errors.New("receiver.baud_rate must be > 0")
	}
	if c.Receiver.ConnectTimeoutMS <= 0 {
		return errors.New("receiver.connect_timeout_ms must be > 0")
	}
	if c.Receiver.TCPUserTimeoutMS < 0 {
		return errors.New("receiver.tcp_user_timeout_ms must be >= 0")
	}
	if c.Receiver.WriteIntervalMS < 0 {
		return errors.New("receiver.write_interval_ms must be >= 0")
	}
	if c.Receiver.WriteTimeoutMS < 0 {
		return errors.New("receiver.write_timeout_ms must be >= 0")
	}
	if c.Receiver.KeepAliveIntervalMS < 0 {
		return errors.New("receiver.keepalive_interval_ms must be >= 0")
	}
	if c.Receiver.QueueSize <= 0 {
		return errors.New("receiver.queue_size must be > 0")
	}
	if c.Receiver.MaxLineLength < 16 {
		return errors.New("receiver.max_line_length must be >= 16")
	}

	// Backoff
	if c.Backoff.InitialMS <= 0 {
		return errors.New("backoff.initial_ms must be > 0")
	}
	if c.Backoff.MaxMS < c.Backoff.InitialMS {
		return errors.New("backoff.max_ms must be >= backoff.initial_ms")
	}
	if c.Backoff.Multiplier < 1 {
		return errors.New("backoff.multiplier must be >= 1")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		return errors.New("backoff.jitter must be between 0 and 1")
	}

	// Server
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 0 and 65535")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// Dialer builds the receiver transport selected by the config.
func (c *Config) Dialer() receiver.Dialer {
	if c.Receiver.SerialPort != "" {
		return receiver.SerialDialer{Port: c.Receiver.SerialPort, BaudRate: c.Receiver.BaudRate}
	}
	return receiver.TCPDialer{
		Address:     net.JoinHostPort(c.Receiver.Host, strconv.Itoa(c.Receiver.Port)),
		Timeout:     ms(c.Receiver.ConnectTimeoutMS),
		KeepAlive:   30 * time.Second,
		UserTimeout: ms(c.Receiver.TCPUserTimeoutMS),
	}
}

// ManagerConfig converts the file config into the connection manager's.
func (c *Config) ManagerConfig() receiver.Config {
	rc := receiver.DefaultConfig()
	rc.Backoff = receiver.BackoffConfig{
		InitialDelay: ms(c.Backoff.InitialMS),
		MaxDelay:     ms(c.Backoff.MaxMS),
		Multiplier:   c.Backoff.Multiplier,
		Jitter:       c.Backoff.Jitter,
	}
	rc.WriteInterval = ms(c.Receiver.WriteIntervalMS)
	rc.WriteTimeout = ms(c.Receiver.WriteTimeoutMS)
	rc.KeepAliveInterval = ms(c.Receiver.KeepAliveIntervalMS)
	rc.QueueSize = c.Receiver.QueueSize
	rc.MaxLineLength = c.Receiver.MaxLineLength
	return rc
}

// ListenAddr is the HTTP listen address, or "" when the server is disabled.
func (c *Config) ListenAddr() string {
	if c.Server.Port == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
