package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"

	"marantzbridge/internal/receiver"
)

// DialerSwitcher points the connection manager at a new receiver.
// *receiver.Manager implements it.
type DialerSwitcher interface {
	SetDialer(d receiver.Dialer)
}

// ReceiverHostSetter is what the client surfaces need to change the
// receiver address.
type ReceiverHostSetter interface {
	SetHost(host string) (ReceiverIPUpdate, error)
}

// ReceiverIPUpdate is the ip_update_success payload.
type ReceiverIPUpdate struct {
	IP      string `json:"ip"`
	Saved   bool   `json:"saved"`
	Message string `json:"message"`
}

var (
	errInvalidReceiverHost = errors.New("invalid receiver address")
	errSerialTransport     = errors.New("receiver is connected over a serial port")
)

var hostnameRE = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)

// ReceiverAddress changes the receiver's TCP host at runtime: it saves the
// host to the config file (when there is one) and reconnects the manager.
type ReceiverAddress struct {
	mu       sync.Mutex
	cfg      Config
	mgr      DialerSwitcher
	store    *ConfigStore // nil without a config file
	onChange func(ReceiverIPUpdate)
	logger   *slog.Logger
}

func NewReceiverAddress(cfg Config, mgr DialerSwitcher, store *ConfigStore, logger *slog.Logger) *ReceiverAddress {
	return &ReceiverAddress{cfg: cfg, mgr: mgr, store: store, logger: logger}
}

// OnChange registers fn to run after every successful change.
// Call it before the address is shared.
func (r *ReceiverAddress) OnChange(fn func(ReceiverIPUpdate)) {
	r.onChange = fn
}

// Host returns the current receiver host.
func (r *ReceiverAddress) Host() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Receiver.Host
}

// SetHost validates host, saves it and reconnects. Nothing changes when
// saving fails.
func (r *ReceiverAddress) SetHost(host string) (ReceiverIPUpdate, error) {
	host = strings.TrimSpace(host)
	if !validReceiverHost(host) {
		return ReceiverIPUpdate{}, fmt.Errorf("%w: %q", errInvalidReceiverHost, host)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.Receiver.SerialPort != "" {
		return ReceiverIPUpdate{}, fmt.Errorf("%w (%s)", errSerialTransport, r.cfg.Receiver.SerialPort)
	}

	up := ReceiverIPUpdate{IP: host}
	if r.store != nil {
		if err := r.store.SaveReceiverHost(host); err != nil {
			return ReceiverIPUpdate{}, fmt.Errorf("save receiver host: %w", err)
		}
		up.Saved = true
		up.Message = fmt.Sprintf("Receiver IP saved as %s. Reconnecting.", host)
	} else {
		up.Message = fmt.Sprintf("Receiver IP set to %s until restart (no config file). Reconnecting.", host)
	}

	r.cfg.Receiver.Host = host
	d := r.cfg.Dialer()
	r.mgr.SetDialer(d)
	r.logger.Info("receiver address changed", "receiver", d.String(), "saved", up.Saved)

	if r.onChange != nil {
		r.onChange(up)
	}
	return up, nil
}

func validReceiverHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	return net.ParseIP(host) != nil || hostnameRE.MatchString(host)
}
