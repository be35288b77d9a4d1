package main

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"marantzbridge/internal/receiver"
)

type fakeSwitcher struct {
	mu      sync.Mutex
	dialers []receiver.Dialer
}

func (f *fakeSwitcher) SetDialer(d receiver.Dialer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialers = append(f.dialers, d)
}

func (f *fakeSwitcher) last() receiver.Dialer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dialers) == 0 {
		return nil
	}
	return f.dialers[len(f.dialers)-1]
}

func TestReceiverAddress_SavesAndReconnects(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", "receiver:\n  host: 192.168.1.10\n")
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}

	sw := &fakeSwitcher{}
	addr := NewReceiverAddress(cfg, sw, NewConfigStore(path), slog.Default())
	var updates []ReceiverIPUpdate
	addr.OnChange(func(up ReceiverIPUpdate) { updates = append(updates, up) })

	up, err := addr.SetHost(" 192.168.1.50 ")
	if err != nil {
		t.Fatalf("SetHost: %v", err)
	}
	if !up.Saved || up.IP != "192.168.1.50" || up.Message == "" {
		t.Fatalf("update=%+v", up)
	}
	if len(updates) != 1 || updates[0] != up {
		t.Fatalf("broadcast updates=%+v", updates)
	}

	d, ok := sw.last().(receiver.TCPDialer)
	if !ok || d.Address != "192.168.1.50:23" {
		t.Fatalf("dialer=%#v", sw.last())
	}
	if addr.Host() != "192.168.1.50" {
		t.Fatalf("host=%q", addr.Host())
	}

	saved, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if saved.Receiver.Host != "192.168.1.50" {
		t.Fatalf("saved host=%q", saved.Receiver.Host)
	}
}

func TestReceiverAddress_WithoutConfigFile(t *testing.T) {
	sw := &fakeSwitcher{}
	addr := NewReceiverAddress(DefaultConfig(), sw, nil, slog.Default())

	up, err := addr.SetHost("fe80::1")
	if err != nil {
		t.Fatalf("SetHost: %v", err)
	}
	if up.Saved {
		t.Fatalf("update=%+v, want unsaved", up)
	}
	if d := sw.last().(receiver.TCPDialer); d.Address != "[fe80::1]:23" {
		t.Fatalf("address=%q", d.Address)
	}
}

func TestReceiverAddress_Rejects(t *testing.T) {
	serial := DefaultConfig()
	serial.Receiver.SerialPort = "/dev/ttyUSB0"

	tests := []struct {
		name string
		cfg  Config
		host string
		want error
	}{
		{"empty", DefaultConfig(), "  ", errInvalidReceiverHost},
		{"with port", DefaultConfig(), "192.168.1.5:23", errInvalidReceiverHost},
		{"url", DefaultConfig(), "http://avr", errInvalidReceiverHost},
		{"spaces", DefaultConfig(), "my receiver", errInvalidReceiverHost},
		{"serial transport", serial, "192.168.1.5", errSerialTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := &fakeSwitcher{}
			addr := NewReceiverAddress(tt.cfg, sw, nil, slog.Default())
			if _, err := addr.SetHost(tt.host); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, want %v", err, tt.want)
			}
			if sw.last() != nil {
				t.Fatalf("dialer switched on a rejected host")
			}
		})
	}
}

func TestReceiverAddress_SaveFailureChangesNothing(t *testing.T) {
	// receiver is a scalar, so the host cannot be saved.
	path := writeConfig(t, "bridge.yaml", "receiver: broken\n")
	sw := &fakeSwitcher{}
	addr := NewReceiverAddress(DefaultConfig(), sw, NewConfigStore(path), slog.Default())

	if _, err := addr.SetHost("192.168.1.50"); err == nil {
		t.Fatalf("expected save error")
	}
	if sw.last() != nil || addr.Host() != DefaultConfig().Receiver.Host {
		t.Fatalf("state changed after failed save: host=%q", addr.Host())
	}
}
