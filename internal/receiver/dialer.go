package receiver

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultPort is the receiver's telnet control port.
	DefaultPort = 23
	// DefaultBaudRate is the receiver's RS-232 speed.
	DefaultBaudRate = 9600
)

// Dialer opens one transport session to the receiver.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// TCPDialer connects over the network control port.
type TCPDialer struct {
	Address   string
	Timeout   time.Duration
	KeepAlive time.Duration
	// UserTimeout bounds how long written data may stay unacknowledged
	// before the kernel drops the connection. Only honoured on Linux.
	UserTimeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	nd := net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: d.KeepAlive,
		Control:   userTimeoutControl(d.UserTimeout),
	}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Address, err)
	}
	return conn, nil
}

func (d TCPDialer) String() string { return "tcp://" + d.Address }

// SerialDialer connects over the RS-232 port. The receiver's serial
// interface runs 9600 8N1.
type SerialDialer struct {
	Port     string
	BaudRate int
}

func (d SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	baud := d.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(d.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.Port, err)
	}
	return port, nil
}

func (d SerialDialer) String() string { return "serial://" + d.Port }
