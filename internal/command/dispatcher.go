package command

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marantzbridge/internal/observability"
)

// ErrNotAccepted wraps a write-queue rejection (full queue, bad line).
var ErrNotAccepted = errors.New("command not accepted")

// Enqueuer accepts wire lines for transmission as one contiguous block.
type Enqueuer interface {
	Enqueue(lines ...string) error
}

// PacedEnqueuer is an Enqueuer that can space one batch's lines by its own
// interval.
type PacedEnqueuer interface {
	EnqueuePaced(pause time.Duration, lines ...string) error
}

// Submission describes what a successful Submit queued.
type Submission struct {
	Name  string   `json:"command"`
	Lines []string `json:"sent"`
}

// Dispatcher resolves commands against a Registry and queues the result.
type Dispatcher struct {
	reg    *Registry
	out    Enqueuer
	logger *slog.Logger
}

func NewDispatcher(reg *Registry, out Enqueuer, logger *slog.Logger) *Dispatcher {
	if reg == nil {
		reg = Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reg: reg, out: out, logger: logger}
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

// Submit expands name (and value, for setters) and enqueues every resulting
// line in one call, so composites are never interleaved with other writers.
func (d *Dispatcher) Submit(name, value string) (Submission, error) {
	lines, err := d.reg.Expand(name, value)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownCommand):
			observability.RecordCommand("unknown")
		default:
			observability.RecordCommand("invalid")
		}
		d.logger.Debug("command rejected", "command", name, "value", value, "err", err)
		return Submission{}, err
	}

	if err := d.enqueue(d.reg.Pause(name), lines); err != nil {
		observability.RecordCommand("not_accepted")
		d.logger.Warn("command not queued", "command", name, "err", err)
		return Submission{}, fmt.Errorf("%w: %s: %w", ErrNotAccepted, name, err)
	}

	observability.RecordCommand("queued")
	d.logger.Debug("command queued", "command", name, "lines", lines)
	return Submission{Name: name, Lines: lines}, nil
}

func (d *Dispatcher) enqueue(pause time.Duration, lines []string) error {
	if pe, ok := d.out.(PacedEnqueuer); ok && pause > 0 {
		return pe.EnqueuePaced(pause, lines...)
	}
	return d.out.Enqueue(lines...)
}
