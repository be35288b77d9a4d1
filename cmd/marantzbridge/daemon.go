package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marantzbridge/internal/command"
	"marantzbridge/internal/eventbus"
	"marantzbridge/internal/protocol"
)

// ============================================================================
// State tracker - single owner of ReceiverState
// ============================================================================
//
// The tracker consumes the event bus, folds events into ReceiverState with
// Reduce, and serves snapshots over a request channel so the state is never
// shared between goroutines.
//
// On every ReceiverConnected it submits the initial status query so the
// snapshot is refreshed after each (re)connect. If the tracker's own
// subscription is evicted it resubscribes and resyncs the same way.
// ============================================================================

// snapshotRequest asks the tracker for a copy of the current state.
type snapshotRequest struct {
	reply chan ReceiverState
}

// Submitter is the part of the command dispatcher the daemon needs.
type Submitter interface {
	Submit(name, value string) (command.Submission, error)
}

type StateTracker struct {
	bus    *eventbus.Bus
	cmds   Submitter
	logger *slog.Logger

	sub      *eventbus.Subscription
	requests chan snapshotRequest
	now      func() time.Time
}

// NewStateTracker subscribes to bus immediately, so events published
// before Run starts are not missed.
func NewStateTracker(bus *eventbus.Bus, cmds Submitter, logger *slog.Logger) *StateTracker {
	return &StateTracker{
		bus:      bus,
		cmds:     cmds,
		logger:   logger,
		sub:      bus.Subscribe("state-tracker"),
		requests: make(chan snapshotRequest),
		now:      time.Now,
	}
}

// Run processes events until ctx is canceled or the bus is closed.
func (t *StateTracker) Run(ctx context.Context) error {
	var state ReceiverState
	sub := t.sub
	defer func() { sub.Unsubscribe() }()

	t.logger.Info("state tracker starting")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("state tracker stopping (context canceled)")
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				err := sub.Err()
				if errors.Is(err, eventbus.ErrBusClosed) {
					t.logger.Info("state tracker stopping (bus closed)")
					return nil
				}
				t.logger.Warn("state tracker subscription ended, resubscribing", "error", err)
				sub = t.bus.Subscribe("state-tracker")
				if state.Connected {
					t.initialSync("resubscribe")
				}
				continue
			}
			Reduce(&state, ev, t.now().UTC())
			if ev.Kind == protocol.ReceiverConnected {
				t.initialSync("connected")
			}

		case req := <-t.requests:
			req.reply <- state.Clone()
		}
	}
}

// Snapshot returns a copy of the current state. It fails if the tracker is
// not running or ctx ends first.
func (t *StateTracker) Snapshot(ctx context.Context) (ReceiverState, error) {
	reply := make(chan ReceiverState, 1)
	select {
	case <-ctx.Done():
		return ReceiverState{}, ctx.Err()
	case t.requests <- snapshotRequest{reply: reply}:
	}
	select {
	case <-ctx.Done():
		return ReceiverState{}, ctx.Err()
	case s := <-reply:
		return s, nil
	}
}

// Resync submits the initial status query. Failure is logged only: the
// next reconnect or client request retries.
func (t *StateTracker) Resync(reason string) {
	t.initialSync(reason)
}

func (t *StateTracker) initialSync(reason string) {
	if t.cmds == nil {
		return
	}
	sub, err := t.cmds.Submit(command.InitialStatusQuery, "")
	if err != nil {
		t.logger.Warn("initial status query not queued", "reason", reason, "error", err)
		return
	}
	t.logger.Debug("initial status query queued", "reason", reason, "lines", len(sub.Lines))
}
