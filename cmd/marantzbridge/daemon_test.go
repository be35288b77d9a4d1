package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marantzbridge/internal/command"
	"marantzbridge/internal/eventbus"
	"marantzbridge/internal/protocol"
)

// fakeSubmitter records submissions and returns canned results.
type fakeSubmitter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSubmitter) Submit(name, value string) (command.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.err != nil {
		return command.Submission{}, f.err
	}
	lines, err := command.Default().Expand(name, value)
	if err != nil {
		return command.Submission{}, err
	}
	return command.Submission{Name: name, Lines: lines}, nil
}

func (f *fakeSubmitter) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func startTracker(t *testing.T, bus *eventbus.Bus, cmds Submitter) (*StateTracker, func()) {
	t.Helper()
	tracker := NewStateTracker(bus, cmds, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()
	return tracker, func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("tracker returned %v", err)
			}
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for tracker to stop")
		}
	}
}

func snapshot(t *testing.T, tracker *StateTracker) ReceiverState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := tracker.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func TestStateTracker_InitialSyncOnConnect(t *testing.T) {
	bus := eventbus.New(16, slog.Default())
	cmds := &fakeSubmitter{}
	tracker, stop := startTracker(t, bus, cmds)
	defer stop()

	bus.Publish(protocol.Connected("Successfully connected to receiver."))
	bus.Publish(protocol.Parse("PWON"))
	bus.Publish(protocol.Parse("MV455"))

	waitUntil(t, time.Second, func() bool {
		s := snapshot(t, tracker)
		return s.Volume != nil && s.Volume.Value == 45.5
	}, "volume not reduced")

	s := snapshot(t, tracker)
	if !s.Connected || s.Power != "on" {
		t.Fatalf("snapshot=%+v, want connected and powered on", s)
	}
	if got := cmds.count(command.InitialStatusQuery); got != 1 {
		t.Fatalf("initial status query submitted %d times, want 1", got)
	}
}

func TestStateTracker_ReconnectResyncs(t *testing.T) {
	bus := eventbus.New(16, slog.Default())
	cmds := &fakeSubmitter{}
	tracker, stop := startTracker(t, bus, cmds)
	defer stop()

	bus.Publish(protocol.Connected("up"))
	bus.Publish(protocol.Disconnected("Connection to receiver lost. Reconnecting..."))
	waitUntil(t, time.Second, func() bool {
		return cmds.count(command.InitialStatusQuery) == 1 && !snapshot(t, tracker).Connected
	}, "disconnect not reduced")

	bus.Publish(protocol.Connected("up"))
	waitUntil(t, time.Second, func() bool {
		return cmds.count(command.InitialStatusQuery) == 2
	}, "no resync after reconnect")
}

func TestStateTracker_SubmitFailureIsNotFatal(t *testing.T) {
	bus := eventbus.New(16, slog.Default())
	cmds := &fakeSubmitter{err: errors.New("queue full")}
	tracker, stop := startTracker(t, bus, cmds)
	defer stop()

	bus.Publish(protocol.Connected("up"))
	waitUntil(t, time.Second, func() bool { return snapshot(t, tracker).Connected }, "connect not reduced")
}

func TestStateTracker_StopsWhenBusCloses(t *testing.T) {
	bus := eventbus.New(16, slog.Default())
	tracker := NewStateTracker(bus, nil, slog.Default())

	done := make(chan error, 1)
	go func() { done <- tracker.Run(context.Background()) }()

	bus.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("tracker did not stop after bus close")
	}
}

func TestStateTracker_SnapshotHonorsContext(t *testing.T) {
	bus := eventbus.New(16, slog.Default())
	tracker := NewStateTracker(bus, nil, slog.Default())

	// Not running: Snapshot must give up when ctx ends.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tracker.Snapshot(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Snapshot err=%v, want deadline exceeded", err)
	}
}
