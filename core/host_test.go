package core

import (
	"context"
	"errors"
	"testing"

	"lendmigrate/core/events"
)

type counter struct {
	value     int
	snapshots Snapshots[int]
}

func (c *counter) Snapshot() int { return c.snapshots.Push(c.value) }

func (c *counter) DiscardSnapshot(id int) { c.snapshots.Discard(id) }

func (c *counter) RevertToSnapshot(id int) {
	if v, ok := c.snapshots.Revert(id); ok {
		c.value = v
	}
}

type testEvent string

func (e testEvent) EventType() string { return string(e) }

func TestExecuteCommitsAndFlushesEvents(t *testing.T) {
	recorder := &events.Recorder{}
	c := &counter{}
	host := NewHost(recorder, c)

	err := host.Execute(context.Background(), func(context.Context) error {
		c.value = 7
		host.Emit(testEvent("a"))
		if got := len(recorder.Events()); got != 0 {
			t.Fatalf("expected events to be buffered, got %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if c.value != 7 {
		t.Fatalf("expected committed value 7, got %d", c.value)
	}
	if c.snapshots.Depth() != 0 {
		t.Fatalf("expected snapshots discarded, depth %d", c.snapshots.Depth())
	}
	if types := recorder.Types(); len(types) != 1 || types[0] != "a" {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestExecuteRevertsOnError(t *testing.T) {
	recorder := &events.Recorder{}
	c := &counter{value: 1}
	host := NewHost(recorder, c)
	failure := errors.New("boom")

	err := host.Execute(context.Background(), func(context.Context) error {
		c.value = 99
		host.Emit(testEvent("dropped"))
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure, got %v", err)
	}
	if c.value != 1 {
		t.Fatalf("expected value reverted to 1, got %d", c.value)
	}
	if len(recorder.Events()) != 0 {
		t.Fatalf("expected buffered events dropped")
	}
}

func TestExecuteRevertsOnPanic(t *testing.T) {
	c := &counter{value: 3}
	host := NewHost(nil, c)

	err := host.Execute(context.Background(), func(context.Context) error {
		c.value = 4
		panic("unexpected")
	})
	if !errors.Is(err, ErrTransactionPanicked) {
		t.Fatalf("expected ErrTransactionPanicked, got %v", err)
	}
	if c.value != 3 {
		t.Fatalf("expected value reverted to 3, got %d", c.value)
	}
}

func TestExecuteRevertsOnCancellation(t *testing.T) {
	c := &counter{value: 5}
	host := NewHost(nil, c)
	ctx, cancel := context.WithCancel(context.Background())

	err := host.Execute(ctx, func(context.Context) error {
		c.value = 6
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.value != 5 {
		t.Fatalf("expected value reverted to 5, got %d", c.value)
	}
}

func TestEmitOutsideTransactionForwards(t *testing.T) {
	recorder := &events.Recorder{}
	host := NewHost(recorder)
	host.Emit(testEvent("direct"))
	if types := recorder.Types(); len(types) != 1 || types[0] != "direct" {
		t.Fatalf("unexpected events %v", types)
	}
}
