package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"lendmigrate/core/events"
)

// ErrTransactionPanicked is returned when a transaction body panics. All
// participants are reverted before the error is surfaced.
var ErrTransactionPanicked = errors.New("core: transaction panicked")

// Host executes transactions against a set of journaled participants with
// all-or-nothing semantics. Transactions are totally ordered: a transaction
// runs to commit or full rollback before the next one starts.
type Host struct {
	mu           sync.Mutex
	participants []Journaled

	eventsMu   sync.Mutex
	downstream events.Emitter
	pending    []events.Event
	inTx       bool

	logger *slog.Logger
}

// NewHost constructs a host forwarding committed events to downstream.
func NewHost(downstream events.Emitter, participants ...Journaled) *Host {
	if downstream == nil {
		downstream = events.NoopEmitter{}
	}
	h := &Host{downstream: downstream, logger: slog.Default()}
	for _, p := range participants {
		h.Register(p)
	}
	return h
}

// Register adds a participant. Registration must happen before transactions
// are executed.
func (h *Host) Register(p Journaled) {
	if h == nil || p == nil {
		return
	}
	h.mu.Lock()
	h.participants = append(h.participants, p)
	h.mu.Unlock()
}

// SetEmitter replaces the downstream emitter receiving committed events.
func (h *Host) SetEmitter(emitter events.Emitter) {
	if h == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	h.eventsMu.Lock()
	h.downstream = emitter
	h.eventsMu.Unlock()
}

// SetLogger overrides the logger used for transaction diagnostics.
func (h *Host) SetLogger(logger *slog.Logger) {
	if h == nil || logger == nil {
		return
	}
	h.logger = logger
}

// Emit buffers events raised inside a transaction until it commits. Events
// raised outside a transaction are forwarded immediately.
func (h *Host) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	h.eventsMu.Lock()
	if h.inTx {
		h.pending = append(h.pending, evt)
		h.eventsMu.Unlock()
		return
	}
	downstream := h.downstream
	h.eventsMu.Unlock()
	downstream.Emit(evt)
}

// Execute runs fn as a single transaction. Any error returned by fn, a panic
// inside fn or a cancelled context reverts every participant and drops the
// buffered events. fn must not call Execute.
func (h *Host) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if h == nil {
		return errors.New("core: host not configured")
	}
	if fn == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshots := make([]int, len(h.participants))
	for i, p := range h.participants {
		snapshots[i] = p.Snapshot()
	}
	h.beginEvents()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTransactionPanicked, r)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			for i := len(h.participants) - 1; i >= 0; i-- {
				h.participants[i].RevertToSnapshot(snapshots[i])
			}
			h.abortEvents()
			h.logger.Debug("transaction reverted", "error", err)
			return
		}
		for i := len(h.participants) - 1; i >= 0; i-- {
			h.participants[i].DiscardSnapshot(snapshots[i])
		}
		h.commitEvents()
	}()

	return fn(ctx)
}

func (h *Host) beginEvents() {
	h.eventsMu.Lock()
	h.inTx = true
	h.pending = nil
	h.eventsMu.Unlock()
}

func (h *Host) abortEvents() {
	h.eventsMu.Lock()
	h.inTx = false
	h.pending = nil
	h.eventsMu.Unlock()
}

func (h *Host) commitEvents() {
	h.eventsMu.Lock()
	pending := h.pending
	h.pending = nil
	h.inTx = false
	downstream := h.downstream
	h.eventsMu.Unlock()
	for _, evt := range pending {
		downstream.Emit(evt)
	}
}
