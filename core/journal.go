package core

// Journaled is implemented by state holders that can take part in an atomic
// host transaction.
type Journaled interface {
	// Snapshot records the current state and returns an identifier that can
	// later be reverted to or discarded.
	Snapshot() int
	// RevertToSnapshot restores the state captured by Snapshot(id) and drops
	// every snapshot taken after it.
	RevertToSnapshot(id int)
	// DiscardSnapshot drops snapshot id and everything taken after it while
	// keeping the current state.
	DiscardSnapshot(id int)
}

// Snapshots is a stack of copied states backing a Journaled implementation.
// Values pushed onto the stack must not be mutated afterwards.
type Snapshots[T any] struct {
	stack []T
}

// Push stores a copy and returns its identifier.
func (s *Snapshots[T]) Push(copied T) int {
	s.stack = append(s.stack, copied)
	return len(s.stack) - 1
}

// Revert returns the state stored under id and truncates the stack. The
// boolean is false when id is unknown.
func (s *Snapshots[T]) Revert(id int) (T, bool) {
	var zero T
	if id < 0 || id >= len(s.stack) {
		return zero, false
	}
	restored := s.stack[id]
	for i := id; i < len(s.stack); i++ {
		s.stack[i] = zero
	}
	s.stack = s.stack[:id]
	return restored, true
}

// Discard truncates the stack at id.
func (s *Snapshots[T]) Discard(id int) {
	if id < 0 || id >= len(s.stack) {
		return
	}
	var zero T
	for i := id; i < len(s.stack); i++ {
		s.stack[i] = zero
	}
	s.stack = s.stack[:id]
}

// Depth reports the number of outstanding snapshots.
func (s *Snapshots[T]) Depth() int { return len(s.stack) }
