package common

import (
	"errors"
	"sync"
)

var ErrReentrant = errors.New("reentrant call")

// EntryLock admits a single holder at a time and rejects nested entries
// instead of blocking.
type EntryLock struct {
	mu     sync.Mutex
	locked bool
}

// Enter acquires the lock or fails with ErrReentrant when it is held.
func (l *EntryLock) Enter() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return ErrReentrant
	}
	l.locked = true
	return nil
}

// Exit releases the lock.
func (l *EntryLock) Exit() {
	l.mu.Lock()
	l.locked = false
	l.mu.Unlock()
}

// Held reports whether the lock is currently held.
func (l *EntryLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
