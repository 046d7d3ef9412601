package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauseSet(t *testing.T) {
	pauses := NewPauseSet("Migration")
	if err := Guard(pauses, "migration"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "lending"); err != nil {
		t.Fatalf("expected lending to be active, got %v", err)
	}
	pauses.Set("migration", false)
	if err := Guard(pauses, "migration"); err != nil {
		t.Fatalf("expected migration resumed, got %v", err)
	}
	if err := Guard(nil, "migration"); err != nil {
		t.Fatalf("nil pause view must not block, got %v", err)
	}
}

func TestEntryLockRejectsNestedEntry(t *testing.T) {
	var lock EntryLock
	if err := lock.Enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := lock.Enter(); !errors.Is(err, ErrReentrant) {
		t.Fatalf("expected ErrReentrant, got %v", err)
	}
	lock.Exit()
	if lock.Held() {
		t.Fatalf("expected lock released")
	}
	if err := lock.Enter(); err != nil {
		t.Fatalf("re-enter after exit: %v", err)
	}
}
