package passphrase

import (
	"strings"
	"testing"
)

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("MIGRATE_TEST_PASSPHRASE", "hunter2")
	src := NewSource(" MIGRATE_TEST_PASSPHRASE ")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("MIGRATE_TEST_PASSPHRASE", "changed")
	again, _ := src.Get()
	if again != "hunter2" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("MIGRATE_TEST_PASSPHRASE", "   ")
	_, err := NewSource("MIGRATE_TEST_PASSPHRASE").Get()
	if err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty passphrase error, got %v", err)
	}
}
