package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "migrated", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("migration committed", "migration_id", "abc")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["message"] != "migration committed" || entry["severity"] != "INFO" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["service"] != "migrated" || entry["env"] != "test" || entry["migration_id"] != "abc" {
		t.Fatalf("missing attributes %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("missing timestamp in %v", entry)
	}
}

func TestSetupMasksUnlistedStrings(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "migrated", "", slog.LevelInfo)
	logger.Info("audit store opened",
		"driver", "postgres",
		"dsn", "postgres://migrator:hunter2@db/audit",
		"asset", "0x00000000000000000000000000000000000000a1",
		"positions", 3,
		"empty", "")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["dsn"] != RedactedValue {
		t.Fatalf("expected dsn to be redacted, got %v", entry["dsn"])
	}
	if bytes.Contains(buf.Bytes(), []byte("hunter2")) {
		t.Fatalf("secret leaked into %q", buf.String())
	}
	if entry["driver"] != "postgres" || entry["asset"] != "0x00000000000000000000000000000000000000a1" {
		t.Fatalf("allowlisted attributes altered: %v", entry)
	}
	if entry["positions"] != float64(3) || entry["empty"] != "" {
		t.Fatalf("non-string and empty attributes must pass through: %v", entry)
	}
	if entry["message"] != "audit store opened" || entry["service"] != "migrated" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetupWithFileRotatesToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrated.log")
	logger, closer := SetupWithFile("migrated", "", slog.LevelDebug, FileOptions{Path: path})
	logger.Debug("debug line")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("debug line")) {
		t.Fatalf("expected debug line in %q", data)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("jwt", "secret").Value.String(); got != RedactedValue {
		t.Fatalf("expected jwt to be redacted, got %q", got)
	}
	if got := MaskField("Migration_ID", "abc").Value.String(); got != "abc" {
		t.Fatalf("expected migration id to pass through, got %q", got)
	}
	if got := MaskField("dsn", "").Value.String(); got != "" {
		t.Fatalf("expected empty value unchanged, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, " WARN ": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
