package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	engineconfig "lendmigrate/config"
	"lendmigrate/crypto"
	"lendmigrate/native/migration"
	"lendmigrate/services/migrated/api"
	"lendmigrate/services/migrated/storage"
)

const positionYAML = `source: "0x1111111111111111111111111111111111111111"
destination: "0x2222222222222222222222222222222222222222"
debts:
  - asset: "0x00000000000000000000000000000000000000a1"
    stable: "50000"
    variable: "30000"
  - asset: "0x00000000000000000000000000000000000000a2"
collaterals:
  - asset: "0x00000000000000000000000000000000000000c1"
    aToken: "%s"
    amount: "1000000"
`

type workspace struct {
	config   string
	position string
	dir      string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "lendmigrate.toml")
	_, err := engineconfig.Load(configPath)
	require.NoError(t, err)

	aToken := migration.DeriveCollateralToken(crypto.MustParseAddress("0x00000000000000000000000000000000000000c1")).Hex()
	positionPath := filepath.Join(dir, "position.yaml")
	require.NoError(t, os.WriteFile(positionPath, []byte(strings.Replace(positionYAML, "%s", aToken, 1)), 0o600))
	return workspace{config: configPath, position: positionPath, dir: dir}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := run(args, stdout, stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	code, stdout, stderr := runCLI(t, "bogus")
	if code != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", code)
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestPlanCommand(t *testing.T) {
	ws := newWorkspace(t)
	code, stdout, stderr := runCLI(t, "plan", "--config", ws.config, "--position", ws.position)
	require.Equal(t, 0, code, stderr)

	var plan api.PlanResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	require.Len(t, plan.Loan, 1, "zero debt entries are dropped")
	require.Equal(t, "80000", plan.Loan[0].Amount)
	require.Len(t, plan.Legs, 1)
	require.True(t, strings.HasPrefix(plan.Calldata, "0x"))
}

func TestPlanCommandRequiresPosition(t *testing.T) {
	ws := newWorkspace(t)
	code, _, stderr := runCLI(t, "plan", "--config", ws.config)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--position is required")
}

func TestSimulateCommandYAML(t *testing.T) {
	ws := newWorkspace(t)
	code, stdout, stderr := runCLI(t, "simulate", "--config", ws.config, "--position", ws.position, "--output", "yaml")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "destination:")
	require.Contains(t, stdout, "events:")
}

func TestCalldataRoundTrip(t *testing.T) {
	ws := newWorkspace(t)
	code, encoded, stderr := runCLI(t, "calldata", "--position", ws.position)
	require.Equal(t, 0, code, stderr)

	code, decoded, stderr := runCLI(t, "calldata", "--decode", strings.TrimSpace(encoded), "--source", "0x1111111111111111111111111111111111111111")
	require.Equal(t, 0, code, stderr)
	var doc api.PositionDocument
	require.NoError(t, json.Unmarshal([]byte(decoded), &doc))
	require.Equal(t, "0x2222222222222222222222222222222222222222", doc.Destination)
	require.Equal(t, "0x1111111111111111111111111111111111111111", doc.Source)
	require.Len(t, doc.Debts, 1)
	require.Equal(t, "50000", doc.Debts[0].Stable)
	require.Len(t, doc.Collaterals, 1)
}

func TestSnapshotRejectsBadUser(t *testing.T) {
	code, _, stderr := runCLI(t, "snapshot", "--user", "nope")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--user")
}

func TestSetFeeRequiresRate(t *testing.T) {
	code, _, stderr := runCLI(t, "set-fee")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--rate is required")
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "audit.db")
	store, err := storage.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), &storage.AuditRecord{
		Kind:    storage.KindPlan,
		Outcome: storage.OutcomeAccepted,
		Source:  "0x1111111111111111111111111111111111111111",
	}))
	require.NoError(t, store.Close())

	out := filepath.Join(dir, "exports")
	code, stdout, stderr := runCLI(t, "export", "--dsn", dsn, "--dir", out, "--since", "1h")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "wrote 1 records")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ".parquet", filepath.Ext(entries[0].Name()))
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2h", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(-2*time.Hour), got)

	got, err = parseSince("2024-04-30T00:00:00Z", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), got)

	_, err = parseSince("yesterday", now)
	require.Error(t, err)
}

func TestProtectKeystore(t *testing.T) {
	ws := newWorkspace(t)
	t.Setenv("MIGRATE_PASSPHRASE", "correct horse")
	code, stdout, stderr := runCLI(t, "protect-keystore", "--config", ws.config)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "re-encrypted")
}
