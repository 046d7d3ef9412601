package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"lendmigrate/core/events"
	"lendmigrate/storage"
)

var (
	testOwner    = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	testStranger = common.HexToAddress("0x00000000000000000000000000000000000a0002")
)

func TestChangeFeeRequiresOwner(t *testing.T) {
	admin, err := NewAdmin(testOwner, NewKVFeeStore(storage.NewMemDB()), AdminConfig{})
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	if err := admin.ChangeFee(context.Background(), testStranger, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if admin.FeeRate() != 0 {
		t.Fatalf("expected fee unchanged, got %d", admin.FeeRate())
	}
}

func TestChangeFeeBounds(t *testing.T) {
	admin, err := NewAdmin(testOwner, nil, AdminConfig{MaxRateBps: 500})
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	ctx := context.Background()
	if err := admin.ChangeFee(ctx, testOwner, 501); !errors.Is(err, ErrFeeRateTooHigh) {
		t.Fatalf("expected ErrFeeRateTooHigh, got %v", err)
	}
	if err := admin.ChangeFee(ctx, testOwner, 500); err != nil {
		t.Fatalf("change fee at bound: %v", err)
	}

	uncapped, err := NewAdmin(testOwner, nil, AdminConfig{MaxRateBps: 50_000})
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	if uncapped.MaxFeeRate() != MaxFeeBps {
		t.Fatalf("expected max clamped to %d, got %d", MaxFeeBps, uncapped.MaxFeeRate())
	}
	if err := uncapped.ChangeFee(ctx, testOwner, MaxFeeBps+1); !errors.Is(err, ErrFeeRateTooHigh) {
		t.Fatalf("expected ErrFeeRateTooHigh above 100%%, got %v", err)
	}
}

func TestChangeFeePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	admin, err := NewAdmin(testOwner, NewKVFeeStore(db), AdminConfig{DefaultRateBps: 5})
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	recorder := &events.Recorder{}
	admin.SetEmitter(recorder)
	if err := admin.ChangeFee(context.Background(), testOwner, 75); err != nil {
		t.Fatalf("change fee: %v", err)
	}
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer reopened.Close()
	restored, err := NewAdmin(testOwner, NewKVFeeStore(reopened), AdminConfig{DefaultRateBps: 5})
	if err != nil {
		t.Fatalf("restore admin: %v", err)
	}
	if restored.FeeRate() != 75 {
		t.Fatalf("expected persisted fee 75, got %d", restored.FeeRate())
	}

	recorded := recorder.Events()
	if len(recorded) != 1 {
		t.Fatalf("expected one fee event, got %d", len(recorded))
	}
	changed, ok := recorded[0].(events.MigrationFeeChanged)
	if !ok || changed.Previous != 5 || changed.Next != 75 {
		t.Fatalf("unexpected fee event %#v", recorded[0])
	}
}

func TestNewAdminRequiresOwner(t *testing.T) {
	if _, err := NewAdmin(common.Address{}, nil, AdminConfig{}); !errors.Is(err, ErrFeeRecipientMissing) {
		t.Fatalf("expected ErrFeeRecipientMissing, got %v", err)
	}
}
