package lending

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"lendmigrate/core/types"
	nativecommon "lendmigrate/native/common"
)

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func TestPausedPoolBlocksMutation(t *testing.T) {
	fx := newPoolFixture(t, 1_000)
	user := makeAddress(0x01, 0x01)
	fx.deposit(t, user, 100)
	fx.pool.SetPauses(stubPauseView{modules: map[string]bool{"lending": true}})
	ctx := context.Background()

	if err := fx.pool.Borrow(ctx, user, fx.asset, uint256.NewInt(10), types.RateModeStable, 0, user); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := fx.pool.Repay(ctx, user, fx.asset, uint256.NewInt(10), types.RateModeStable, user); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if got := fx.ledger.BalanceOf(fx.asset, fx.pool.Address()); got.Uint64() != 1_100 {
		t.Fatalf("expected pool liquidity unchanged at 1100, got %s", got.Dec())
	}
}
