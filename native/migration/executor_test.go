package migration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
	"lendmigrate/native/bank"
)

// callbackPool hands control to onFlash instead of lending anything.
type callbackPool struct {
	addr    common.Address
	onFlash func(ctx context.Context, receiver types.FlashLoanReceiver, call types.FlashLoanCall) error
}

func (p *callbackPool) Address() common.Address { return p.addr }

func (p *callbackPool) Repay(_ context.Context, _ common.Address, _ common.Address, amount *uint256.Int, _ types.RateMode, _ common.Address) (*uint256.Int, error) {
	return amount.Clone(), nil
}

func (p *callbackPool) Borrow(context.Context, common.Address, common.Address, *uint256.Int, types.RateMode, uint16, common.Address) error {
	return nil
}

func (p *callbackPool) FlashLoan(ctx context.Context, initiator common.Address, receiver types.FlashLoanReceiver, assets []common.Address, amounts []*uint256.Int, _ []types.RateMode, _ common.Address, params []byte, _ uint16) error {
	call := types.FlashLoanCall{
		Caller:    p.addr,
		Initiator: initiator,
		Assets:    assets,
		Amounts:   amounts,
		Premiums:  make([]*uint256.Int, len(assets)),
		Params:    params,
	}
	for i := range call.Premiums {
		call.Premiums[i] = new(uint256.Int)
	}
	return p.onFlash(ctx, receiver, call)
}

func newCallbackEngine(onFlash func(ctx context.Context, receiver types.FlashLoanReceiver, call types.FlashLoanCall) error) (*Engine, *callbackPool) {
	pool := &callbackPool{addr: DefaultSandboxConfig().Pool, onFlash: onFlash}
	engine := NewEngine(Config{Address: DefaultSandboxConfig().Engine}, pool, bank.NewLedger(), nil)
	return engine, pool
}

func TestTransferAccountRejectsReentry(t *testing.T) {
	var engine *Engine
	var nested error
	engine, _ = newCallbackEngine(func(ctx context.Context, _ types.FlashLoanReceiver, _ types.FlashLoanCall) error {
		debts := []DebtPosition{{Asset: assetY, StableDebt: uint256.NewInt(1)}}
		_, nested = engine.TransferAccount(ctx, source, dest, debts, nil)
		return nested
	})

	debts := []DebtPosition{{Asset: assetX, StableDebt: uint256.NewInt(1)}}
	_, err := engine.TransferAccount(context.Background(), source, dest, debts, nil)
	if !errors.Is(nested, ErrReentrant) {
		t.Fatalf("expected nested call to fail with ErrReentrant, got %v", nested)
	}
	if !errors.Is(err, ErrReentrant) {
		t.Fatalf("expected outer call to surface ErrReentrant, got %v", err)
	}
}

func TestExecuteOperationRunsOncePerLoan(t *testing.T) {
	var second error
	engine, _ := newCallbackEngine(func(ctx context.Context, receiver types.FlashLoanReceiver, call types.FlashLoanCall) error {
		if ok, err := receiver.ExecuteOperation(ctx, call); !ok || err != nil {
			return fmt.Errorf("first callback: ok=%v err=%v", ok, err)
		}
		_, second = receiver.ExecuteOperation(ctx, call)
		return nil
	})
	debts := []DebtPosition{{Asset: assetX, StableDebt: uint256.NewInt(1)}}
	if _, err := engine.TransferAccount(context.Background(), source, dest, debts, nil); err != nil {
		t.Fatalf("transfer account: %v", err)
	}
	if !errors.Is(second, ErrUnexpectedCallback) {
		t.Fatalf("expected replayed callback to fail with ErrUnexpectedCallback, got %v", second)
	}
}

func TestExecuteOperationRejectsUntrustedCaller(t *testing.T) {
	engine, _ := newCallbackEngine(nil)
	ok, err := engine.ExecuteOperation(context.Background(), types.FlashLoanCall{Caller: source})
	if ok || !errors.Is(err, ErrUntrustedCaller) {
		t.Fatalf("expected ErrUntrustedCaller, got %v (ok=%v)", err, ok)
	}
}

func TestExecuteOperationWithoutPendingMigration(t *testing.T) {
	engine, pool := newCallbackEngine(nil)
	ok, err := engine.ExecuteOperation(context.Background(), types.FlashLoanCall{Caller: pool.addr, Initiator: engine.Address()})
	if ok || !errors.Is(err, ErrUnexpectedCallback) {
		t.Fatalf("expected ErrUnexpectedCallback, got %v (ok=%v)", err, ok)
	}
}

func TestExecuteOperationRejectsTamperedParams(t *testing.T) {
	engine, _ := newCallbackEngine(func(ctx context.Context, receiver types.FlashLoanReceiver, call types.FlashLoanCall) error {
		call.Params = append(call.Params, 0x00)
		_, err := receiver.ExecuteOperation(ctx, call)
		return err
	})
	debts := []DebtPosition{{Asset: assetX, StableDebt: uint256.NewInt(1)}}
	if _, err := engine.TransferAccount(context.Background(), source, dest, debts, nil); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestExecuteOperationRejectsMisalignedLoan(t *testing.T) {
	engine, _ := newCallbackEngine(func(ctx context.Context, receiver types.FlashLoanReceiver, call types.FlashLoanCall) error {
		call.Amounts = []*uint256.Int{uint256.NewInt(2)}
		_, err := receiver.ExecuteOperation(ctx, call)
		return err
	})
	debts := []DebtPosition{{Asset: assetX, StableDebt: uint256.NewInt(1)}}
	if _, err := engine.TransferAccount(context.Background(), source, dest, debts, nil); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestExecuteOperationRejectsLengthMismatch(t *testing.T) {
	engine, _ := newCallbackEngine(func(ctx context.Context, receiver types.FlashLoanReceiver, call types.FlashLoanCall) error {
		call.Premiums = nil
		_, err := receiver.ExecuteOperation(ctx, call)
		return err
	})
	debts := []DebtPosition{{Asset: assetX, StableDebt: uint256.NewInt(1)}}
	if _, err := engine.TransferAccount(context.Background(), source, dest, debts, nil); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
