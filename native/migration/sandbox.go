package migration

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"lendmigrate/core"
	"lendmigrate/core/events"
	"lendmigrate/core/types"
	"lendmigrate/native/bank"
	nativecommon "lendmigrate/native/common"
	"lendmigrate/native/lending"
	"lendmigrate/observability/metrics"
	"lendmigrate/storage"
)

// SandboxConfig describes a simulated deployment.
type SandboxConfig struct {
	Engine     common.Address
	Pool       common.Address
	Owner      common.Address
	FeeBps     uint64
	MaxFeeBps  uint64
	PremiumBps uint64
	LTVBps     uint64
	Referral   uint16
	// MaxPositions bounds each list passed to TransferAccount.
	MaxPositions int
	// Pauses gates both the engine and the pool when set.
	Pauses nativecommon.PauseView
}

// DefaultSandboxConfig returns deterministic addresses and Aave v2 defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Engine:     common.HexToAddress("0x00000000000000000000000000000000000e0001"),
		Pool:       common.HexToAddress("0x00000000000000000000000000000000000b0001"),
		Owner:      common.HexToAddress("0x00000000000000000000000000000000000a0001"),
		PremiumBps: lending.DefaultFlashLoanPremiumBps,
		LTVBps:     8_000,
	}
}

// Sandbox wires a ledger, a lending pool and an engine under one host so a
// migration can be rehearsed end to end.
type Sandbox struct {
	Host   *core.Host
	Ledger *bank.Ledger
	Pool   *lending.Pool
	Engine *Engine
	Admin  *Admin
	Events *events.Recorder

	ltvBps uint64
}

// NewSandbox builds an empty simulated deployment.
func NewSandbox(cfg SandboxConfig) (*Sandbox, error) {
	if cfg.LTVBps == 0 {
		cfg.LTVBps = 8_000
	}
	recorder := &events.Recorder{}
	ledger := bank.NewLedger()
	pool := lending.NewPool(cfg.Pool, ledger, lending.Config{FlashLoanPremiumBps: cfg.PremiumBps})
	host := core.NewHost(recorder, ledger, pool)

	admin, err := NewAdmin(cfg.Owner, NewKVFeeStore(storage.NewMemDB()), AdminConfig{DefaultRateBps: cfg.FeeBps, MaxRateBps: cfg.MaxFeeBps})
	if err != nil {
		return nil, err
	}
	engine := NewEngine(Config{Address: cfg.Engine, MaxPositions: cfg.MaxPositions, Referral: cfg.Referral}, pool, ledger, admin)

	if cfg.Pauses != nil {
		pool.SetPauses(cfg.Pauses)
		engine.SetPauses(cfg.Pauses)
	}
	ledger.SetEmitter(host)
	pool.SetEmitter(host)
	engine.SetEmitter(host)
	admin.SetEmitter(host)

	return &Sandbox{
		Host:   host,
		Ledger: ledger,
		Pool:   pool,
		Engine: engine,
		Admin:  admin,
		Events: recorder,
		ltvBps: cfg.LTVBps,
	}, nil
}

// AccountPosition is an account's debt and collateral across listed reserves.
type AccountPosition struct {
	Account     common.Address
	Debts       []DebtPosition
	Collaterals []CollateralPosition
}

// Seed opens the source position described by mctx and grants every approval
// a migration needs: the source approves the engine for its collateral tokens
// and the destination delegates credit to the engine for every debt mode.
func (s *Sandbox) Seed(ctx context.Context, mctx MigrationContext) error {
	return s.Host.Execute(ctx, func(ctx context.Context) error {
		for _, c := range mctx.Collaterals {
			if err := s.ensureReserve(c.UnderlyingAsset, c.CollateralToken); err != nil {
				return err
			}
		}
		for _, d := range mctx.Debts {
			if err := s.ensureReserve(d.Asset, common.Address{}); err != nil {
				return err
			}
		}

		for _, c := range mctx.Collaterals {
			amount := amountOrZero(c.Amount)
			if amount.IsZero() {
				continue
			}
			if err := s.Ledger.Mint(c.UnderlyingAsset, mctx.Source, amount); err != nil {
				return err
			}
			if err := s.Ledger.Approve(ctx, c.UnderlyingAsset, mctx.Source, s.Pool.Address(), amount); err != nil {
				return err
			}
			if err := s.Pool.Deposit(ctx, mctx.Source, c.UnderlyingAsset, amount, mctx.Source); err != nil {
				return err
			}
			if err := s.Ledger.Approve(ctx, c.CollateralToken, mctx.Source, s.Engine.Address(), amount); err != nil {
				return err
			}
		}

		unlimited := new(uint256.Int).SetAllOne()
		for _, d := range mctx.Debts {
			total, err := d.Total()
			if err != nil {
				return err
			}
			if total.IsZero() {
				continue
			}
			// Four times the debt covers the source borrow, the flash loan and
			// a re-borrow carrying premium and fee of up to 100% each.
			liquidity, overflow := new(uint256.Int).MulOverflow(total, uint256.NewInt(4))
			if overflow {
				return ErrArithmeticOverflow
			}
			if err := s.Ledger.Mint(d.Asset, s.Pool.Address(), liquidity); err != nil {
				return err
			}
			for _, leg := range d.legs() {
				if err := s.Pool.Borrow(ctx, mctx.Source, d.Asset, leg.amount, leg.mode, 0, mctx.Source); err != nil {
					return fmt.Errorf("seed %s debt on %s: %w", leg.mode, d.Asset.Hex(), err)
				}
				if err := s.Pool.ApproveDelegation(mctx.Destination, s.Engine.Address(), d.Asset, leg.mode, unlimited); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Migrate runs TransferAccount as a single host transaction on behalf of
// mctx.Source. The result is returned only once the transaction commits.
func (s *Sandbox) Migrate(ctx context.Context, mctx MigrationContext) (*Result, error) {
	var result *Result
	err := s.Host.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.Engine.TransferAccount(ctx, mctx.Source, mctx.Destination, mctx.Debts, mctx.Collaterals)
		return err
	})
	if err != nil {
		if result != nil {
			metrics.Migration().ObserveReverted()
			s.Engine.logger.Warn("migration reverted", "migration_id", result.ID, "error", err)
		}
		return nil, err
	}
	s.Engine.logger.Info("migration committed", "migration_id", result.ID)
	return result, nil
}

// Position reads the account's debts and aToken balances for every listed
// reserve, skipping empty entries.
func (s *Sandbox) Position(account common.Address) AccountPosition {
	out := AccountPosition{Account: account}
	for _, reserve := range s.Pool.Reserves() {
		stable := s.Pool.Debt(account, reserve.Asset, types.RateModeStable)
		variable := s.Pool.Debt(account, reserve.Asset, types.RateModeVariable)
		if !stable.IsZero() || !variable.IsZero() {
			out.Debts = append(out.Debts, DebtPosition{Asset: reserve.Asset, StableDebt: stable, VariableDebt: variable})
		}
		if balance := s.Ledger.BalanceOf(reserve.AToken, account); !balance.IsZero() {
			out.Collaterals = append(out.Collaterals, CollateralPosition{
				UnderlyingAsset: reserve.Asset,
				CollateralToken: reserve.AToken,
				Amount:          balance,
			})
		}
	}
	return out
}

func (s *Sandbox) ensureReserve(asset, aToken common.Address) error {
	if existing, ok := s.Pool.Reserve(asset); ok {
		if aToken != (common.Address{}) && existing.AToken != aToken {
			return fmt.Errorf("sandbox: %s already listed with aToken %s", asset.Hex(), existing.AToken.Hex())
		}
		return nil
	}
	if aToken == (common.Address{}) {
		aToken = DeriveCollateralToken(asset)
	}
	return s.Pool.InitReserve(lending.Reserve{Asset: asset, AToken: aToken, LTVBps: s.ltvBps})
}

// DeriveCollateralToken returns a deterministic aToken address for asset.
func DeriveCollateralToken(asset common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("aToken"), asset.Bytes())[12:])
}
