package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core"
	"lendmigrate/core/events"
	"lendmigrate/core/types"
	nativecommon "lendmigrate/native/common"
)

var (
	ErrUnknownReserve         = errors.New("lending pool: reserve not listed")
	ErrReserveExists          = errors.New("lending pool: reserve already listed")
	ErrInvalidAmount          = errors.New("lending pool: amount must be positive")
	ErrInvalidMode            = errors.New("lending pool: invalid interest rate mode")
	ErrNoDebt                 = errors.New("lending pool: no outstanding debt to repay")
	ErrInsufficientLiquidity  = errors.New("lending pool: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("lending pool: collateral cannot cover new borrow")
	ErrInsufficientDelegation = errors.New("lending pool: borrow allowance not enough")
	ErrInconsistentParams     = errors.New("lending pool: inconsistent flash loan parameters")
	ErrInvalidReceiver        = errors.New("lending pool: flash loan receiver required")

	errArithmeticOverflow = errors.New("lending pool: arithmetic overflow")
)

// ModuleName is the key checked against the pause view.
const ModuleName = "lending"

type tokenLedger interface {
	BalanceOf(token, holder common.Address) *uint256.Int
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error
	Mint(token, to common.Address, amount *uint256.Int) error
}

// Pool is an in-process lending pool with stable and variable debt, credit
// delegation and multi-asset flash loans. Underlying liquidity is held by the
// pool address on the token ledger.
type Pool struct {
	mu         sync.Mutex
	address    common.Address
	ledger     tokenLedger
	premiumBps uint64
	pauses     nativecommon.PauseView
	emitter    events.Emitter

	state     poolState
	snapshots core.Snapshots[poolState]
}

var _ core.Journaled = (*Pool)(nil)

// NewPool constructs a pool settling balances at address on ledger.
func NewPool(address common.Address, ledger tokenLedger, cfg Config) *Pool {
	return &Pool{
		address:    address,
		ledger:     ledger,
		premiumBps: cfg.FlashLoanPremiumBps,
		emitter:    events.NoopEmitter{},
		state:      newPoolState(),
	}
}

// Address returns the pool's settlement address.
func (p *Pool) Address() common.Address {
	if p == nil {
		return common.Address{}
	}
	return p.address
}

func (p *Pool) SetPauses(pauses nativecommon.PauseView) {
	if p == nil {
		return
	}
	p.pauses = pauses
}

// SetEmitter configures the sink for pool events.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if p == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	p.emitter = emitter
}

// SetFlashLoanPremium updates the premium charged on flash-loan principal.
func (p *Pool) SetFlashLoanPremium(bps uint64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.premiumBps = bps
	p.mu.Unlock()
}

// FlashLoanPremium returns the configured premium in basis points.
func (p *Pool) FlashLoanPremium() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.premiumBps
}

// Snapshot implements core.Journaled.
func (p *Pool) Snapshot() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots.Push(p.state.clone())
}

// RevertToSnapshot implements core.Journaled.
func (p *Pool) RevertToSnapshot(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if restored, ok := p.snapshots.Revert(id); ok {
		p.state = restored
	}
}

// DiscardSnapshot implements core.Journaled.
func (p *Pool) DiscardSnapshot(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots.Discard(id)
}

// InitReserve lists a new asset.
func (p *Pool) InitReserve(reserve Reserve) error {
	if p == nil {
		return ErrUnknownReserve
	}
	if reserve.Asset == (common.Address{}) || reserve.AToken == (common.Address{}) {
		return fmt.Errorf("lending pool: reserve asset and aToken required")
	}
	if reserve.LTVBps > basisPoints.Uint64() {
		return fmt.Errorf("lending pool: ltv %d exceeds 100%%", reserve.LTVBps)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.state.reserves[reserve.Asset]; ok {
		return ErrReserveExists
	}
	p.state.reserves[reserve.Asset] = reserve.Clone()
	p.state.listing = append(p.state.listing, reserve.Asset)
	return nil
}

// Reserve returns the listing for asset.
func (p *Pool) Reserve(asset common.Address) (Reserve, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reserve, ok := p.state.reserves[asset]
	return reserve.Clone(), ok
}

// Reserves returns every listed reserve in listing order.
func (p *Pool) Reserves() []Reserve {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Reserve, 0, len(p.state.listing))
	for _, asset := range p.state.listing {
		out = append(out, p.state.reserves[asset].Clone())
	}
	return out
}

// Debt returns the outstanding debt of account on asset in the given mode.
func (p *Pool) Debt(account, asset common.Address, mode types.RateMode) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return zeroIfNil(p.state.debts[debtKey{account, asset, mode}])
}

// BorrowAllowance returns the remaining credit delegated by delegator to
// delegatee.
func (p *Pool) BorrowAllowance(delegator, delegatee, asset common.Address, mode types.RateMode) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return zeroIfNil(p.state.delegations[delegationKey{delegator, delegatee, asset, mode}])
}

// ApproveDelegation lets delegatee open debt of the given mode on behalf of
// delegator. The allowance is replaced, never accumulated.
func (p *Pool) ApproveDelegation(delegator, delegatee, asset common.Address, mode types.RateMode, amount *uint256.Int) error {
	if !mode.IsDebt() {
		return ErrInvalidMode
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.state.reserves[asset]; !ok {
		return ErrUnknownReserve
	}
	p.state.delegations[delegationKey{delegator, delegatee, asset, mode}] = amount.Clone()
	return nil
}

// Deposit pulls amount of asset from caller and mints the matching aToken to
// onBehalfOf.
func (p *Pool) Deposit(ctx context.Context, caller, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error {
	if err := nativecommon.Guard(p.pauses, ModuleName); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reserve, ok := p.state.reserves[asset]
	if !ok {
		return ErrUnknownReserve
	}
	if err := p.ledger.TransferFrom(ctx, asset, p.address, caller, p.address, amount); err != nil {
		return fmt.Errorf("lending pool: deposit %s: %w", asset.Hex(), err)
	}
	if err := p.ledger.Mint(reserve.AToken, onBehalfOf, amount); err != nil {
		return err
	}
	p.emitter.Emit(events.LendingDeposit{Asset: asset, Supplier: caller, OnBehalfOf: onBehalfOf, Amount: amount.Clone()})
	return nil
}

// Borrow opens debt of the given mode for onBehalfOf and pays the funds to
// caller. Borrowing on behalf of another account consumes credit delegation.
func (p *Pool) Borrow(ctx context.Context, caller, asset common.Address, amount *uint256.Int, mode types.RateMode, referral uint16, onBehalfOf common.Address) error {
	if err := nativecommon.Guard(p.pauses, ModuleName); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if !mode.IsDebt() {
		return ErrInvalidMode
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.borrowLocked(ctx, caller, asset, amount, mode, referral, onBehalfOf)
}

func (p *Pool) borrowLocked(ctx context.Context, caller, asset common.Address, amount *uint256.Int, mode types.RateMode, referral uint16, onBehalfOf common.Address) error {
	if _, ok := p.state.reserves[asset]; !ok {
		return ErrUnknownReserve
	}

	var delegation delegationKey
	var remaining *uint256.Int
	if caller != onBehalfOf {
		delegation = delegationKey{onBehalfOf, caller, asset, mode}
		allowance := zeroIfNil(p.state.delegations[delegation])
		if allowance.Lt(amount) {
			return fmt.Errorf("%w: %s delegated %s to %s, needs %s",
				ErrInsufficientDelegation, onBehalfOf.Hex(), allowance.Dec(), caller.Hex(), amount.Dec())
		}
		remaining = new(uint256.Int).Sub(allowance, amount)
	}

	if liquidity := p.ledger.BalanceOf(asset, p.address); liquidity.Lt(amount) {
		return fmt.Errorf("%w: %s available %s, requested %s", ErrInsufficientLiquidity, asset.Hex(), liquidity.Dec(), amount.Dec())
	}

	key := debtKey{onBehalfOf, asset, mode}
	projected, err := addChecked(zeroIfNil(p.state.debts[key]), amount)
	if err != nil {
		return err
	}
	if !p.positionHealthy(onBehalfOf, key, projected) {
		return ErrInsufficientCollateral
	}
	if err := p.ledger.Transfer(ctx, asset, p.address, caller, amount); err != nil {
		return err
	}

	p.state.debts[key] = projected
	if remaining != nil {
		p.state.delegations[delegation] = remaining
	}
	p.emitter.Emit(events.LendingBorrow{
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: onBehalfOf,
		Mode:       uint8(mode),
		Amount:     amount.Clone(),
		Referral:   referral,
	})
	return nil
}

// Repay pulls funds from caller to reduce the debt of onBehalfOf. The amount
// is capped at the outstanding debt and the amount actually repaid is
// returned.
func (p *Pool) Repay(ctx context.Context, caller, asset common.Address, amount *uint256.Int, mode types.RateMode, onBehalfOf common.Address) (*uint256.Int, error) {
	if err := nativecommon.Guard(p.pauses, ModuleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if !mode.IsDebt() {
		return nil, ErrInvalidMode
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.state.reserves[asset]; !ok {
		return nil, ErrUnknownReserve
	}

	key := debtKey{onBehalfOf, asset, mode}
	debt := zeroIfNil(p.state.debts[key])
	if debt.IsZero() {
		return nil, fmt.Errorf("%w: %s %s debt of %s", ErrNoDebt, mode, asset.Hex(), onBehalfOf.Hex())
	}
	repaid := minAmount(amount, debt)
	if err := p.ledger.TransferFrom(ctx, asset, p.address, caller, p.address, repaid); err != nil {
		return nil, fmt.Errorf("lending pool: repay %s: %w", asset.Hex(), err)
	}
	p.state.debts[key] = new(uint256.Int).Sub(debt, repaid)
	p.emitter.Emit(events.LendingRepay{
		Asset:      asset,
		Payer:      caller,
		OnBehalfOf: onBehalfOf,
		Mode:       uint8(mode),
		Amount:     repaid.Clone(),
	})
	return repaid, nil
}

// positionHealthy reports whether the LTV-weighted value of account's aToken
// balances covers its debt once the entry under pending is replaced by
// projected. Must be called with the pool lock held.
func (p *Pool) positionHealthy(account common.Address, pending debtKey, projected *uint256.Int) bool {
	collateral := new(big.Int)
	debt := new(big.Int)
	for _, asset := range p.state.listing {
		reserve := p.state.reserves[asset]
		price := reserve.price()
		if balance := p.ledger.BalanceOf(reserve.AToken, account); !balance.IsZero() && reserve.LTVBps > 0 {
			weighted := valueOf(balance, price)
			weighted.Mul(weighted, new(big.Int).SetUint64(reserve.LTVBps))
			weighted.Quo(weighted, basisPoints.ToBig())
			collateral.Add(collateral, weighted)
		}
		for _, mode := range []types.RateMode{types.RateModeStable, types.RateModeVariable} {
			key := debtKey{account, asset, mode}
			amount := p.state.debts[key]
			if key == pending {
				amount = projected
			}
			if amount != nil && !amount.IsZero() {
				debt.Add(debt, valueOf(amount, price))
			}
		}
	}
	return collateral.Cmp(debt) >= 0
}
