package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "lendmigrate/core/errors"
	"lendmigrate/core/events"
	"lendmigrate/core/types"
	nativecommon "lendmigrate/native/common"
)

// FlashLoan lends every asset to receiver, invokes its callback synchronously
// and then settles each leg. Legs with RateModeNone are pulled back for
// amount plus premium from the receiver; legs with a debt mode are converted
// into debt for onBehalfOf. Any failure aborts the caller's transaction.
func (p *Pool) FlashLoan(ctx context.Context, initiator common.Address, receiver types.FlashLoanReceiver, assets []common.Address, amounts []*uint256.Int, modes []types.RateMode, onBehalfOf common.Address, params []byte, referral uint16) error {
	if err := nativecommon.Guard(p.pauses, ModuleName); err != nil {
		return err
	}
	if receiver == nil {
		return ErrInvalidReceiver
	}
	if len(assets) == 0 || len(assets) != len(amounts) || len(assets) != len(modes) {
		return fmt.Errorf("%w: %d assets, %d amounts, %d modes", ErrInconsistentParams, len(assets), len(amounts), len(modes))
	}
	receiverAddr := receiver.Address()
	if receiverAddr == (common.Address{}) {
		return ErrInvalidReceiver
	}

	premiums, err := p.disburse(ctx, receiverAddr, assets, amounts, modes)
	if err != nil {
		return err
	}

	call := types.FlashLoanCall{
		Caller:    p.address,
		Initiator: initiator,
		Assets:    append([]common.Address(nil), assets...),
		Amounts:   cloneAmounts(amounts),
		Premiums:  cloneAmounts(premiums),
		Params:    append([]byte(nil), params...),
	}
	ok, err := receiver.ExecuteOperation(ctx, call)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.ErrInvalidFlashLoanReturn
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, asset := range assets {
		if modes[i] == types.RateModeNone {
			owed, err := addChecked(amounts[i], premiums[i])
			if err != nil {
				return err
			}
			if err := p.ledger.TransferFrom(ctx, asset, p.address, receiverAddr, p.address, owed); err != nil {
				return fmt.Errorf("%w: %s owes %s: %v", coreerrors.ErrLiquidityShortfall, asset.Hex(), owed.Dec(), err)
			}
		} else {
			if err := p.openFlashDebt(ctx, initiator, asset, amounts[i], modes[i], onBehalfOf); err != nil {
				return err
			}
		}
		p.emitter.Emit(events.LendingFlashLoan{
			Receiver:  receiverAddr,
			Initiator: initiator,
			Asset:     asset,
			Amount:    amounts[i].Clone(),
			Premium:   premiums[i].Clone(),
			Mode:      uint8(modes[i]),
			Referral:  referral,
		})
	}
	return nil
}

// disburse validates each leg and transfers the principal to the receiver.
func (p *Pool) disburse(ctx context.Context, receiver common.Address, assets []common.Address, amounts []*uint256.Int, modes []types.RateMode) ([]*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	premiums := make([]*uint256.Int, len(assets))
	for i, asset := range assets {
		if _, ok := p.state.reserves[asset]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReserve, asset.Hex())
		}
		if amounts[i] == nil {
			return nil, ErrInvalidAmount
		}
		if !modes[i].Valid() {
			return nil, ErrInvalidMode
		}
		premium, err := premiumFor(amounts[i], p.premiumBps)
		if err != nil {
			return nil, err
		}
		premiums[i] = premium
		if amounts[i].IsZero() {
			continue
		}
		if liquidity := p.ledger.BalanceOf(asset, p.address); liquidity.Lt(amounts[i]) {
			return nil, fmt.Errorf("%w: %s available %s, requested %s", ErrInsufficientLiquidity, asset.Hex(), liquidity.Dec(), amounts[i].Dec())
		}
		if err := p.ledger.Transfer(ctx, asset, p.address, receiver, amounts[i]); err != nil {
			return nil, err
		}
	}
	return premiums, nil
}

// openFlashDebt records a flash-loan leg as debt of onBehalfOf without moving
// funds: the receiver keeps the principal.
func (p *Pool) openFlashDebt(ctx context.Context, initiator, asset common.Address, amount *uint256.Int, mode types.RateMode, onBehalfOf common.Address) error {
	if amount.IsZero() {
		return nil
	}
	var delegation delegationKey
	var remaining *uint256.Int
	if initiator != onBehalfOf {
		delegation = delegationKey{onBehalfOf, initiator, asset, mode}
		allowance := zeroIfNil(p.state.delegations[delegation])
		if allowance.Lt(amount) {
			return ErrInsufficientDelegation
		}
		remaining = new(uint256.Int).Sub(allowance, amount)
	}
	key := debtKey{onBehalfOf, asset, mode}
	projected, err := addChecked(zeroIfNil(p.state.debts[key]), amount)
	if err != nil {
		return err
	}
	if !p.positionHealthy(onBehalfOf, key, projected) {
		return ErrInsufficientCollateral
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.state.debts[key] = projected
	if remaining != nil {
		p.state.delegations[delegation] = remaining
	}
	return nil
}

func cloneAmounts(in []*uint256.Int) []*uint256.Int {
	out := make([]*uint256.Int, len(in))
	for i, v := range in {
		out[i] = zeroIfNil(v)
	}
	return out
}
