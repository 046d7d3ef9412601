package bank

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/events"
)

var maxAllowance = new(uint256.Int).SetAllOne()

// Approve sets the allowance granted by owner to spender. Any previous value
// is replaced, never accumulated.
func (l *Ledger) Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.allowances[allowanceKey{token, owner, spender}] = amount.Clone()
	l.emitter.Emit(events.Approval{Token: token, Owner: owner, Spender: spender, Amount: amount.Clone()})
	return nil
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

// TransferFrom moves amount of token out of from's balance on behalf of
// spender, consuming spender's allowance. A maximal allowance is never
// decremented.
func (l *Ledger) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{token, from, spender}
	allowance := cloneOrZero(l.state.allowances[key])
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: token %s owner %s spender %s has %s, needs %s",
			ErrInsufficientAllowance, token.Hex(), from.Hex(), spender.Hex(), allowance.Dec(), amount.Dec())
	}
	if err := l.move(token, from, to, amount); err != nil {
		return err
	}
	if !allowance.Eq(maxAllowance) {
		l.state.allowances[key] = new(uint256.Int).Sub(allowance, amount)
	}
	return nil
}

// move must be called with the ledger lock held.
func (l *Ledger) move(token, from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromKey := balanceKey{token, from}
	balance := cloneOrZero(l.state.balances[fromKey])
	if balance.Lt(amount) {
		return fmt.Errorf("%w: token %s holder %s has %s, needs %s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), balance.Dec(), amount.Dec())
	}
	if from != to {
		toKey := balanceKey{token, to}
		credited, overflow := new(uint256.Int).AddOverflow(cloneOrZero(l.state.balances[toKey]), amount)
		if overflow {
			return ErrBalanceOverflow
		}
		l.state.balances[fromKey] = new(uint256.Int).Sub(balance, amount)
		l.state.balances[toKey] = credited
	}
	l.emitter.Emit(events.Transfer{Token: token, From: from, To: to, Amount: amount.Clone()})
	return nil
}
