package bank

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core"
	"lendmigrate/core/events"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrZeroAddress           = errors.New("bank: zero address")
	ErrInvalidAmount         = errors.New("bank: amount required")
	ErrBalanceOverflow       = errors.New("bank: balance overflow")
)

type balanceKey struct {
	token  common.Address
	holder common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// ledgerState holds immutable amounts; every write stores a fresh value so a
// shallow map copy is a complete snapshot.
type ledgerState struct {
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     map[common.Address]*uint256.Int
}

func newLedgerState() ledgerState {
	return ledgerState{
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     make(map[common.Address]*uint256.Int),
	}
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		balances:   make(map[balanceKey]*uint256.Int, len(s.balances)),
		allowances: make(map[allowanceKey]*uint256.Int, len(s.allowances)),
		supply:     make(map[common.Address]*uint256.Int, len(s.supply)),
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	for k, v := range s.allowances {
		out.allowances[k] = v
	}
	for k, v := range s.supply {
		out.supply[k] = v
	}
	return out
}

// Ledger is a multi-token ERC-20 style balance sheet keyed by token address.
// It participates in host transactions through snapshots.
type Ledger struct {
	mu        sync.RWMutex
	state     ledgerState
	snapshots core.Snapshots[ledgerState]
	emitter   events.Emitter
}

var _ core.Journaled = (*Ledger)(nil)

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{state: newLedgerState(), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the sink for transfer and approval events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// Snapshot implements core.Journaled.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshots.Push(l.state.clone())
}

// RevertToSnapshot implements core.Journaled.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if restored, ok := l.snapshots.Revert(id); ok {
		l.state = restored
	}
}

// DiscardSnapshot implements core.Journaled.
func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots.Discard(id)
}

// BalanceOf returns the holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneOrZero(l.state.balances[balanceKey{token, holder}])
}

// Allowance returns the amount spender may move out of owner's balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneOrZero(l.state.allowances[allowanceKey{token, owner, spender}])
}

// TotalSupply returns the circulating amount of token.
func (l *Ledger) TotalSupply(token common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneOrZero(l.state.supply[token])
}

// Mint credits amount of token to the recipient.
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(cloneOrZero(l.state.supply[token]), amount)
	if overflow {
		return ErrBalanceOverflow
	}
	balance, overflow := new(uint256.Int).AddOverflow(cloneOrZero(l.state.balances[balanceKey{token, to}]), amount)
	if overflow {
		return ErrBalanceOverflow
	}
	l.state.supply[token] = supply
	l.state.balances[balanceKey{token, to}] = balance
	l.emitter.Emit(events.Transfer{Token: token, To: to, Amount: amount.Clone()})
	return nil
}

// Burn destroys amount of token held by from.
func (l *Ledger) Burn(token, from common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{token, from}
	balance := cloneOrZero(l.state.balances[key])
	if balance.Lt(amount) {
		return ErrInsufficientBalance
	}
	l.state.balances[key] = new(uint256.Int).Sub(balance, amount)
	l.state.supply[token] = new(uint256.Int).Sub(cloneOrZero(l.state.supply[token]), amount)
	l.emitter.Emit(events.Transfer{Token: token, From: from, Amount: amount.Clone()})
	return nil
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
