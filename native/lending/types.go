package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
)

// Reserve describes a listed asset. Deposits of Asset mint AToken one-to-one
// and the AToken balance backs borrowing at LTVBps of its value.
type Reserve struct {
	Asset  common.Address
	AToken common.Address
	// LTVBps is the share of collateral value that can be borrowed against,
	// expressed in basis points.
	LTVBps uint64
	// Price converts one base unit of the asset into quote units for health
	// checks. Nil is treated as one.
	Price *uint256.Int
}

// Clone returns a deep copy of the reserve.
func (r Reserve) Clone() Reserve {
	clone := r
	if r.Price != nil {
		clone.Price = r.Price.Clone()
	}
	return clone
}

func (r Reserve) price() *uint256.Int {
	if r.Price == nil || r.Price.IsZero() {
		return uint256.NewInt(1)
	}
	return r.Price
}

type debtKey struct {
	account common.Address
	asset   common.Address
	mode    types.RateMode
}

type delegationKey struct {
	delegator common.Address
	delegatee common.Address
	asset     common.Address
	mode      types.RateMode
}

// poolState stores immutable amounts so a shallow copy of each map is a
// complete snapshot.
type poolState struct {
	reserves    map[common.Address]Reserve
	listing     []common.Address
	debts       map[debtKey]*uint256.Int
	delegations map[delegationKey]*uint256.Int
}

func newPoolState() poolState {
	return poolState{
		reserves:    make(map[common.Address]Reserve),
		debts:       make(map[debtKey]*uint256.Int),
		delegations: make(map[delegationKey]*uint256.Int),
	}
}

func (s poolState) clone() poolState {
	out := poolState{
		reserves:    make(map[common.Address]Reserve, len(s.reserves)),
		listing:     append([]common.Address(nil), s.listing...),
		debts:       make(map[debtKey]*uint256.Int, len(s.debts)),
		delegations: make(map[delegationKey]*uint256.Int, len(s.delegations)),
	}
	for k, v := range s.reserves {
		out.reserves[k] = v
	}
	for k, v := range s.debts {
		out.debts[k] = v
	}
	for k, v := range s.delegations {
		out.delegations[k] = v
	}
	return out
}
