package migration

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
)

// DebtPosition is the source's outstanding debt on one asset.
type DebtPosition struct {
	Asset        common.Address
	StableDebt   *uint256.Int
	VariableDebt *uint256.Int
}

// Total returns StableDebt + VariableDebt.
func (d DebtPosition) Total() (*uint256.Int, error) {
	total, overflow := new(uint256.Int).AddOverflow(amountOrZero(d.StableDebt), amountOrZero(d.VariableDebt))
	if overflow {
		return nil, fmt.Errorf("%w: debt total for %s", ErrArithmeticOverflow, d.Asset.Hex())
	}
	return total, nil
}

// IsEmpty reports whether neither mode carries debt.
func (d DebtPosition) IsEmpty() bool {
	return amountOrZero(d.StableDebt).IsZero() && amountOrZero(d.VariableDebt).IsZero()
}

// legs returns the non-zero modes in repayment and borrow order: stable first.
func (d DebtPosition) legs() []debtLeg {
	out := make([]debtLeg, 0, 2)
	if stable := amountOrZero(d.StableDebt); !stable.IsZero() {
		out = append(out, debtLeg{mode: types.RateModeStable, amount: stable})
	}
	if variable := amountOrZero(d.VariableDebt); !variable.IsZero() {
		out = append(out, debtLeg{mode: types.RateModeVariable, amount: variable})
	}
	return out
}

func (d DebtPosition) clone() DebtPosition {
	return DebtPosition{
		Asset:        d.Asset,
		StableDebt:   amountOrZero(d.StableDebt),
		VariableDebt: amountOrZero(d.VariableDebt),
	}
}

type debtLeg struct {
	mode   types.RateMode
	amount *uint256.Int
}

// CollateralPosition is an amount of collateral tokens to move from the source
// to the destination.
type CollateralPosition struct {
	UnderlyingAsset common.Address
	CollateralToken common.Address
	Amount          *uint256.Int
}

func (c CollateralPosition) clone() CollateralPosition {
	return CollateralPosition{
		UnderlyingAsset: c.UnderlyingAsset,
		CollateralToken: c.CollateralToken,
		Amount:          amountOrZero(c.Amount),
	}
}

// MigrationContext is the unit of work carried through the flash-loan
// callback.
type MigrationContext struct {
	Source      common.Address
	Destination common.Address
	Debts       []DebtPosition
	Collaterals []CollateralPosition
}

// FlashLoanRequest is index-aligned with the debt positions it was built from.
type FlashLoanRequest struct {
	Assets  []common.Address
	Amounts []*uint256.Int
	Modes   []types.RateMode
}

// Len returns the number of loan legs.
func (r FlashLoanRequest) Len() int { return len(r.Assets) }

// Leg summarises the re-borrow performed for one debt asset.
type Leg struct {
	Asset            common.Address
	Loaned           *uint256.Int
	Premium          *uint256.Int
	StableBorrowed   *uint256.Int
	VariableBorrowed *uint256.Int
	StableFee        *uint256.Int
	VariableFee      *uint256.Int
}

// Result describes a committed migration.
type Result struct {
	ID          string
	Source      common.Address
	Destination common.Address
	FeeRateBps  uint64
	Request     FlashLoanRequest
	Legs        []Leg
}

// TotalFees sums the platform fees charged across all legs per asset.
func (r *Result) TotalFees() map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(r.Legs))
	for _, leg := range r.Legs {
		total := new(uint256.Int).Add(amountOrZero(leg.StableFee), amountOrZero(leg.VariableFee))
		if prev, ok := out[leg.Asset]; ok {
			total.Add(total, prev)
		}
		out[leg.Asset] = total
	}
	return out
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
