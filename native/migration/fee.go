package migration

import (
	"fmt"

	"github.com/holiman/uint256"

	"lendmigrate/core/types"
)

// MaxFeeBps is the largest fee rate accepted: 100% of the migrated amount.
const MaxFeeBps uint64 = 10_000

var basisPoints = uint256.NewInt(10_000)

// CalculateFee returns floor(amount * rateBps / 10000). A zero rate returns
// zero without dividing. The product is formed in 512 bits so every uint256
// amount is exact; only a quotient that does not fit 256 bits fails.
func CalculateFee(amount *uint256.Int, rateBps uint64) (*uint256.Int, error) {
	if rateBps == 0 || amount == nil || amount.IsZero() {
		return new(uint256.Int), nil
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(rateBps), basisPoints)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return fee, nil
}

// modeBorrow is what one non-zero debt mode re-opens under the destination:
// its principal, the share of the flash-loan premium it carries and its fee.
type modeBorrow struct {
	mode    types.RateMode
	amount  *uint256.Int
	premium *uint256.Int
	fee     *uint256.Int
	borrow  *uint256.Int
}

// borrowSchedule spreads one asset's re-borrow over its non-zero modes, stable
// first. The first mode carries the asset's whole premium; every mode adds a
// fee of rateBps on its own principal.
func borrowSchedule(debt DebtPosition, premium *uint256.Int, rateBps uint64) ([]modeBorrow, error) {
	legs := debt.legs()
	out := make([]modeBorrow, 0, len(legs))
	for i, leg := range legs {
		fee, err := CalculateFee(leg.amount, rateBps)
		if err != nil {
			return nil, err
		}
		legPremium := new(uint256.Int)
		if i == 0 {
			legPremium = amountOrZero(premium)
		}
		borrow, overflow := new(uint256.Int).AddOverflow(leg.amount, legPremium)
		if !overflow {
			borrow, overflow = borrow.AddOverflow(borrow, fee)
		}
		if overflow {
			return nil, fmt.Errorf("%w: borrow of %s", ErrArithmeticOverflow, debt.Asset.Hex())
		}
		out = append(out, modeBorrow{mode: leg.mode, amount: leg.amount, premium: legPremium, fee: fee, borrow: borrow})
	}
	return out, nil
}
