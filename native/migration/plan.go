package migration

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
)

// PlanLeg projects the re-borrow for one debt asset before execution.
type PlanLeg struct {
	Asset          common.Address
	Loaned         *uint256.Int
	Premium        *uint256.Int
	StableBorrow   *uint256.Int
	VariableBorrow *uint256.Int
	StableFee      *uint256.Int
	VariableFee    *uint256.Int
}

// Plan is a dry run of TransferAccount: the normalised context, the flash
// loan it would request, the encoded callback params and the debt the
// destination would end up with.
type Plan struct {
	Context    MigrationContext
	Request    FlashLoanRequest
	Params     []byte
	FeeRateBps uint64
	PremiumBps uint64
	Legs       []PlanLeg
}

// NewPlan computes the migration outcome for mctx at the supplied fee and
// flash-loan premium rates without touching any state.
func NewPlan(mctx MigrationContext, maxPositions int, feeRateBps, premiumBps uint64) (*Plan, error) {
	if feeRateBps > MaxFeeBps {
		return nil, fmt.Errorf("%w: %d", ErrFeeRateTooHigh, feeRateBps)
	}
	normalized, err := Normalize(mctx.Source, mctx.Destination, mctx.Debts, mctx.Collaterals, maxPositions)
	if err != nil {
		return nil, err
	}
	params, err := EncodeContext(normalized)
	if err != nil {
		return nil, err
	}
	req, err := BuildRequest(normalized.Debts)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Context:    normalized,
		Request:    req,
		Params:     params,
		FeeRateBps: feeRateBps,
		PremiumBps: premiumBps,
		Legs:       make([]PlanLeg, 0, len(normalized.Debts)),
	}
	for i, debt := range normalized.Debts {
		premium, err := CalculateFee(req.Amounts[i], premiumBps)
		if err != nil {
			return nil, err
		}
		leg := PlanLeg{
			Asset:          debt.Asset,
			Loaned:         req.Amounts[i].Clone(),
			Premium:        premium,
			StableBorrow:   new(uint256.Int),
			VariableBorrow: new(uint256.Int),
			StableFee:      new(uint256.Int),
			VariableFee:    new(uint256.Int),
		}
		schedule, err := borrowSchedule(debt, premium, feeRateBps)
		if err != nil {
			return nil, err
		}
		for _, mb := range schedule {
			if mb.mode == types.RateModeStable {
				leg.StableBorrow, leg.StableFee = mb.borrow, mb.fee
			} else {
				leg.VariableBorrow, leg.VariableFee = mb.borrow, mb.fee
			}
		}
		plan.Legs = append(plan.Legs, leg)
	}
	return plan, nil
}
