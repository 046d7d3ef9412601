package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
)

const (
	TypeLendingDeposit   = "lending.deposit"
	TypeLendingRepay     = "lending.repay"
	TypeLendingBorrow    = "lending.borrow"
	TypeLendingFlashLoan = "lending.flash_loan"
)

// LendingDeposit records collateral supplied to a reserve.
type LendingDeposit struct {
	Asset      common.Address
	Supplier   common.Address
	OnBehalfOf common.Address
	Amount     *uint256.Int
}

func (LendingDeposit) EventType() string { return TypeLendingDeposit }

func (e LendingDeposit) Event() *types.Event {
	return &types.Event{Type: TypeLendingDeposit, Attributes: map[string]string{
		"asset":      formatAddress(e.Asset),
		"supplier":   formatAddress(e.Supplier),
		"onBehalfOf": formatAddress(e.OnBehalfOf),
		"amount":     formatAmount(e.Amount),
	}}
}

// LendingRepay records debt repaid by Payer for OnBehalfOf.
type LendingRepay struct {
	Asset      common.Address
	Payer      common.Address
	OnBehalfOf common.Address
	Mode       uint8
	Amount     *uint256.Int
}

func (LendingRepay) EventType() string { return TypeLendingRepay }

func (e LendingRepay) Event() *types.Event {
	return &types.Event{Type: TypeLendingRepay, Attributes: map[string]string{
		"asset":      formatAddress(e.Asset),
		"payer":      formatAddress(e.Payer),
		"onBehalfOf": formatAddress(e.OnBehalfOf),
		"mode":       strconv.Itoa(int(e.Mode)),
		"amount":     formatAmount(e.Amount),
	}}
}

// LendingBorrow records debt opened for OnBehalfOf with funds paid to Caller.
type LendingBorrow struct {
	Asset      common.Address
	Caller     common.Address
	OnBehalfOf common.Address
	Mode       uint8
	Amount     *uint256.Int
	Referral   uint16
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Event() *types.Event {
	attrs := map[string]string{
		"asset":      formatAddress(e.Asset),
		"caller":     formatAddress(e.Caller),
		"onBehalfOf": formatAddress(e.OnBehalfOf),
		"mode":       strconv.Itoa(int(e.Mode)),
		"amount":     formatAmount(e.Amount),
	}
	if e.Referral != 0 {
		attrs["referral"] = strconv.FormatUint(uint64(e.Referral), 10)
	}
	return &types.Event{Type: TypeLendingBorrow, Attributes: attrs}
}

// LendingFlashLoan records a single asset leg of a flash loan.
type LendingFlashLoan struct {
	Receiver  common.Address
	Initiator common.Address
	Asset     common.Address
	Amount    *uint256.Int
	Premium   *uint256.Int
	Mode      uint8
	Referral  uint16
}

func (LendingFlashLoan) EventType() string { return TypeLendingFlashLoan }

func (e LendingFlashLoan) Event() *types.Event {
	attrs := map[string]string{
		"receiver":  formatAddress(e.Receiver),
		"initiator": formatAddress(e.Initiator),
		"asset":     formatAddress(e.Asset),
		"amount":    formatAmount(e.Amount),
		"premium":   formatAmount(e.Premium),
		"mode":      strconv.Itoa(int(e.Mode)),
	}
	if e.Referral != 0 {
		attrs["referral"] = strconv.FormatUint(uint64(e.Referral), 10)
	}
	return &types.Event{Type: TypeLendingFlashLoan, Attributes: attrs}
}
