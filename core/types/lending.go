package types

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RateMode selects the interest-rate mode of a debt position.
type RateMode uint8

const (
	// RateModeNone marks a flash-loan leg that must be repaid in full before
	// the loan returns.
	RateModeNone     RateMode = 0
	RateModeStable   RateMode = 1
	RateModeVariable RateMode = 2
)

func (m RateMode) String() string {
	switch m {
	case RateModeNone:
		return "none"
	case RateModeStable:
		return "stable"
	case RateModeVariable:
		return "variable"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Valid reports whether m is a known mode.
func (m RateMode) Valid() bool { return m <= RateModeVariable }

// IsDebt reports whether m opens a debt position.
func (m RateMode) IsDebt() bool { return m == RateModeStable || m == RateModeVariable }

// FlashLoanCall is the payload delivered to a flash-loan receiver. Caller is
// the pool invoking the callback and Initiator the account that requested the
// loan.
type FlashLoanCall struct {
	Caller    common.Address
	Initiator common.Address
	Assets    []common.Address
	Amounts   []*uint256.Int
	Premiums  []*uint256.Int
	Params    []byte
}

// FlashLoanReceiver is invoked synchronously by a lending pool after the loan
// has been granted.
type FlashLoanReceiver interface {
	Address() common.Address
	ExecuteOperation(ctx context.Context, call FlashLoanCall) (bool, error)
}
