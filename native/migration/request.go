package migration

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
)

// BuildRequest converts debt positions into an index-aligned flash-loan
// request. Each amount is the sum of both debt modes and every mode is
// RateModeNone so the loan must be repaid within the transaction.
func BuildRequest(debts []DebtPosition) (FlashLoanRequest, error) {
	req := FlashLoanRequest{
		Assets:  make([]common.Address, len(debts)),
		Amounts: make([]*uint256.Int, len(debts)),
		Modes:   make([]types.RateMode, len(debts)),
	}
	for i, debt := range debts {
		total, err := debt.Total()
		if err != nil {
			return FlashLoanRequest{}, fmt.Errorf("position %d: %w", i, err)
		}
		req.Assets[i] = debt.Asset
		req.Amounts[i] = total
		req.Modes[i] = types.RateModeNone
	}
	return req, nil
}
