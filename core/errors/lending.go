package errors

import stderrors "errors"

var (
	// ErrLiquidityShortfall is raised when a flash loan cannot be settled for
	// principal plus premium.
	ErrLiquidityShortfall = stderrors.New("flash loan: liquidity shortfall")
	// ErrInvalidFlashLoanReturn is raised when the receiver reports failure.
	ErrInvalidFlashLoanReturn = stderrors.New("flash loan: receiver returned false")
)
