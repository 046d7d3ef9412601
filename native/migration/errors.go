package migration

import (
	"errors"

	coreerrors "lendmigrate/core/errors"
	nativecommon "lendmigrate/native/common"
)

var (
	ErrInvalidRecipient    = errors.New("migration: destination must be a non-zero account other than the caller")
	ErrDecodeFailure       = errors.New("migration: malformed position blob")
	ErrArithmeticOverflow  = errors.New("migration: arithmetic overflow")
	ErrUntrustedCaller     = errors.New("migration: callback not invoked by the lending pool")
	ErrUnexpectedCallback  = errors.New("migration: no migration awaiting a callback")
	ErrUnauthorized        = errors.New("migration: caller is not the owner")
	ErrFeeRateTooHigh      = errors.New("migration: fee rate exceeds maximum")
	ErrDuplicateAsset      = errors.New("migration: debt asset listed more than once")
	ErrInvalidAsset        = errors.New("migration: asset address required")
	ErrNothingToMigrate    = errors.New("migration: no outstanding debt to migrate")
	ErrTooManyPositions    = errors.New("migration: too many positions")
	ErrLengthMismatch      = errors.New("migration: callback arrays differ in length")
	ErrPositionMismatch    = errors.New("migration: stated debt exceeds the source's outstanding debt")
	ErrNotConfigured       = errors.New("migration: engine not configured")
	ErrFeeRecipientMissing = errors.New("migration: fee recipient not configured")

	// ErrLiquidityShortfall is raised by the lending pool when the flash loan
	// cannot be settled for principal plus premium.
	ErrLiquidityShortfall = coreerrors.ErrLiquidityShortfall
	// ErrReentrant is returned when a migration is started while another one
	// is still in flight.
	ErrReentrant = nativecommon.ErrReentrant
)
