package server

import (
	"encoding/json"
	"errors"
	"net/http"

	coreerrors "lendmigrate/core/errors"
	"lendmigrate/crypto"
	"lendmigrate/native/bank"
	nativecommon "lendmigrate/native/common"
	"lendmigrate/native/lending"
	"lendmigrate/native/migration"
	"lendmigrate/services/migrated/api"
	"lendmigrate/services/migrated/storage"
)

type errorClass struct {
	status int
	code   string
	errs   []error
}

var errorClasses = []errorClass{
	{http.StatusBadRequest, "invalid_request", []error{
		errBadRequest,
		api.ErrInvalidAmount,
		crypto.ErrInvalidAddress,
		migration.ErrInvalidRecipient,
		migration.ErrDuplicateAsset,
		migration.ErrInvalidAsset,
		migration.ErrNothingToMigrate,
		migration.ErrTooManyPositions,
		migration.ErrFeeRateTooHigh,
		migration.ErrArithmeticOverflow,
	}},
	{http.StatusUnauthorized, "unauthenticated", []error{errUnauthenticated}},
	{http.StatusForbidden, "forbidden", []error{migration.ErrUnauthorized}},
	{http.StatusNotFound, "not_found", []error{storage.ErrNotFound}},
	{http.StatusConflict, "busy", []error{migration.ErrReentrant}},
	{http.StatusServiceUnavailable, "paused", []error{nativecommon.ErrModulePaused}},
	{http.StatusUnprocessableEntity, "migration_reverted", []error{
		migration.ErrPositionMismatch,
		coreerrors.ErrLiquidityShortfall,
		coreerrors.ErrInvalidFlashLoanReturn,
		lending.ErrInsufficientCollateral,
		lending.ErrInsufficientDelegation,
		lending.ErrInsufficientLiquidity,
		lending.ErrNoDebt,
		lending.ErrUnknownReserve,
		bank.ErrInsufficientBalance,
		bank.ErrInsufficientAllowance,
	}},
}

var (
	errBadRequest      = errors.New("malformed request")
	errUnauthenticated = errors.New("fee changes require an authenticated subject")
)

// classify maps err onto an HTTP status and a stable error code.
func classify(err error) (int, string) {
	for _, class := range errorClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, class.code
			}
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", r.URL.Path, "error", err)
		message = http.StatusText(status)
	}
	writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}
