package migration

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendmigrate/core/events"
	"lendmigrate/core/types"
	"lendmigrate/observability/metrics"
)

// ExecuteOperation is the flash-loan callback. It repays the source's debt
// with the borrowed funds, moves the collateral, re-opens the debt under the
// destination and approves the pool to pull back principal plus premium.
// It only runs for the pool and only once per TransferAccount.
func (e *Engine) ExecuteOperation(ctx context.Context, call types.FlashLoanCall) (bool, error) {
	if e == nil || e.pool == nil || e.ledger == nil {
		return false, ErrNotConfigured
	}
	if call.Caller != e.pool.Address() {
		return false, ErrUntrustedCaller
	}
	flight, err := e.claimFlight(call)
	if err != nil {
		return false, err
	}

	ctx, span := e.tracer.Start(ctx, "migration.execute_operation", trace.WithAttributes(
		attribute.String("migration.id", flight.id),
		attribute.Int("migration.assets", len(call.Assets)),
	))
	defer span.End()

	result, err := e.execute(ctx, flight, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	flight.result = result
	return true, nil
}

func (e *Engine) claimFlight(call types.FlashLoanCall) (*inflight, error) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	if e.flight == nil || e.flight.executed {
		return nil, ErrUnexpectedCallback
	}
	if call.Initiator != e.address {
		return nil, fmt.Errorf("%w: initiator %s", ErrUnexpectedCallback, call.Initiator.Hex())
	}
	if len(call.Amounts) != len(call.Assets) || len(call.Premiums) != len(call.Assets) {
		return nil, fmt.Errorf("%w: %d assets, %d amounts, %d premiums",
			ErrLengthMismatch, len(call.Assets), len(call.Amounts), len(call.Premiums))
	}
	e.flight.executed = true
	return e.flight, nil
}

func (e *Engine) execute(ctx context.Context, flight *inflight, call types.FlashLoanCall) (*Result, error) {
	mctx, err := DecodeContext(call.Params)
	if err != nil {
		return nil, err
	}
	if err := checkAlignment(mctx, call); err != nil {
		return nil, err
	}
	if mctx.Source != flight.source {
		return nil, fmt.Errorf("%w: source %s does not match caller", ErrDecodeFailure, mctx.Source.Hex())
	}

	var rate uint64
	recipient := e.address
	if e.fees != nil {
		rate = e.fees.FeeRate()
		recipient = e.fees.Owner()
	}
	if rate > 0 && recipient == (common.Address{}) {
		return nil, ErrFeeRecipientMissing
	}

	e.emitter.Emit(events.MigrationStarted{
		ID:          flight.id,
		Source:      mctx.Source,
		Destination: mctx.Destination,
		Debts:       len(mctx.Debts),
		Collaterals: len(mctx.Collaterals),
	})

	if err := e.repayDebts(ctx, flight.id, mctx); err != nil {
		return nil, err
	}
	if err := e.moveCollateral(ctx, flight.id, mctx); err != nil {
		return nil, err
	}
	legs, err := e.reborrow(ctx, flight.id, mctx, call, rate, recipient)
	if err != nil {
		return nil, err
	}
	if err := e.approveSettlement(ctx, call); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.MigrationCompleted{ID: flight.id, Source: mctx.Source, Destination: mctx.Destination})
	return &Result{
		ID:          flight.id,
		Source:      mctx.Source,
		Destination: mctx.Destination,
		FeeRateBps:  rate,
		Legs:        legs,
	}, nil
}

// checkAlignment requires the decoded debts to match the loaned legs one for
// one.
func checkAlignment(mctx MigrationContext, call types.FlashLoanCall) error {
	if len(mctx.Debts) != len(call.Assets) {
		return fmt.Errorf("%w: %d debts for %d loaned assets", ErrDecodeFailure, len(mctx.Debts), len(call.Assets))
	}
	for i, debt := range mctx.Debts {
		if debt.Asset != call.Assets[i] {
			return fmt.Errorf("%w: debt %d is %s, loan leg is %s", ErrDecodeFailure, i, debt.Asset.Hex(), call.Assets[i].Hex())
		}
		if debt.IsEmpty() {
			return fmt.Errorf("%w: debt %d is empty", ErrDecodeFailure, i)
		}
		total, err := debt.Total()
		if err != nil {
			return err
		}
		if call.Amounts[i] == nil || !total.Eq(call.Amounts[i]) {
			return fmt.Errorf("%w: debt %d totals %s, loan leg is %s", ErrDecodeFailure, i, total.Dec(), amountOrZero(call.Amounts[i]).Dec())
		}
	}
	return nil
}

// repayDebts clears each non-zero debt mode of the source with the loaned
// funds. Zero modes are skipped without approval or pool call.
func (e *Engine) repayDebts(ctx context.Context, id string, mctx MigrationContext) error {
	poolAddr := e.pool.Address()
	for _, debt := range mctx.Debts {
		for _, leg := range debt.legs() {
			if err := e.ledger.Approve(ctx, debt.Asset, e.address, poolAddr, leg.amount); err != nil {
				return fmt.Errorf("approve repay of %s %s: %w", leg.mode, debt.Asset.Hex(), err)
			}
			repaid, err := e.pool.Repay(ctx, e.address, debt.Asset, leg.amount, leg.mode, mctx.Source)
			if err != nil {
				return fmt.Errorf("repay %s %s: %w", leg.mode, debt.Asset.Hex(), err)
			}
			if repaid == nil || !repaid.Eq(leg.amount) {
				return fmt.Errorf("%w: %s %s stated %s, repaid %s",
					ErrPositionMismatch, leg.mode, debt.Asset.Hex(), leg.amount.Dec(), amountOrZero(repaid).Dec())
			}
			metrics.Migration().ObserveLeg("repay", leg.mode.String())
			e.logger.Debug("debt repaid", "migration_id", id, "asset", debt.Asset.Hex(), "mode", leg.mode.String(), "amount", leg.amount.Dec())
			e.emitter.Emit(events.MigrationDebtRepaid{ID: id, Asset: debt.Asset, Mode: uint8(leg.mode), Amount: leg.amount.Clone()})
		}
	}
	return nil
}

// moveCollateral pulls each collateral token from the source to the
// destination using the allowance the source granted the engine.
func (e *Engine) moveCollateral(ctx context.Context, id string, mctx MigrationContext) error {
	for _, collateral := range mctx.Collaterals {
		amount := amountOrZero(collateral.Amount)
		if amount.IsZero() {
			continue
		}
		if err := e.ledger.TransferFrom(ctx, collateral.CollateralToken, e.address, mctx.Source, mctx.Destination, amount); err != nil {
			return fmt.Errorf("transfer collateral %s: %w", collateral.CollateralToken.Hex(), err)
		}
		e.emitter.Emit(events.MigrationCollateralMoved{ID: id, Token: collateral.CollateralToken, Amount: amount})
	}
	return nil
}

// reborrow opens the migrated debt under the destination. The first non-zero
// mode of each asset carries that asset's whole premium. With a platform fee
// configured, each mode also borrows its fee, which is forwarded to recipient.
func (e *Engine) reborrow(ctx context.Context, id string, mctx MigrationContext, call types.FlashLoanCall, rate uint64, recipient common.Address) ([]Leg, error) {
	legs := make([]Leg, 0, len(mctx.Debts))
	for i, debt := range mctx.Debts {
		premium := amountOrZero(call.Premiums[i])
		summary := Leg{
			Asset:            debt.Asset,
			Loaned:           amountOrZero(call.Amounts[i]),
			Premium:          premium.Clone(),
			StableBorrowed:   new(uint256.Int),
			VariableBorrowed: new(uint256.Int),
			StableFee:        new(uint256.Int),
			VariableFee:      new(uint256.Int),
		}
		schedule, err := borrowSchedule(debt, premium, rate)
		if err != nil {
			return nil, err
		}
		for _, leg := range schedule {
			borrow, fee := leg.borrow, leg.fee
			if err := e.pool.Borrow(ctx, e.address, debt.Asset, borrow, leg.mode, e.referral, mctx.Destination); err != nil {
				return nil, fmt.Errorf("borrow %s %s: %w", leg.mode, debt.Asset.Hex(), err)
			}
			metrics.Migration().ObserveLeg("borrow", leg.mode.String())
			if !fee.IsZero() {
				if err := e.ledger.Transfer(ctx, debt.Asset, e.address, recipient, fee); err != nil {
					return nil, fmt.Errorf("forward fee %s: %w", debt.Asset.Hex(), err)
				}
				metrics.Migration().ObserveFee(debt.Asset.Hex(), approxFloat(fee))
				e.emitter.Emit(events.MigrationFeeCharged{
					ID:        id,
					Asset:     debt.Asset,
					Mode:      uint8(leg.mode),
					Fee:       fee.Clone(),
					Recipient: recipient,
					RateBps:   rate,
				})
			}
			e.emitter.Emit(events.MigrationDebtOpened{
				ID:      id,
				Asset:   debt.Asset,
				Mode:    uint8(leg.mode),
				Amount:  borrow.Clone(),
				Premium: leg.premium,
				Fee:     fee.Clone(),
			})

			if leg.mode == types.RateModeStable {
				summary.StableBorrowed, summary.StableFee = borrow, fee
			} else {
				summary.VariableBorrowed, summary.VariableFee = borrow, fee
			}
		}
		legs = append(legs, summary)
	}
	return legs, nil
}

// approveSettlement lets the pool pull amount plus premium for every leg.
func (e *Engine) approveSettlement(ctx context.Context, call types.FlashLoanCall) error {
	poolAddr := e.pool.Address()
	for i, asset := range call.Assets {
		owed, overflow := new(uint256.Int).AddOverflow(amountOrZero(call.Amounts[i]), amountOrZero(call.Premiums[i]))
		if overflow {
			return fmt.Errorf("%w: settlement of %s", ErrArithmeticOverflow, asset.Hex())
		}
		if err := e.ledger.Approve(ctx, asset, e.address, poolAddr, owed); err != nil {
			return fmt.Errorf("approve settlement of %s: %w", asset.Hex(), err)
		}
	}
	return nil
}

func approxFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
