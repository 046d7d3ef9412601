package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendmigrate/core/events"
	"lendmigrate/core/types"
	nativecommon "lendmigrate/native/common"
	"lendmigrate/observability/metrics"
)

// ModuleName is the key checked against the pause view.
const ModuleName = "migration"

// DefaultMaxPositions bounds each of the debt and collateral lists.
const DefaultMaxPositions = 16

// LendingPool is the subset of the lending protocol the engine drives.
type LendingPool interface {
	Address() common.Address
	Repay(ctx context.Context, caller, asset common.Address, amount *uint256.Int, mode types.RateMode, onBehalfOf common.Address) (*uint256.Int, error)
	Borrow(ctx context.Context, caller, asset common.Address, amount *uint256.Int, mode types.RateMode, referral uint16, onBehalfOf common.Address) error
	FlashLoan(ctx context.Context, initiator common.Address, receiver types.FlashLoanReceiver, assets []common.Address, amounts []*uint256.Int, modes []types.RateMode, onBehalfOf common.Address, params []byte, referral uint16) error
}

// TokenLedger moves fungible tokens. Approve replaces an allowance.
type TokenLedger interface {
	Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error
}

// FeeSource supplies the platform fee rate and its recipient.
type FeeSource interface {
	FeeRate() uint64
	Owner() common.Address
}

// Config carries the engine's static settings.
type Config struct {
	// Address is the engine's own account: it receives the flash loan, holds
	// approvals and signs every pool and ledger call.
	Address      common.Address
	MaxPositions int
	Referral     uint16
}

// inflight tracks the migration between TransferAccount and the callback.
type inflight struct {
	id       string
	source   common.Address
	executed bool
	result   *Result
}

// Engine moves a leveraged position from the caller to a destination account
// inside a single flash loan.
type Engine struct {
	address      common.Address
	maxPositions int
	referral     uint16

	pool    LendingPool
	ledger  TokenLedger
	fees    FeeSource
	pauses  nativecommon.PauseView
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer

	entry    nativecommon.EntryLock
	flightMu sync.Mutex
	flight   *inflight
}

var _ types.FlashLoanReceiver = (*Engine)(nil)

// NewEngine constructs an engine bound to pool and ledger.
func NewEngine(cfg Config, pool LendingPool, ledger TokenLedger, fees FeeSource) *Engine {
	maxPositions := cfg.MaxPositions
	if maxPositions <= 0 {
		maxPositions = DefaultMaxPositions
	}
	return &Engine{
		address:      cfg.Address,
		maxPositions: maxPositions,
		referral:     cfg.Referral,
		pool:         pool,
		ledger:       ledger,
		fees:         fees,
		emitter:      events.NoopEmitter{},
		logger:       slog.Default(),
		tracer:       otel.Tracer("lendmigrate/native/migration"),
	}
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the sink for migration events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// Address implements types.FlashLoanReceiver.
func (e *Engine) Address() common.Address {
	if e == nil {
		return common.Address{}
	}
	return e.address
}

// TransferAccount migrates the caller's debts and collaterals to destination.
// Validation happens before any external call; every state change happens in
// ExecuteOperation while the pool holds the flash loan open. The caller must
// run TransferAccount inside a host transaction so a failure reverts all
// effects.
func (e *Engine) TransferAccount(ctx context.Context, caller, destination common.Address, debts []DebtPosition, collaterals []CollateralPosition) (*Result, error) {
	if e == nil || e.pool == nil || e.ledger == nil {
		return nil, ErrNotConfigured
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if err := e.entry.Enter(); err != nil {
		return nil, err
	}
	defer e.entry.Exit()

	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "migration.transfer_account", trace.WithAttributes(
		attribute.String("migration.source", caller.Hex()),
		attribute.String("migration.destination", destination.Hex()),
	))
	defer span.End()

	result, err := e.transferAccount(ctx, caller, destination, debts, collaterals)
	// The host commits after TransferAccount returns, so success here means
	// executed; Sandbox.Migrate reports a later rollback as reverted.
	outcome := "executed"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("migration failed",
			"source", caller.Hex(),
			"destination", destination.Hex(),
			"error", err)
	} else {
		span.SetAttributes(attribute.String("migration.id", result.ID))
		e.logger.Info("migration executed",
			"migration_id", result.ID,
			"source", caller.Hex(),
			"destination", destination.Hex(),
			"assets", len(result.Legs),
			"fee_bps", result.FeeRateBps)
	}
	metrics.Migration().ObserveMigration(outcome, time.Since(started))
	return result, err
}

func (e *Engine) transferAccount(ctx context.Context, caller, destination common.Address, debts []DebtPosition, collaterals []CollateralPosition) (*Result, error) {
	mctx, err := e.prepare(caller, destination, debts, collaterals)
	if err != nil {
		return nil, err
	}
	blob, err := EncodeContext(mctx)
	if err != nil {
		return nil, err
	}
	req, err := BuildRequest(mctx.Debts)
	if err != nil {
		return nil, err
	}

	flight := &inflight{id: uuid.NewString(), source: caller}
	e.flightMu.Lock()
	e.flight = flight
	e.flightMu.Unlock()
	defer func() {
		e.flightMu.Lock()
		e.flight = nil
		e.flightMu.Unlock()
	}()

	e.logger.Debug("requesting flash loan",
		"migration_id", flight.id,
		"assets", req.Len(),
		"collaterals", len(mctx.Collaterals))
	if err := e.pool.FlashLoan(ctx, e.address, e, req.Assets, req.Amounts, req.Modes, e.address, blob, e.referral); err != nil {
		return nil, fmt.Errorf("migration %s: %w", flight.id, err)
	}
	if !flight.executed || flight.result == nil {
		return nil, fmt.Errorf("migration %s: %w", flight.id, ErrUnexpectedCallback)
	}
	flight.result.Request = req
	return flight.result, nil
}

func (e *Engine) prepare(caller, destination common.Address, debts []DebtPosition, collaterals []CollateralPosition) (MigrationContext, error) {
	return Normalize(caller, destination, debts, collaterals, e.maxPositions)
}

// Normalize validates a migration and returns its context. Debt positions with
// no debt in either mode and zero-amount collateral entries are dropped; the
// remaining order is preserved.
func Normalize(source, destination common.Address, debts []DebtPosition, collaterals []CollateralPosition, maxPositions int) (MigrationContext, error) {
	if maxPositions <= 0 {
		maxPositions = DefaultMaxPositions
	}
	if destination == (common.Address{}) || destination == source {
		return MigrationContext{}, ErrInvalidRecipient
	}
	if len(debts) > maxPositions || len(collaterals) > maxPositions {
		return MigrationContext{}, fmt.Errorf("%w: %d debts, %d collaterals, limit %d",
			ErrTooManyPositions, len(debts), len(collaterals), maxPositions)
	}

	out := MigrationContext{Source: source, Destination: destination}
	seen := make(map[common.Address]struct{}, len(debts))
	for i, debt := range debts {
		if debt.Asset == (common.Address{}) {
			return MigrationContext{}, fmt.Errorf("%w: debt %d", ErrInvalidAsset, i)
		}
		if _, dup := seen[debt.Asset]; dup {
			return MigrationContext{}, fmt.Errorf("%w: %s", ErrDuplicateAsset, debt.Asset.Hex())
		}
		seen[debt.Asset] = struct{}{}
		if debt.IsEmpty() {
			continue
		}
		out.Debts = append(out.Debts, debt.clone())
	}
	if len(out.Debts) == 0 {
		return MigrationContext{}, ErrNothingToMigrate
	}
	for i, collateral := range collaterals {
		if collateral.CollateralToken == (common.Address{}) {
			return MigrationContext{}, fmt.Errorf("%w: collateral %d", ErrInvalidAsset, i)
		}
		if collateral.Amount == nil || collateral.Amount.IsZero() {
			continue
		}
		out.Collaterals = append(out.Collaterals, collateral.clone())
	}
	return out, nil
}

// Pending reports the identifier of the migration currently in flight.
func (e *Engine) Pending() (string, bool) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	if e.flight == nil {
		return "", false
	}
	return e.flight.id, true
}
