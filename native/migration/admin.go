package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendmigrate/core/events"
	"lendmigrate/observability/metrics"
)

// AdminConfig bounds the platform fee.
type AdminConfig struct {
	// DefaultRateBps applies when the store holds no record.
	DefaultRateBps uint64
	// MaxRateBps caps ChangeFee. Zero or values above MaxFeeBps fall back to
	// MaxFeeBps.
	MaxRateBps uint64
}

// Admin owns the platform fee rate and the owner that receives it.
type Admin struct {
	mu      sync.RWMutex
	owner   common.Address
	rateBps uint64
	maxBps  uint64
	store   FeeStore
	emitter events.Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewAdmin restores the fee rate from store, falling back to the configured
// default.
func NewAdmin(owner common.Address, store FeeStore, cfg AdminConfig) (*Admin, error) {
	if owner == (common.Address{}) {
		return nil, ErrFeeRecipientMissing
	}
	maxBps := cfg.MaxRateBps
	if maxBps == 0 || maxBps > MaxFeeBps {
		maxBps = MaxFeeBps
	}
	a := &Admin{
		owner:   owner,
		rateBps: cfg.DefaultRateBps,
		maxBps:  maxBps,
		store:   store,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	if store != nil {
		record, ok, err := store.LoadFee()
		if err != nil {
			return nil, err
		}
		if ok {
			a.rateBps = record.RateBps
		}
	}
	if a.rateBps > a.maxBps {
		return nil, fmt.Errorf("%w: %d > %d", ErrFeeRateTooHigh, a.rateBps, a.maxBps)
	}
	metrics.Migration().SetFeeRate(a.rateBps)
	return a, nil
}

// SetEmitter configures the sink for fee change events.
func (a *Admin) SetEmitter(emitter events.Emitter) {
	if a == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	a.emitter = emitter
}

func (a *Admin) SetLogger(logger *slog.Logger) {
	if a == nil || logger == nil {
		return
	}
	a.logger = logger
}

// Owner returns the account allowed to change the fee. It also receives every
// platform fee.
func (a *Admin) Owner() common.Address {
	if a == nil {
		return common.Address{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.owner
}

// FeeRate returns the current platform fee in basis points.
func (a *Admin) FeeRate() uint64 {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rateBps
}

// MaxFeeRate returns the upper bound accepted by ChangeFee.
func (a *Admin) MaxFeeRate() uint64 {
	if a == nil {
		return MaxFeeBps
	}
	return a.maxBps
}

// ChangeFee replaces the platform fee rate. Only the owner may call it and
// the new rate must not exceed MaxFeeRate.
func (a *Admin) ChangeFee(ctx context.Context, caller common.Address, rateBps uint64) error {
	if a == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	if caller != a.owner {
		a.mu.Unlock()
		return ErrUnauthorized
	}
	if rateBps > a.maxBps {
		a.mu.Unlock()
		return fmt.Errorf("%w: %d > %d", ErrFeeRateTooHigh, rateBps, a.maxBps)
	}
	previous := a.rateBps
	if a.store != nil {
		record := FeeRecord{RateBps: rateBps, UpdatedBy: caller, UpdatedAt: uint64(a.now().Unix())}
		if err := a.store.StoreFee(record); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	a.rateBps = rateBps
	a.mu.Unlock()

	metrics.Migration().SetFeeRate(rateBps)
	a.logger.Info("migration fee changed", "previous_bps", previous, "next_bps", rateBps, "actor", caller.Hex())
	a.emitter.Emit(events.MigrationFeeChanged{Actor: caller, Previous: previous, Next: rateBps})
	return nil
}
