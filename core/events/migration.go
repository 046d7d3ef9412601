package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
)

const (
	TypeMigrationStarted         = "migration.started"
	TypeMigrationDebtRepaid      = "migration.debt_repaid"
	TypeMigrationCollateralMoved = "migration.collateral_moved"
	TypeMigrationDebtOpened      = "migration.debt_opened"
	TypeMigrationFeeCharged      = "migration.fee_charged"
	TypeMigrationCompleted       = "migration.completed"
	// TypeMigrationFeeChanged marks an administrative platform fee update.
	TypeMigrationFeeChanged = "migration.fee_changed"
)

// MigrationStarted is emitted once the position blob has been decoded inside
// the flash-loan callback.
type MigrationStarted struct {
	ID          string
	Source      common.Address
	Destination common.Address
	Debts       int
	Collaterals int
}

func (MigrationStarted) EventType() string { return TypeMigrationStarted }

func (e MigrationStarted) Event() *types.Event {
	return &types.Event{Type: TypeMigrationStarted, Attributes: map[string]string{
		"id":          e.ID,
		"source":      formatAddress(e.Source),
		"destination": formatAddress(e.Destination),
		"debts":       strconv.Itoa(e.Debts),
		"collaterals": strconv.Itoa(e.Collaterals),
	}}
}

type MigrationDebtRepaid struct {
	ID     string
	Asset  common.Address
	Mode   uint8
	Amount *uint256.Int
}

func (MigrationDebtRepaid) EventType() string { return TypeMigrationDebtRepaid }

func (e MigrationDebtRepaid) Event() *types.Event {
	return &types.Event{Type: TypeMigrationDebtRepaid, Attributes: map[string]string{
		"id":     e.ID,
		"asset":  formatAddress(e.Asset),
		"mode":   strconv.Itoa(int(e.Mode)),
		"amount": formatAmount(e.Amount),
	}}
}

type MigrationCollateralMoved struct {
	ID     string
	Token  common.Address
	Amount *uint256.Int
}

func (MigrationCollateralMoved) EventType() string { return TypeMigrationCollateralMoved }

func (e MigrationCollateralMoved) Event() *types.Event {
	return &types.Event{Type: TypeMigrationCollateralMoved, Attributes: map[string]string{
		"id":     e.ID,
		"token":  formatAddress(e.Token),
		"amount": formatAmount(e.Amount),
	}}
}

// MigrationDebtOpened captures a re-borrow under the destination. Amount is
// the total borrowed including Premium and Fee.
type MigrationDebtOpened struct {
	ID      string
	Asset   common.Address
	Mode    uint8
	Amount  *uint256.Int
	Premium *uint256.Int
	Fee     *uint256.Int
}

func (MigrationDebtOpened) EventType() string { return TypeMigrationDebtOpened }

func (e MigrationDebtOpened) Event() *types.Event {
	return &types.Event{Type: TypeMigrationDebtOpened, Attributes: map[string]string{
		"id":      e.ID,
		"asset":   formatAddress(e.Asset),
		"mode":    strconv.Itoa(int(e.Mode)),
		"amount":  formatAmount(e.Amount),
		"premium": formatAmount(e.Premium),
		"fee":     formatAmount(e.Fee),
	}}
}

type MigrationFeeCharged struct {
	ID        string
	Asset     common.Address
	Mode      uint8
	Fee       *uint256.Int
	Recipient common.Address
	RateBps   uint64
}

func (MigrationFeeCharged) EventType() string { return TypeMigrationFeeCharged }

func (e MigrationFeeCharged) Event() *types.Event {
	return &types.Event{Type: TypeMigrationFeeCharged, Attributes: map[string]string{
		"id":        e.ID,
		"asset":     formatAddress(e.Asset),
		"mode":      strconv.Itoa(int(e.Mode)),
		"fee":       formatAmount(e.Fee),
		"recipient": formatAddress(e.Recipient),
		"rateBps":   strconv.FormatUint(e.RateBps, 10),
	}}
}

type MigrationCompleted struct {
	ID          string
	Source      common.Address
	Destination common.Address
}

func (MigrationCompleted) EventType() string { return TypeMigrationCompleted }

func (e MigrationCompleted) Event() *types.Event {
	return &types.Event{Type: TypeMigrationCompleted, Attributes: map[string]string{
		"id":          e.ID,
		"source":      formatAddress(e.Source),
		"destination": formatAddress(e.Destination),
	}}
}

type MigrationFeeChanged struct {
	Actor    common.Address
	Previous uint64
	Next     uint64
}

func (MigrationFeeChanged) EventType() string { return TypeMigrationFeeChanged }

func (e MigrationFeeChanged) Event() *types.Event {
	return &types.Event{Type: TypeMigrationFeeChanged, Attributes: map[string]string{
		"actor":       formatAddress(e.Actor),
		"previousBps": strconv.FormatUint(e.Previous, 10),
		"nextBps":     strconv.FormatUint(e.Next, 10),
	}}
}
