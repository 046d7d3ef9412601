package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
)

const (
	// TypeTransfer is emitted for token balance movements.
	TypeTransfer = "token.transfer"
	// TypeApproval is emitted whenever an allowance is set.
	TypeApproval = "token.approval"
)

type Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"token":  formatAddress(e.Token),
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Approval struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	attrs := map[string]string{
		"token":   formatAddress(e.Token),
		"owner":   formatAddress(e.Owner),
		"spender": formatAddress(e.Spender),
		"amount":  formatAmount(e.Amount),
	}
	return &types.Event{Type: TypeApproval, Attributes: attrs}
}
