// Package api holds the JSON and YAML shapes shared by the migrated service
// and migratectl.
package api

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"lendmigrate/core/types"
	"lendmigrate/crypto"
	"lendmigrate/native/migration"
)

// ErrInvalidAmount is returned when an amount is not a base-10 or 0x integer
// that fits 256 bits.
var ErrInvalidAmount = errors.New("api: invalid amount")

// DebtEntry is one debt asset with its stable and variable balances in base
// units. Omitted balances are zero.
type DebtEntry struct {
	Asset    string `json:"asset" yaml:"asset"`
	Stable   string `json:"stable,omitempty" yaml:"stable,omitempty"`
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"`
}

// CollateralEntry is an amount of aTokens to move.
type CollateralEntry struct {
	Asset  string `json:"asset" yaml:"asset"`
	AToken string `json:"aToken" yaml:"aToken"`
	Amount string `json:"amount" yaml:"amount"`
}

// PositionDocument describes a migration request or an account snapshot.
type PositionDocument struct {
	Source      string            `json:"source" yaml:"source"`
	Destination string            `json:"destination,omitempty" yaml:"destination,omitempty"`
	Debts       []DebtEntry       `json:"debts" yaml:"debts"`
	Collaterals []CollateralEntry `json:"collaterals" yaml:"collaterals"`
}

// Context parses the document into a migration context.
func (d PositionDocument) Context() (migration.MigrationContext, error) {
	source, err := crypto.ParseAddress(d.Source)
	if err != nil {
		return migration.MigrationContext{}, fmt.Errorf("source: %w", err)
	}
	destination, err := crypto.ParseAddress(d.Destination)
	if err != nil {
		return migration.MigrationContext{}, fmt.Errorf("destination: %w", err)
	}
	out := migration.MigrationContext{Source: source, Destination: destination}
	for i, entry := range d.Debts {
		asset, err := crypto.ParseAddress(entry.Asset)
		if err != nil {
			return migration.MigrationContext{}, fmt.Errorf("debts[%d].asset: %w", i, err)
		}
		stable, err := ParseAmount(entry.Stable)
		if err != nil {
			return migration.MigrationContext{}, fmt.Errorf("debts[%d].stable: %w", i, err)
		}
		variable, err := ParseAmount(entry.Variable)
		if err != nil {
			return migration.MigrationContext{}, fmt.Errorf("debts[%d].variable: %w", i, err)
		}
		out.Debts = append(out.Debts, migration.DebtPosition{Asset: asset, StableDebt: stable, VariableDebt: variable})
	}
	for i, entry := range d.Collaterals {
		asset, err := crypto.ParseAddress(entry.Asset)
		if err != nil {
			return migration.MigrationContext{}, fmt.Errorf("collaterals[%d].asset: %w", i, err)
		}
		aToken, err := crypto.ParseAddress(entry.AToken)
		if err != nil {
			return migration.MigrationContext{}, fmt.Errorf("collaterals[%d].aToken: %w", i, err)
		}
		amount, err := ParseAmount(entry.Amount)
		if err != nil {
			return migration.MigrationContext{}, fmt.Errorf("collaterals[%d].amount: %w", i, err)
		}
		out.Collaterals = append(out.Collaterals, migration.CollateralPosition{UnderlyingAsset: asset, CollateralToken: aToken, Amount: amount})
	}
	return out, nil
}

// DocumentFromPosition renders an account position.
func DocumentFromPosition(account common.Address, debts []migration.DebtPosition, collaterals []migration.CollateralPosition) PositionDocument {
	doc := PositionDocument{
		Source:      account.Hex(),
		Debts:       make([]DebtEntry, 0, len(debts)),
		Collaterals: make([]CollateralEntry, 0, len(collaterals)),
	}
	for _, debt := range debts {
		doc.Debts = append(doc.Debts, DebtEntry{
			Asset:    debt.Asset.Hex(),
			Stable:   FormatAmount(debt.StableDebt),
			Variable: FormatAmount(debt.VariableDebt),
		})
	}
	for _, c := range collaterals {
		doc.Collaterals = append(doc.Collaterals, CollateralEntry{
			Asset:  c.UnderlyingAsset.Hex(),
			AToken: c.CollateralToken.Hex(),
			Amount: FormatAmount(c.Amount),
		})
	}
	return doc
}

// ParseAmount accepts base-10 or 0x-prefixed integers. Empty means zero.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 0)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	out, overflow := uint256.FromBig(parsed)
	if overflow {
		return nil, fmt.Errorf("%w: %q exceeds 256 bits", ErrInvalidAmount, raw)
	}
	return out, nil
}

// FormatAmount renders v in base 10; nil renders as "0".
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// LoanEntry is one leg of the flash loan request.
type LoanEntry struct {
	Asset  string `json:"asset" yaml:"asset"`
	Amount string `json:"amount" yaml:"amount"`
	Mode   uint8  `json:"mode" yaml:"mode"`
}

// LegEntry is the re-borrow, projected or executed, for one debt asset.
type LegEntry struct {
	Asset          string `json:"asset" yaml:"asset"`
	Loaned         string `json:"loaned" yaml:"loaned"`
	Premium        string `json:"premium" yaml:"premium"`
	StableBorrow   string `json:"stableBorrow" yaml:"stableBorrow"`
	VariableBorrow string `json:"variableBorrow" yaml:"variableBorrow"`
	StableFee      string `json:"stableFee" yaml:"stableFee"`
	VariableFee    string `json:"variableFee" yaml:"variableFee"`
}

// PlanResponse is returned by POST /v1/migrations/plan.
type PlanResponse struct {
	ID          string      `json:"id" yaml:"id"`
	Source      string      `json:"source" yaml:"source"`
	Destination string      `json:"destination" yaml:"destination"`
	FeeRateBps  uint64      `json:"feeRateBps" yaml:"feeRateBps"`
	PremiumBps  uint64      `json:"premiumBps" yaml:"premiumBps"`
	Loan        []LoanEntry `json:"loan" yaml:"loan"`
	Legs        []LegEntry  `json:"legs" yaml:"legs"`
	Params      string      `json:"params" yaml:"params"`
	Calldata    string      `json:"calldata,omitempty" yaml:"calldata,omitempty"`
}

// NewPlanResponse renders a plan. calldata may be nil when no migrator
// contract is configured.
func NewPlanResponse(id string, plan *migration.Plan, calldata []byte) PlanResponse {
	resp := PlanResponse{
		ID:          id,
		Source:      plan.Context.Source.Hex(),
		Destination: plan.Context.Destination.Hex(),
		FeeRateBps:  plan.FeeRateBps,
		PremiumBps:  plan.PremiumBps,
		Loan:        loanEntries(plan.Request),
		Legs:        make([]LegEntry, 0, len(plan.Legs)),
		Params:      hexutil.Encode(plan.Params),
	}
	for _, leg := range plan.Legs {
		resp.Legs = append(resp.Legs, LegEntry{
			Asset:          leg.Asset.Hex(),
			Loaned:         FormatAmount(leg.Loaned),
			Premium:        FormatAmount(leg.Premium),
			StableBorrow:   FormatAmount(leg.StableBorrow),
			VariableBorrow: FormatAmount(leg.VariableBorrow),
			StableFee:      FormatAmount(leg.StableFee),
			VariableFee:    FormatAmount(leg.VariableFee),
		})
	}
	if len(calldata) > 0 {
		resp.Calldata = hexutil.Encode(calldata)
	}
	return resp
}

// SimulationResponse is returned by POST /v1/migrations/simulate.
type SimulationResponse struct {
	ID          string            `json:"id" yaml:"id"`
	Source      PositionDocument  `json:"source" yaml:"source"`
	Destination PositionDocument  `json:"destination" yaml:"destination"`
	FeeRateBps  uint64            `json:"feeRateBps" yaml:"feeRateBps"`
	Loan        []LoanEntry       `json:"loan" yaml:"loan"`
	Legs        []LegEntry        `json:"legs" yaml:"legs"`
	Fees        map[string]string `json:"fees" yaml:"fees"`
	Events      []*types.Event    `json:"events" yaml:"events"`
}

// NewSimulationResponse renders an executed sandbox migration.
func NewSimulationResponse(result *migration.Result, source, destination PositionDocument, committed []*types.Event) SimulationResponse {
	resp := SimulationResponse{
		ID:          result.ID,
		Source:      source,
		Destination: destination,
		FeeRateBps:  result.FeeRateBps,
		Loan:        loanEntries(result.Request),
		Legs:        make([]LegEntry, 0, len(result.Legs)),
		Fees:        make(map[string]string),
		Events:      committed,
	}
	for _, leg := range result.Legs {
		resp.Legs = append(resp.Legs, LegEntry{
			Asset:          leg.Asset.Hex(),
			Loaned:         FormatAmount(leg.Loaned),
			Premium:        FormatAmount(leg.Premium),
			StableBorrow:   FormatAmount(leg.StableBorrowed),
			VariableBorrow: FormatAmount(leg.VariableBorrowed),
			StableFee:      FormatAmount(leg.StableFee),
			VariableFee:    FormatAmount(leg.VariableFee),
		})
	}
	for asset, fee := range result.TotalFees() {
		resp.Fees[asset.Hex()] = FormatAmount(fee)
	}
	return resp
}

func loanEntries(req migration.FlashLoanRequest) []LoanEntry {
	out := make([]LoanEntry, 0, req.Len())
	for i := range req.Assets {
		out = append(out, LoanEntry{
			Asset:  req.Assets[i].Hex(),
			Amount: FormatAmount(req.Amounts[i]),
			Mode:   uint8(req.Modes[i]),
		})
	}
	return out
}

// FeeResponse is returned by GET and PUT /v1/fee.
type FeeResponse struct {
	RateBps    uint64 `json:"rateBps" yaml:"rateBps"`
	MaxRateBps uint64 `json:"maxRateBps" yaml:"maxRateBps"`
	Owner      string `json:"owner" yaml:"owner"`
}

// FeeUpdateRequest is the PUT /v1/fee body. The acting account is the token
// subject; Caller is optional and must match it when set.
type FeeUpdateRequest struct {
	RateBps uint64 `json:"rateBps"`
	Caller  string `json:"caller,omitempty"`
}

// AuditRecord is returned by GET /v1/migrations/{id}.
type AuditRecord struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Outcome     string `json:"outcome"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	FeeRateBps  uint64 `json:"feeRateBps"`
	Error       string `json:"error,omitempty"`
	Payload     string `json:"payload,omitempty"`
	Digest      string `json:"digest"`
	Verified    bool   `json:"verified"`
	CreatedAt   string `json:"createdAt"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
