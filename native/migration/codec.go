package migration

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ContextVersion tags the layout of an encoded MigrationContext.
const ContextVersion uint8 = 1

var contextArguments abi.Arguments

type wireDebt struct {
	Asset        common.Address
	StableDebt   *big.Int
	VariableDebt *big.Int
}

type wireCollateral struct {
	UnderlyingAsset common.Address
	CollateralToken common.Address
	Amount          *big.Int
}

type wireContext struct {
	Version     uint8
	Source      common.Address
	Destination common.Address
	Debts       []wireDebt
	Collaterals []wireCollateral
}

func init() {
	mustType := func(t string, components []abi.ArgumentMarshaling) abi.Type {
		typ, err := abi.NewType(t, "", components)
		if err != nil {
			panic(fmt.Sprintf("migration: build abi type %s: %v", t, err))
		}
		return typ
	}
	contextArguments = abi.Arguments{
		{Name: "version", Type: mustType("uint8", nil)},
		{Name: "source", Type: mustType("address", nil)},
		{Name: "destination", Type: mustType("address", nil)},
		{Name: "debts", Type: mustType("tuple[]", []abi.ArgumentMarshaling{
			{Name: "asset", Type: "address"},
			{Name: "stableDebt", Type: "uint256"},
			{Name: "variableDebt", Type: "uint256"},
		})},
		{Name: "collaterals", Type: mustType("tuple[]", []abi.ArgumentMarshaling{
			{Name: "underlyingAsset", Type: "address"},
			{Name: "collateralToken", Type: "address"},
			{Name: "amount", Type: "uint256"},
		})},
	}
}

// EncodeContext serialises ctx into the ABI layout
// (uint8 version, address source, address destination,
// (address,uint256,uint256)[] debts, (address,address,uint256)[] collaterals).
func EncodeContext(ctx MigrationContext) ([]byte, error) {
	debts := make([]wireDebt, len(ctx.Debts))
	for i, d := range ctx.Debts {
		debts[i] = wireDebt{
			Asset:        d.Asset,
			StableDebt:   amountOrZero(d.StableDebt).ToBig(),
			VariableDebt: amountOrZero(d.VariableDebt).ToBig(),
		}
	}
	collaterals := make([]wireCollateral, len(ctx.Collaterals))
	for i, c := range ctx.Collaterals {
		collaterals[i] = wireCollateral{
			UnderlyingAsset: c.UnderlyingAsset,
			CollateralToken: c.CollateralToken,
			Amount:          amountOrZero(c.Amount).ToBig(),
		}
	}
	blob, err := contextArguments.Pack(ContextVersion, ctx.Source, ctx.Destination, debts, collaterals)
	if err != nil {
		return nil, fmt.Errorf("migration: encode context: %w", err)
	}
	return blob, nil
}

// DecodeContext parses a blob produced by EncodeContext. Unknown versions,
// truncated input and non-canonical encodings fail with ErrDecodeFailure.
func DecodeContext(blob []byte) (MigrationContext, error) {
	values, err := contextArguments.Unpack(blob)
	if err != nil {
		return MigrationContext{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	var wire wireContext
	if err := contextArguments.Copy(&wire, values); err != nil {
		return MigrationContext{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if wire.Version != ContextVersion {
		return MigrationContext{}, fmt.Errorf("%w: unsupported version %d", ErrDecodeFailure, wire.Version)
	}

	ctx := MigrationContext{
		Source:      wire.Source,
		Destination: wire.Destination,
		Debts:       make([]DebtPosition, len(wire.Debts)),
		Collaterals: make([]CollateralPosition, len(wire.Collaterals)),
	}
	for i, d := range wire.Debts {
		stable, err := fromBig(d.StableDebt)
		if err != nil {
			return MigrationContext{}, err
		}
		variable, err := fromBig(d.VariableDebt)
		if err != nil {
			return MigrationContext{}, err
		}
		ctx.Debts[i] = DebtPosition{Asset: d.Asset, StableDebt: stable, VariableDebt: variable}
	}
	for i, c := range wire.Collaterals {
		amount, err := fromBig(c.Amount)
		if err != nil {
			return MigrationContext{}, err
		}
		ctx.Collaterals[i] = CollateralPosition{
			UnderlyingAsset: c.UnderlyingAsset,
			CollateralToken: c.CollateralToken,
			Amount:          amount,
		}
	}

	canonical, err := EncodeContext(ctx)
	if err != nil {
		return MigrationContext{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if !bytes.Equal(canonical, blob) {
		return MigrationContext{}, fmt.Errorf("%w: non-canonical encoding", ErrDecodeFailure)
	}
	return ctx, nil
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrDecodeFailure)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: amount exceeds 256 bits", ErrDecodeFailure)
	}
	return out, nil
}
