package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"lendmigrate/native/migration"
)

// Snapshot is a user's open position on every listed reserve.
type Snapshot struct {
	User        common.Address
	Block       *big.Int
	Debts       []migration.DebtPosition
	Collaterals []migration.CollateralPosition
}

// SnapshotReader reads positions from an Aave v2 protocol data provider.
type SnapshotReader struct {
	caller    ethereum.ContractCaller
	provider  common.Address
	contracts *Contracts
	logger    *slog.Logger
}

// NewSnapshotReader wraps caller, typically an *ethclient.Client.
func NewSnapshotReader(caller ethereum.ContractCaller, provider common.Address, logger *slog.Logger) (*SnapshotReader, error) {
	contracts, err := LoadContracts()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotReader{caller: caller, provider: provider, contracts: contracts, logger: logger}, nil
}

type reserveToken struct {
	Symbol       string
	TokenAddress common.Address
}

// Read returns user's debts and collaterals at block (nil for latest). When
// assets is empty every reserve the provider lists is inspected. Reserves on
// which the user holds nothing are omitted.
func (r *SnapshotReader) Read(ctx context.Context, user common.Address, assets []common.Address, block *big.Int) (*Snapshot, error) {
	if len(assets) == 0 {
		listed, err := r.reserves(ctx, block)
		if err != nil {
			return nil, err
		}
		assets = listed
	}
	out := &Snapshot{User: user, Block: block}
	for _, asset := range assets {
		values, err := r.call(ctx, &r.contracts.DataProvider, "getUserReserveData", block, asset, user)
		if err != nil {
			return nil, err
		}
		aTokenBalance, err := fromBig(abi.ConvertType(values[0], new(big.Int)).(*big.Int))
		if err != nil {
			return nil, err
		}
		stable, err := fromBig(abi.ConvertType(values[1], new(big.Int)).(*big.Int))
		if err != nil {
			return nil, err
		}
		variable, err := fromBig(abi.ConvertType(values[2], new(big.Int)).(*big.Int))
		if err != nil {
			return nil, err
		}
		if !stable.IsZero() || !variable.IsZero() {
			out.Debts = append(out.Debts, migration.DebtPosition{Asset: asset, StableDebt: stable, VariableDebt: variable})
		}
		if aTokenBalance.IsZero() {
			continue
		}
		tokens, err := r.call(ctx, &r.contracts.DataProvider, "getReserveTokensAddresses", block, asset)
		if err != nil {
			return nil, err
		}
		aToken := *abi.ConvertType(tokens[0], new(common.Address)).(*common.Address)
		out.Collaterals = append(out.Collaterals, migration.CollateralPosition{
			UnderlyingAsset: asset,
			CollateralToken: aToken,
			Amount:          aTokenBalance,
		})
	}
	r.logger.Debug("position snapshot read",
		"source", user.Hex(),
		"reserves", len(assets),
		"debts", len(out.Debts),
		"collaterals", len(out.Collaterals))
	return out, nil
}

func (r *SnapshotReader) reserves(ctx context.Context, block *big.Int) ([]common.Address, error) {
	values, err := r.call(ctx, &r.contracts.DataProvider, "getAllReservesTokens", block)
	if err != nil {
		return nil, err
	}
	tokens := *abi.ConvertType(values[0], new([]reserveToken)).(*[]reserveToken)
	out := make([]common.Address, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, token.TokenAddress)
	}
	return out, nil
}

func (r *SnapshotReader) call(ctx context.Context, contract *abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.provider, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	values, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}
