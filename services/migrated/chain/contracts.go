// Package chain talks to deployed migrator, lending pool and data provider
// contracts over JSON-RPC.
package chain

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/native/migration"
)

const migratorABIJSON = `[
	{"inputs":[
		{"name":"destination","type":"address"},
		{"name":"debts","type":"tuple[]","components":[
			{"name":"asset","type":"address"},
			{"name":"stableDebt","type":"uint256"},
			{"name":"variableDebt","type":"uint256"}]},
		{"name":"collaterals","type":"tuple[]","components":[
			{"name":"underlyingAsset","type":"address"},
			{"name":"collateralToken","type":"address"},
			{"name":"amount","type":"uint256"}]}],
	 "name":"transferAccount","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"feeBps","type":"uint256"}],"name":"changeFee","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"fee","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[
		{"name":"assets","type":"address[]"},
		{"name":"amounts","type":"uint256[]"},
		{"name":"premiums","type":"uint256[]"},
		{"name":"initiator","type":"address"},
		{"name":"params","type":"bytes"}],
	 "name":"executeOperation","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const lendingPoolABIJSON = `[
	{"inputs":[
		{"name":"receiverAddress","type":"address"},
		{"name":"assets","type":"address[]"},
		{"name":"amounts","type":"uint256[]"},
		{"name":"modes","type":"uint256[]"},
		{"name":"onBehalfOf","type":"address"},
		{"name":"params","type":"bytes"},
		{"name":"referralCode","type":"uint16"}],
	 "name":"flashLoan","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"rateMode","type":"uint256"},
		{"name":"onBehalfOf","type":"address"}],
	 "name":"repay","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"interestRateMode","type":"uint256"},
		{"name":"referralCode","type":"uint16"},
		{"name":"onBehalfOf","type":"address"}],
	 "name":"borrow","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"FLASHLOAN_PREMIUM_TOTAL","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const dataProviderABIJSON = `[
	{"inputs":[{"name":"asset","type":"address"},{"name":"user","type":"address"}],
	 "name":"getUserReserveData","outputs":[
		{"name":"currentATokenBalance","type":"uint256"},
		{"name":"currentStableDebt","type":"uint256"},
		{"name":"currentVariableDebt","type":"uint256"},
		{"name":"principalStableDebt","type":"uint256"},
		{"name":"scaledVariableDebt","type":"uint256"},
		{"name":"stableBorrowRate","type":"uint256"},
		{"name":"liquidityRate","type":"uint256"},
		{"name":"stableRateLastUpdated","type":"uint40"},
		{"name":"usageAsCollateralEnabled","type":"bool"}],
	 "stateMutability":"view","type":"function"},
	{"inputs":[{"name":"asset","type":"address"}],
	 "name":"getReserveTokensAddresses","outputs":[
		{"name":"aTokenAddress","type":"address"},
		{"name":"stableDebtTokenAddress","type":"address"},
		{"name":"variableDebtTokenAddress","type":"address"}],
	 "stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getAllReservesTokens","outputs":[
		{"name":"","type":"tuple[]","components":[
			{"name":"symbol","type":"string"},
			{"name":"tokenAddress","type":"address"}]}],
	 "stateMutability":"view","type":"function"}
]`

const tokenABIJSON = `[
	{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"delegatee","type":"address"},{"name":"amount","type":"uint256"}],"name":"approveDelegation","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Contracts holds the parsed ABIs.
type Contracts struct {
	Migrator     abi.ABI
	LendingPool  abi.ABI
	DataProvider abi.ABI
	Token        abi.ABI
}

var (
	contractsOnce sync.Once
	contracts     *Contracts
	contractsErr  error
)

// LoadContracts parses the embedded ABIs once.
func LoadContracts() (*Contracts, error) {
	contractsOnce.Do(func() {
		out := &Contracts{}
		for _, entry := range []struct {
			name   string
			source string
			target *abi.ABI
		}{
			{"migrator", migratorABIJSON, &out.Migrator},
			{"lending pool", lendingPoolABIJSON, &out.LendingPool},
			{"data provider", dataProviderABIJSON, &out.DataProvider},
			{"token", tokenABIJSON, &out.Token},
		} {
			parsed, err := abi.JSON(strings.NewReader(entry.source))
			if err != nil {
				contractsErr = fmt.Errorf("failed to parse %s ABI: %w", entry.name, err)
				return
			}
			*entry.target = parsed
		}
		contracts = out
	})
	return contracts, contractsErr
}

type debtTuple struct {
	Asset        common.Address
	StableDebt   *big.Int
	VariableDebt *big.Int
}

type collateralTuple struct {
	UnderlyingAsset common.Address
	CollateralToken common.Address
	Amount          *big.Int
}

// PackTransferAccount encodes a transferAccount call for the migrator.
func (c *Contracts) PackTransferAccount(destination common.Address, debts []migration.DebtPosition, collaterals []migration.CollateralPosition) ([]byte, error) {
	debtArgs := make([]debtTuple, len(debts))
	for i, d := range debts {
		debtArgs[i] = debtTuple{Asset: d.Asset, StableDebt: toBig(d.StableDebt), VariableDebt: toBig(d.VariableDebt)}
	}
	collateralArgs := make([]collateralTuple, len(collaterals))
	for i, col := range collaterals {
		collateralArgs[i] = collateralTuple{UnderlyingAsset: col.UnderlyingAsset, CollateralToken: col.CollateralToken, Amount: toBig(col.Amount)}
	}
	data, err := c.Migrator.Pack("transferAccount", destination, debtArgs, collateralArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transferAccount: %w", err)
	}
	return data, nil
}

// UnpackTransferAccount decodes transferAccount calldata.
func (c *Contracts) UnpackTransferAccount(data []byte) (common.Address, []migration.DebtPosition, []migration.CollateralPosition, error) {
	method, ok := c.Migrator.Methods["transferAccount"]
	if !ok || len(data) < 4 || string(data[:4]) != string(method.ID) {
		return common.Address{}, nil, nil, fmt.Errorf("calldata is not a transferAccount call")
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("failed to unpack transferAccount: %w", err)
	}
	destination := *abi.ConvertType(values[0], new(common.Address)).(*common.Address)
	debtArgs := *abi.ConvertType(values[1], new([]debtTuple)).(*[]debtTuple)
	collateralArgs := *abi.ConvertType(values[2], new([]collateralTuple)).(*[]collateralTuple)

	debts := make([]migration.DebtPosition, 0, len(debtArgs))
	for _, d := range debtArgs {
		stable, err := fromBig(d.StableDebt)
		if err != nil {
			return common.Address{}, nil, nil, err
		}
		variable, err := fromBig(d.VariableDebt)
		if err != nil {
			return common.Address{}, nil, nil, err
		}
		debts = append(debts, migration.DebtPosition{Asset: d.Asset, StableDebt: stable, VariableDebt: variable})
	}
	collaterals := make([]migration.CollateralPosition, 0, len(collateralArgs))
	for _, col := range collateralArgs {
		amount, err := fromBig(col.Amount)
		if err != nil {
			return common.Address{}, nil, nil, err
		}
		collaterals = append(collaterals, migration.CollateralPosition{UnderlyingAsset: col.UnderlyingAsset, CollateralToken: col.CollateralToken, Amount: amount})
	}
	return destination, debts, collaterals, nil
}

// PackChangeFee encodes a changeFee call.
func (c *Contracts) PackChangeFee(rateBps uint64) ([]byte, error) {
	return c.Migrator.Pack("changeFee", new(big.Int).SetUint64(rateBps))
}

// PackFlashLoan encodes the pool call the migrator issues for req.
func (c *Contracts) PackFlashLoan(receiver common.Address, req migration.FlashLoanRequest, onBehalfOf common.Address, params []byte, referral uint16) ([]byte, error) {
	amounts := make([]*big.Int, req.Len())
	modes := make([]*big.Int, req.Len())
	for i := range req.Assets {
		amounts[i] = toBig(req.Amounts[i])
		modes[i] = big.NewInt(int64(req.Modes[i]))
	}
	return c.LendingPool.Pack("flashLoan", receiver, req.Assets, amounts, modes, onBehalfOf, params, referral)
}

// PackApprove encodes an ERC-20 approve.
func (c *Contracts) PackApprove(spender common.Address, amount *uint256.Int) ([]byte, error) {
	return c.Token.Pack("approve", spender, toBig(amount))
}

// PackApproveDelegation encodes a debt-token credit delegation.
func (c *Contracts) PackApproveDelegation(delegatee common.Address, amount *uint256.Int) ([]byte, error) {
	return c.Token.Pack("approveDelegation", delegatee, toBig(amount))
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value %s exceeds 256 bits", v)
	}
	return out, nil
}
