package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"lendmigrate/crypto"
	"lendmigrate/native/migration"
)

// Backend is the subset of *ethclient.Client the submitter uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// ErrChainIDMismatch is returned when the node reports a different chain
// than the one configured.
var ErrChainIDMismatch = errors.New("chain: node chain id differs from configuration")

// Submitter signs and sends migrator transactions from an operator key.
type Submitter struct {
	backend   Backend
	key       *crypto.PrivateKey
	migrator  common.Address
	chainID   *big.Int
	gasLimit  uint64
	contracts *Contracts
	logger    *slog.Logger
}

// NewSubmitter checks that backend serves chainID. A zero gasLimit means
// every transaction's gas is estimated.
func NewSubmitter(ctx context.Context, backend Backend, key *crypto.PrivateKey, migrator common.Address, chainID uint64, gasLimit uint64, logger *slog.Logger) (*Submitter, error) {
	if backend == nil || key == nil {
		return nil, fmt.Errorf("chain: backend and key required")
	}
	contracts, err := LoadContracts()
	if err != nil {
		return nil, err
	}
	remote, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: query chain id: %w", err)
	}
	if chainID != 0 && remote.Uint64() != chainID {
		return nil, fmt.Errorf("%w: node %s, configured %d", ErrChainIDMismatch, remote, chainID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		backend:   backend,
		key:       key,
		migrator:  migrator,
		chainID:   remote,
		gasLimit:  gasLimit,
		contracts: contracts,
		logger:    logger,
	}, nil
}

// From returns the operator address that signs every transaction.
func (s *Submitter) From() common.Address {
	return s.key.Address()
}

// TransferAccount submits a migration signed by the operator key, which must
// be the source account of mctx.
func (s *Submitter) TransferAccount(ctx context.Context, mctx migration.MigrationContext) (*gethtypes.Transaction, error) {
	if mctx.Source != s.From() {
		return nil, fmt.Errorf("chain: operator %s cannot migrate %s", s.From().Hex(), mctx.Source.Hex())
	}
	data, err := s.contracts.PackTransferAccount(mctx.Destination, mctx.Debts, mctx.Collaterals)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, s.migrator, data)
}

// ChangeFee submits a fee update signed by the operator key.
func (s *Submitter) ChangeFee(ctx context.Context, rateBps uint64) (*gethtypes.Transaction, error) {
	data, err := s.contracts.PackChangeFee(rateBps)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, s.migrator, data)
}

func (s *Submitter) send(ctx context.Context, to common.Address, data []byte) (*gethtypes.Transaction, error) {
	from := s.From()
	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce: %w", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price: %w", err)
	}
	gas := s.gasLimit
	if gas == 0 {
		gas, err = s.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
		if err != nil {
			return nil, fmt.Errorf("chain: estimate gas: %w", err)
		}
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(s.chainID), s.key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("chain: sign: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: send: %w", err)
	}
	s.logger.Info("transaction submitted",
		"hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas", gas)
	return signed, nil
}
