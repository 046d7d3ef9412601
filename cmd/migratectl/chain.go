package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"lendmigrate/cmd/internal/passphrase"
	engineconfig "lendmigrate/config"
	"lendmigrate/crypto"
	"lendmigrate/services/migrated/api"
	"lendmigrate/services/migrated/chain"
	"lendmigrate/services/migrated/storage"
)

var dialChain = func(ctx context.Context, url string) (*ethclient.Client, error) {
	return ethclient.DialContext(ctx, url)
}

func runSnapshot(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("snapshot", stderr)
	var opts commonFlags
	opts.register(fs)
	user := fs.String("user", "", "account to read")
	assets := fs.String("assets", "", "comma separated reserve assets; empty reads every listed reserve")
	block := fs.Uint64("block", 0, "block number; 0 reads the latest state")
	timeout := fs.Duration("timeout", 30*time.Second, "RPC timeout")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	account, err := crypto.ParseAddress(*user)
	if err != nil {
		return fail(stderr, fmt.Errorf("--user: %w", err))
	}
	reserves, err := parseAssets(*assets)
	if err != nil {
		return fail(stderr, err)
	}
	cfg, err := opts.load()
	if err != nil {
		return fail(stderr, err)
	}
	provider, err := cfg.DataProviderAddress()
	if err != nil {
		return fail(stderr, fmt.Errorf("network.data_provider: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client, err := dialChain(ctx, cfg.Network.RPCURL)
	if err != nil {
		return fail(stderr, fmt.Errorf("dial %s: %w", cfg.Network.RPCURL, err))
	}
	defer client.Close()

	reader, err := chain.NewSnapshotReader(client, provider, cliLogger(stderr))
	if err != nil {
		return fail(stderr, err)
	}
	var at *big.Int
	if *block > 0 {
		at = new(big.Int).SetUint64(*block)
	}
	snap, err := reader.Read(ctx, account, reserves, at)
	if err != nil {
		return fail(stderr, err)
	}
	if err := writeOutput(stdout, opts.output, api.DocumentFromPosition(snap.User, snap.Debts, snap.Collaterals)); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runSubmit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("submit", stderr)
	var opts commonFlags
	opts.register(fs)
	position := fs.String("position", "", "YAML position file")
	auditDriver := fs.String("audit-driver", "", "record the submission in an audit store: sqlite or postgres")
	auditDSN := fs.String("audit-dsn", "", "audit store DSN")
	timeout := fs.Duration("timeout", time.Minute, "RPC timeout")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	doc, err := readPosition(*position)
	if err != nil {
		return fail(stderr, err)
	}
	mctx, err := doc.Context()
	if err != nil {
		return fail(stderr, err)
	}
	cfg, err := opts.load()
	if err != nil {
		return fail(stderr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	submitter, client, err := openSubmitter(ctx, cfg, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer client.Close()

	tx, err := submitter.TransferAccount(ctx, mctx)
	if strings.TrimSpace(*auditDriver) != "" {
		if aerr := recordSubmission(ctx, *auditDriver, *auditDSN, doc, submitter.From(), cfg.Engine.FeeBps, tx, err); aerr != nil {
			fmt.Fprintf(stderr, "Warning: audit record failed: %v\n", aerr)
		}
	}
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, tx.Hash().Hex())
	return 0
}

func runSetFee(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("set-fee", stderr)
	var opts commonFlags
	opts.register(fs)
	rate := fs.Int64("rate", -1, "new fee rate in basis points")
	timeout := fs.Duration("timeout", time.Minute, "RPC timeout")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if *rate < 0 {
		fmt.Fprintln(stderr, "Error: --rate is required")
		return 1
	}
	cfg, err := opts.load()
	if err != nil {
		return fail(stderr, err)
	}
	if uint64(*rate) > cfg.Engine.MaxFeeBps {
		return fail(stderr, fmt.Errorf("--rate %d exceeds max_fee_bps %d", *rate, cfg.Engine.MaxFeeBps))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	submitter, client, err := openSubmitter(ctx, cfg, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer client.Close()

	tx, err := submitter.ChangeFee(ctx, uint64(*rate))
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, tx.Hash().Hex())
	return 0
}

func openSubmitter(ctx context.Context, cfg *engineconfig.Config, stderr io.Writer) (*chain.Submitter, *ethclient.Client, error) {
	migrator, err := cfg.EngineAddress()
	if err != nil {
		return nil, nil, fmt.Errorf("engine.address: %w", err)
	}
	pass, err := passphrase.NewSource(passphrase.EnvVar).Get()
	if err != nil {
		return nil, nil, err
	}
	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, pass)
	if err != nil {
		return nil, nil, fmt.Errorf("load operator keystore: %w", err)
	}
	client, err := dialChain(ctx, cfg.Network.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", cfg.Network.RPCURL, err)
	}
	submitter, err := chain.NewSubmitter(ctx, client, key, migrator, cfg.Network.ChainID, cfg.Network.GasLimit, cliLogger(stderr))
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return submitter, client, nil
}

type txHasher interface {
	Hash() common.Hash
}

func recordSubmission(ctx context.Context, driver, dsn string, doc api.PositionDocument, operator common.Address, rate uint64, tx txHasher, failure error) error {
	store, err := storage.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	rec := &storage.AuditRecord{
		Kind:        storage.KindSubmission,
		Outcome:     storage.OutcomeAccepted,
		Source:      doc.Source,
		Destination: doc.Destination,
		Actor:       operator.Hex(),
		FeeRateBps:  rate,
	}
	if failure != nil {
		rec.Outcome = storage.OutcomeRejected
		rec.Error = failure.Error()
	} else {
		rec.Payload = fmt.Sprintf(`{"tx":%q}`, tx.Hash().Hex())
	}
	return store.Record(ctx, rec)
}

func parseAssets(raw string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := crypto.ParseAddress(part)
		if err != nil {
			return nil, fmt.Errorf("--assets %q: %w", part, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func cliLogger(stderr io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
