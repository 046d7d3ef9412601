package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"lendmigrate/core/events"
	"lendmigrate/core/types"
	"lendmigrate/crypto"
	"lendmigrate/native/migration"
	"lendmigrate/services/migrated/api"
	"lendmigrate/services/migrated/chain"
)

func runPlan(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("plan", stderr)
	var opts commonFlags
	opts.register(fs)
	position := fs.String("position", "", "YAML position file")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	cfg, err := opts.load()
	if err != nil {
		return fail(stderr, err)
	}
	doc, err := readPosition(*position)
	if err != nil {
		return fail(stderr, err)
	}
	mctx, err := doc.Context()
	if err != nil {
		return fail(stderr, err)
	}
	plan, err := migration.NewPlan(mctx, cfg.Engine.MaxPositions, cfg.Engine.FeeBps, cfg.Pool.PremiumBps)
	if err != nil {
		return fail(stderr, err)
	}
	contracts, err := chain.LoadContracts()
	if err != nil {
		return fail(stderr, err)
	}
	calldata, err := contracts.PackTransferAccount(plan.Context.Destination, plan.Context.Debts, plan.Context.Collaterals)
	if err != nil {
		return fail(stderr, err)
	}
	if err := writeOutput(stdout, opts.output, api.NewPlanResponse(uuid.NewString(), plan, calldata)); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runSimulate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("simulate", stderr)
	var opts commonFlags
	opts.register(fs)
	position := fs.String("position", "", "YAML position file")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	cfg, err := opts.load()
	if err != nil {
		return fail(stderr, err)
	}
	doc, err := readPosition(*position)
	if err != nil {
		return fail(stderr, err)
	}
	mctx, err := doc.Context()
	if err != nil {
		return fail(stderr, err)
	}
	deployment, err := cfg.SandboxConfig()
	if err != nil {
		return fail(stderr, err)
	}
	sb, err := migration.NewSandbox(deployment)
	if err != nil {
		return fail(stderr, err)
	}
	ctx := context.Background()
	if err := sb.Seed(ctx, mctx); err != nil {
		return fail(stderr, fmt.Errorf("seed source position: %w", err))
	}
	mark := len(sb.Events.Events())
	result, err := sb.Migrate(ctx, mctx)
	if err != nil {
		return fail(stderr, err)
	}
	var committed []*types.Event
	for _, evt := range sb.Events.Events()[mark:] {
		committed = append(committed, events.Render(evt))
	}
	source := sb.Position(mctx.Source)
	destination := sb.Position(mctx.Destination)
	resp := api.NewSimulationResponse(result,
		api.DocumentFromPosition(source.Account, source.Debts, source.Collaterals),
		api.DocumentFromPosition(destination.Account, destination.Debts, destination.Collaterals),
		committed)
	if err := writeOutput(stdout, opts.output, resp); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runCalldata(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("calldata", stderr)
	position := fs.String("position", "", "YAML position file to encode")
	decode := fs.String("decode", "", "0x-prefixed transferAccount calldata to decode")
	source := fs.String("source", "", "source account to report when decoding")
	output := fs.String("output", "json", "output format for decoded calldata: json or yaml")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	contracts, err := chain.LoadContracts()
	if err != nil {
		return fail(stderr, err)
	}

	if raw := strings.TrimSpace(*decode); raw != "" {
		data, err := hexutil.Decode(raw)
		if err != nil {
			return fail(stderr, fmt.Errorf("decode calldata: %w", err))
		}
		destination, debts, collaterals, err := contracts.UnpackTransferAccount(data)
		if err != nil {
			return fail(stderr, err)
		}
		doc := api.DocumentFromPosition(destination, debts, collaterals)
		doc.Destination = destination.Hex()
		doc.Source = ""
		if strings.TrimSpace(*source) != "" {
			addr, err := crypto.ParseAddress(*source)
			if err != nil {
				return fail(stderr, err)
			}
			doc.Source = addr.Hex()
		}
		if err := writeOutput(stdout, *output, doc); err != nil {
			return fail(stderr, err)
		}
		return 0
	}

	doc, err := readPosition(*position)
	if err != nil {
		return fail(stderr, err)
	}
	raw, err := doc.Context()
	if err != nil {
		return fail(stderr, err)
	}
	mctx, err := migration.Normalize(raw.Source, raw.Destination, raw.Debts, raw.Collaterals, 0)
	if err != nil {
		return fail(stderr, err)
	}
	data, err := contracts.PackTransferAccount(mctx.Destination, mctx.Debts, mctx.Collaterals)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, hexutil.Encode(data))
	return 0
}
