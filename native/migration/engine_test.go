package migration

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendmigrate/core/events"
	"lendmigrate/core/types"
	"lendmigrate/native/bank"
	nativecommon "lendmigrate/native/common"
)

var (
	assetX  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	assetY  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	assetW  = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	assetZ  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	aTokenZ = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	source  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	dest    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// units parses a decimal token amount with 18 fractional digits.
func units(t *testing.T, value string) *uint256.Int {
	t.Helper()
	whole, frac, _ := strings.Cut(value, ".")
	if len(frac) > 18 {
		t.Fatalf("too many decimals in %q", value)
	}
	digits := whole + frac + strings.Repeat("0", 18-len(frac))
	parsed, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		t.Fatalf("invalid amount %q", value)
	}
	out, overflow := uint256.FromBig(parsed)
	if overflow {
		t.Fatalf("amount %q overflows", value)
	}
	return out
}

func newSandbox(t *testing.T, premiumBps, feeBps uint64) *Sandbox {
	t.Helper()
	cfg := DefaultSandboxConfig()
	cfg.PremiumBps = premiumBps
	cfg.FeeBps = feeBps
	sb, err := NewSandbox(cfg)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	return sb
}

func collateralZ(t *testing.T, amount string) CollateralPosition {
	return CollateralPosition{UnderlyingAsset: assetZ, CollateralToken: aTokenZ, Amount: units(t, amount)}
}

func seeded(t *testing.T, sb *Sandbox, mctx MigrationContext) {
	t.Helper()
	if err := sb.Seed(context.Background(), mctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func requireAmount(t *testing.T, label string, got, want *uint256.Int) {
	t.Helper()
	if !got.Eq(want) {
		t.Fatalf("%s: expected %s, got %s", label, want.Dec(), got.Dec())
	}
}

func countType(recorded []events.Event, eventType string) int {
	n := 0
	for _, evt := range recorded {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

func TestScenarioSingleStableDebtNoFee(t *testing.T) {
	sb := newSandbox(t, 9, 0)
	mctx := MigrationContext{
		Source:      source,
		Destination: dest,
		Debts:       []DebtPosition{{Asset: assetX, StableDebt: units(t, "100")}},
		Collaterals: []CollateralPosition{collateralZ(t, "200")},
	}
	seeded(t, sb, mctx)

	result, err := sb.Migrate(context.Background(), mctx)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	requireAmount(t, "source stable debt", sb.Pool.Debt(source, assetX, types.RateModeStable), new(uint256.Int))
	requireAmount(t, "destination stable debt", sb.Pool.Debt(dest, assetX, types.RateModeStable), units(t, "100.09"))
	requireAmount(t, "destination variable debt", sb.Pool.Debt(dest, assetX, types.RateModeVariable), new(uint256.Int))
	requireAmount(t, "destination collateral", sb.Ledger.BalanceOf(aTokenZ, dest), units(t, "200"))
	requireAmount(t, "source collateral", sb.Ledger.BalanceOf(aTokenZ, source), new(uint256.Int))
	requireAmount(t, "engine residue", sb.Ledger.BalanceOf(assetX, sb.Engine.Address()), new(uint256.Int))
	requireAmount(t, "owner fee", sb.Ledger.BalanceOf(assetX, sb.Admin.Owner()), new(uint256.Int))

	if result.ID == "" || len(result.Legs) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	requireAmount(t, "premium", result.Legs[0].Premium, units(t, "0.09"))
	if result.Request.Modes[0] != types.RateModeNone {
		t.Fatalf("expected flash-loan mode none, got %s", result.Request.Modes[0])
	}

	recorded := sb.Events.Events()
	if countType(recorded, events.TypeMigrationCompleted) != 1 {
		t.Fatalf("expected one completion event")
	}
	if countType(recorded, events.TypeMigrationFeeCharged) != 0 {
		t.Fatalf("no fee must be charged at a zero rate")
	}
	if _, pending := sb.Engine.Pending(); pending {
		t.Fatalf("no migration may remain in flight")
	}
}

func TestScenarioMixedModesWithFee(t *testing.T) {
	// 100 bps premium on 80 yields the 0.8 premium of the reference scenario.
	sb := newSandbox(t, 100, 50)
	mctx := MigrationContext{
		Source:      source,
		Destination: dest,
		Debts:       []DebtPosition{{Asset: assetY, StableDebt: units(t, "50"), VariableDebt: units(t, "30")}},
		Collaterals: []CollateralPosition{collateralZ(t, "200")},
	}
	seeded(t, sb, mctx)

	result, err := sb.Migrate(context.Background(), mctx)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// The stable leg is the first non-zero mode and carries the whole premium.
	requireAmount(t, "destination stable debt", sb.Pool.Debt(dest, assetY, types.RateModeStable), units(t, "51.05"))
	requireAmount(t, "destination variable debt", sb.Pool.Debt(dest, assetY, types.RateModeVariable), units(t, "30.15"))
	requireAmount(t, "source stable debt", sb.Pool.Debt(source, assetY, types.RateModeStable), new(uint256.Int))
	requireAmount(t, "source variable debt", sb.Pool.Debt(source, assetY, types.RateModeVariable), new(uint256.Int))
	requireAmount(t, "owner fees", sb.Ledger.BalanceOf(assetY, sb.Admin.Owner()), units(t, "0.40"))
	requireAmount(t, "engine residue", sb.Ledger.BalanceOf(assetY, sb.Engine.Address()), new(uint256.Int))

	leg := result.Legs[0]
	requireAmount(t, "premium", leg.Premium, units(t, "0.8"))
	requireAmount(t, "stable fee", leg.StableFee, units(t, "0.25"))
	requireAmount(t, "variable fee", leg.VariableFee, units(t, "0.15"))
	requireAmount(t, "total fees", result.TotalFees()[assetY], units(t, "0.40"))
	if result.FeeRateBps != 50 {
		t.Fatalf("expected fee rate 50, got %d", result.FeeRateBps)
	}
	if got := countType(sb.Events.Events(), events.TypeMigrationFeeCharged); got != 2 {
		t.Fatalf("expected two fee events, got %d", got)
	}
}

func TestPremiumFallsToVariableWhenNoStableDebt(t *testing.T) {
	sb := newSandbox(t, 100, 0)
	mctx := MigrationContext{
		Source:      source,
		Destination: dest,
		Debts:       []DebtPosition{{Asset: assetY, VariableDebt: units(t, "30")}},
		Collaterals: []CollateralPosition{collateralZ(t, "100")},
	}
	seeded(t, sb, mctx)

	if _, err := sb.Migrate(context.Background(), mctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	requireAmount(t, "destination variable debt", sb.Pool.Debt(dest, assetY, types.RateModeVariable), units(t, "30.3"))
	requireAmount(t, "destination stable debt", sb.Pool.Debt(dest, assetY, types.RateModeStable), new(uint256.Int))
}

func TestScenarioMissingCollateralApprovalReverts(t *testing.T) {
	sb := newSandbox(t, 9, 50)
	mctx := MigrationContext{
		Source:      source,
		Destination: dest,
		Debts:       []DebtPosition{{Asset: assetX, StableDebt: units(t, "100")}},
		Collaterals: []CollateralPosition{collateralZ(t, "200")},
	}
	seeded(t, sb, mctx)
	ctx := context.Background()
	if err := sb.Ledger.Approve(ctx, aTokenZ, source, sb.Engine.Address(), new(uint256.Int)); err != nil {
		t.Fatalf("revoke approval: %v", err)
	}
	before := len(sb.Events.Events())
	poolLiquidity := sb.Ledger.BalanceOf(assetX, sb.Pool.Address())

	_, err := sb.Migrate(ctx, mctx)
	if !errors.Is(err, bank.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	requireAmount(t, "source stable debt", sb.Pool.Debt(source, assetX, types.RateModeStable), units(t, "100"))
	requireAmount(t, "destination stable debt", sb.Pool.Debt(dest, assetX, types.RateModeStable), new(uint256.Int))
	requireAmount(t, "source collateral", sb.Ledger.BalanceOf(aTokenZ, source), units(t, "200"))
	requireAmount(t, "pool liquidity", sb.Ledger.BalanceOf(assetX, sb.Pool.Address()), poolLiquidity)
	requireAmount(t, "engine residue", sb.Ledger.BalanceOf(assetX, sb.Engine.Address()), new(uint256.Int))
	if after := len(sb.Events.Events()); after != before {
		t.Fatalf("reverted migration must not publish events, got %d new", after-before)
	}

	// The engine is usable again once the approval is restored.
	if err := sb.Ledger.Approve(ctx, aTokenZ, source, sb.Engine.Address(), units(t, "200")); err != nil {
		t.Fatalf("restore approval: %v", err)
	}
	if _, err := sb.Migrate(ctx, mctx); err != nil {
		t.Fatalf("migrate after restoring approval: %v", err)
	}
}

// strictPool fails the test on any call.
type strictPool struct {
	t *testing.T
}

func (p strictPool) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000b0001")
}

func (p strictPool) Repay(context.Context, common.Address, common.Address, *uint256.Int, types.RateMode, common.Address) (*uint256.Int, error) {
	p.t.Fatalf("unexpected repay")
	return nil, nil
}

func (p strictPool) Borrow(context.Context, common.Address, common.Address, *uint256.Int, types.RateMode, uint16, common.Address) error {
	p.t.Fatalf("unexpected borrow")
	return nil
}

func (p strictPool) FlashLoan(context.Context, common.Address, types.FlashLoanReceiver, []common.Address, []*uint256.Int, []types.RateMode, common.Address, []byte, uint16) error {
	p.t.Fatalf("unexpected flash loan")
	return nil
}

func TestScenarioSelfTransferRejectedBeforeExternalCalls(t *testing.T) {
	engine := NewEngine(Config{Address: DefaultSandboxConfig().Engine}, strictPool{t: t}, bank.NewLedger(), nil)
	debts := []DebtPosition{{Asset: assetX, StableDebt: uint256.NewInt(100)}}

	if _, err := engine.TransferAccount(context.Background(), source, source, debts, nil); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
	if _, err := engine.TransferAccount(context.Background(), source, common.Address{}, debts, nil); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient for zero destination, got %v", err)
	}
}

func TestInputValidation(t *testing.T) {
	engine := NewEngine(Config{Address: DefaultSandboxConfig().Engine, MaxPositions: 2}, strictPool{t: t}, bank.NewLedger(), nil)
	ctx := context.Background()
	one := uint256.NewInt(1)

	cases := []struct {
		name        string
		debts       []DebtPosition
		collaterals []CollateralPosition
		want        error
	}{
		{name: "no debts", want: ErrNothingToMigrate},
		{name: "only empty debts", debts: []DebtPosition{{Asset: assetX}}, want: ErrNothingToMigrate},
		{name: "duplicate asset", debts: []DebtPosition{{Asset: assetX, StableDebt: one}, {Asset: assetX, VariableDebt: one}}, want: ErrDuplicateAsset},
		{name: "zero asset", debts: []DebtPosition{{StableDebt: one}}, want: ErrInvalidAsset},
		{name: "too many", debts: []DebtPosition{{Asset: assetX, StableDebt: one}, {Asset: assetY, StableDebt: one}, {Asset: assetW, StableDebt: one}}, want: ErrTooManyPositions},
		{name: "zero collateral token", debts: []DebtPosition{{Asset: assetX, StableDebt: one}}, collaterals: []CollateralPosition{{Amount: one}}, want: ErrInvalidAsset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.TransferAccount(ctx, source, dest, tc.debts, tc.collaterals); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestZeroAmountPositionsAreSkipped(t *testing.T) {
	sb := newSandbox(t, 9, 0)
	seedCtx := MigrationContext{
		Source:      source,
		Destination: dest,
		Debts:       []DebtPosition{{Asset: assetX, StableDebt: units(t, "100")}},
		Collaterals: []CollateralPosition{collateralZ(t, "200")},
	}
	seeded(t, sb, seedCtx)

	debts := []DebtPosition{
		{Asset: assetX, StableDebt: units(t, "100"), VariableDebt: new(uint256.Int)},
		{Asset: assetW},
	}
	collaterals := []CollateralPosition{collateralZ(t, "200"), {UnderlyingAsset: assetZ, CollateralToken: aTokenZ}}
	before := len(sb.Events.Events())

	var result *Result
	err := sb.Host.Execute(context.Background(), func(ctx context.Context) error {
		var err error
		result, err = sb.Engine.TransferAccount(ctx, source, dest, debts, collaterals)
		return err
	})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if result.Request.Len() != 1 || result.Request.Assets[0] != assetX {
		t.Fatalf("expected a single loan leg on X, got %+v", result.Request.Assets)
	}
	recorded := sb.Events.Events()[before:]
	if got := countType(recorded, events.TypeMigrationDebtRepaid); got != 1 {
		t.Fatalf("expected one repay, got %d", got)
	}
	if got := countType(recorded, events.TypeMigrationDebtOpened); got != 1 {
		t.Fatalf("expected one borrow, got %d", got)
	}
	if got := countType(recorded, events.TypeMigrationCollateralMoved); got != 1 {
		t.Fatalf("expected one collateral move, got %d", got)
	}
}

func TestOverstatedDebtReverts(t *testing.T) {
	sb := newSandbox(t, 9, 0)
	mctx := MigrationContext{
		Source:      source,
		Destination: dest,
		Debts:       []DebtPosition{{Asset: assetX, StableDebt: units(t, "100")}},
		Collaterals: []CollateralPosition{collateralZ(t, "300")},
	}
	seeded(t, sb, mctx)

	overstated := mctx
	overstated.Debts = []DebtPosition{{Asset: assetX, StableDebt: units(t, "150")}}
	if _, err := sb.Migrate(context.Background(), overstated); !errors.Is(err, ErrPositionMismatch) {
		t.Fatalf("expected ErrPositionMismatch, got %v", err)
	}
	requireAmount(t, "source stable debt", sb.Pool.Debt(source, assetX, types.RateModeStable), units(t, "100"))
}

func TestPausedEngineRejectsMigration(t *testing.T) {
	sb := newSandbox(t, 9, 0)
	sb.Engine.SetPauses(nativecommon.NewPauseSet("migration"))
	debts := []DebtPosition{{Asset: assetX, StableDebt: uint256.NewInt(1)}}
	if _, err := sb.Engine.TransferAccount(context.Background(), source, dest, debts, nil); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestMultiAssetMigrationKeepsLegsAligned(t *testing.T) {
	sb := newSandbox(t, 100, 50)
	mctx := MigrationContext{
		Source:      source,
		Destination: dest,
		Debts: []DebtPosition{
			{Asset: assetX, VariableDebt: units(t, "10")},
			{Asset: assetY, StableDebt: units(t, "50"), VariableDebt: units(t, "30")},
			// The collateral underlying is also borrowed.
			{Asset: assetZ, StableDebt: units(t, "20")},
		},
		Collaterals: []CollateralPosition{collateralZ(t, "200")},
	}
	seeded(t, sb, mctx)

	plan, err := NewPlan(mctx, 0, sb.Admin.FeeRate(), 100)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	result, err := sb.Migrate(context.Background(), mctx)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	wantAssets := []common.Address{assetX, assetY, assetZ}
	for i, asset := range wantAssets {
		if result.Request.Assets[i] != asset || result.Legs[i].Asset != asset {
			t.Fatalf("leg %d: expected %s, got request %s result %s", i, asset.Hex(), result.Request.Assets[i].Hex(), result.Legs[i].Asset.Hex())
		}
	}
	requireAmount(t, "X premium", result.Legs[0].Premium, units(t, "0.1"))
	requireAmount(t, "Y premium", result.Legs[1].Premium, units(t, "0.8"))
	requireAmount(t, "Z premium", result.Legs[2].Premium, units(t, "0.2"))

	requireAmount(t, "X variable", sb.Pool.Debt(dest, assetX, types.RateModeVariable), units(t, "10.15"))
	requireAmount(t, "X stable", sb.Pool.Debt(dest, assetX, types.RateModeStable), new(uint256.Int))
	requireAmount(t, "Y stable", sb.Pool.Debt(dest, assetY, types.RateModeStable), units(t, "51.05"))
	requireAmount(t, "Y variable", sb.Pool.Debt(dest, assetY, types.RateModeVariable), units(t, "30.15"))
	requireAmount(t, "Z stable", sb.Pool.Debt(dest, assetZ, types.RateModeStable), units(t, "20.3"))
	requireAmount(t, "Z variable", sb.Pool.Debt(dest, assetZ, types.RateModeVariable), new(uint256.Int))

	for _, asset := range wantAssets {
		for _, mode := range []types.RateMode{types.RateModeStable, types.RateModeVariable} {
			requireAmount(t, "source debt "+asset.Hex(), sb.Pool.Debt(source, asset, mode), new(uint256.Int))
		}
		requireAmount(t, "engine residue "+asset.Hex(), sb.Ledger.BalanceOf(asset, sb.Engine.Address()), new(uint256.Int))
	}
	requireAmount(t, "X owner fee", sb.Ledger.BalanceOf(assetX, sb.Admin.Owner()), units(t, "0.05"))
	requireAmount(t, "Y owner fee", sb.Ledger.BalanceOf(assetY, sb.Admin.Owner()), units(t, "0.40"))
	requireAmount(t, "Z owner fee", sb.Ledger.BalanceOf(assetZ, sb.Admin.Owner()), units(t, "0.1"))
	requireAmount(t, "destination collateral", sb.Ledger.BalanceOf(aTokenZ, dest), units(t, "200"))
	requireAmount(t, "source collateral", sb.Ledger.BalanceOf(aTokenZ, source), new(uint256.Int))

	for i, leg := range result.Legs {
		planned := plan.Legs[i]
		requireAmount(t, "planned stable "+leg.Asset.Hex(), planned.StableBorrow, leg.StableBorrowed)
		requireAmount(t, "planned variable "+leg.Asset.Hex(), planned.VariableBorrow, leg.VariableBorrowed)
		requireAmount(t, "planned premium "+leg.Asset.Hex(), planned.Premium, leg.Premium)
	}

	recorded := sb.Events.Events()
	if got := countType(recorded, events.TypeMigrationDebtOpened); got != 4 {
		t.Fatalf("expected four borrows, got %d", got)
	}
	if got := countType(recorded, events.TypeMigrationFeeCharged); got != 4 {
		t.Fatalf("expected four fee charges, got %d", got)
	}
}

// cancelHandler cancels a context once a given log message is handled.
type cancelHandler struct {
	message  string
	cancel   context.CancelFunc
	messages *[]string
}

func (h cancelHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h cancelHandler) Handle(_ context.Context, r slog.Record) error {
	*h.messages = append(*h.messages, r.Message)
	if r.Message == h.message {
		h.cancel()
	}
	return nil
}

func (h cancelHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h cancelHandler) WithGroup(string) slog.Handler      { return h }

func TestMigrationRevertedAfterExecutionIsNotCommitted(t *testing.T) {
	sb := newSandbox(t, 9, 0)
	mctx := MigrationContext{
		Source:      source,
		Destination: dest,
		Debts:       []DebtPosition{{Asset: assetX, StableDebt: units(t, "100")}},
		Collaterals: []CollateralPosition{collateralZ(t, "200")},
	}
	seeded(t, sb, mctx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var messages []string
	sb.Engine.SetLogger(slog.New(cancelHandler{message: "migration executed", cancel: cancel, messages: &messages}))

	result, err := sb.Migrate(ctx, mctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result != nil {
		t.Fatalf("a reverted migration must not return a result")
	}
	requireAmount(t, "source stable debt", sb.Pool.Debt(source, assetX, types.RateModeStable), units(t, "100"))
	requireAmount(t, "destination stable debt", sb.Pool.Debt(dest, assetX, types.RateModeStable), new(uint256.Int))
	requireAmount(t, "source collateral", sb.Ledger.BalanceOf(aTokenZ, source), units(t, "200"))
	if got := countType(sb.Events.Events(), events.TypeMigrationCompleted); got != 0 {
		t.Fatalf("reverted migration leaked %d completion events", got)
	}
	want := []string{"migration executed", "migration reverted"}
	for _, msg := range want {
		if !slices.Contains(messages, msg) {
			t.Fatalf("expected %q in %v", msg, messages)
		}
	}
	if slices.Contains(messages, "migration committed") {
		t.Fatalf("reverted migration logged as committed: %v", messages)
	}
}
