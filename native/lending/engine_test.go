package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"lendpool/core/events"
	"lendpool/crypto"
	"lendpool/native/common"
	"lendpool/native/oracle"
	"lendpool/storage"
)

func testAddr(seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.MustNewAddress(crypto.LPPrefix, raw)
}

type captureEmitter struct {
	emitted []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.emitted = append(c.emitted, evt)
}

type engineFixture struct {
	db       *storage.MemDB
	store    *Store
	bank     *Bank
	manual   *oracle.ManualOracle
	registry *Registry
	risk     *RiskEngine
	engine   *Engine
	emitter  *captureEmitter
	pool     crypto.Address
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := storage.NewMemDB()
	registry, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.SetAllowedAsset("AAA", "AAA-USD"); err != nil {
		t.Fatalf("allow AAA: %v", err)
	}
	if err := registry.SetAllowedAsset("BBB", "BBB-USD"); err != nil {
		t.Fatalf("allow BBB: %v", err)
	}
	manual := oracle.NewManualOracle()
	now := time.Now()
	manual.Set("AAA-USD", new(big.Int).Set(oracle.PriceScale), now)
	manual.Set("BBB-USD", new(big.Int).Set(oracle.PriceScale), now)

	store := NewStore(db)
	pool := testAddr(0xFF)
	bank := NewBank(db, pool)
	risk := NewRiskEngine(registry, manual, RiskParameters{})
	engine := NewEngine(store, registry, risk, bank)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)

	return &engineFixture{
		db:       db,
		store:    store,
		bank:     bank,
		manual:   manual,
		registry: registry,
		risk:     risk,
		engine:   engine,
		emitter:  emitter,
		pool:     pool,
	}
}

func (f *engineFixture) mint(t *testing.T, account crypto.Address, asset string, amount int64) {
	t.Helper()
	if err := f.bank.Mint(account, asset, big.NewInt(amount)); err != nil {
		t.Fatalf("mint %d %s: %v", amount, asset, err)
	}
}

func (f *engineFixture) mustDeposit(t *testing.T, account crypto.Address, asset string, amount int64) {
	t.Helper()
	if err := f.engine.Deposit(account, asset, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit %d %s: %v", amount, asset, err)
	}
}

func (f *engineFixture) collateral(t *testing.T, account crypto.Address, asset string) *big.Int {
	t.Helper()
	balance, err := f.store.CollateralBalance(account, asset)
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	return balance
}

func (f *engineFixture) debt(t *testing.T, account crypto.Address, asset string) *big.Int {
	t.Helper()
	balance, err := f.store.DebtBalance(account, asset)
	if err != nil {
		t.Fatalf("debt balance: %v", err)
	}
	return balance
}

func (f *engineFixture) liquidity(t *testing.T, asset string) *big.Int {
	t.Helper()
	balance, err := f.store.PoolLiquidity(asset)
	if err != nil {
		t.Fatalf("pool liquidity: %v", err)
	}
	return balance
}

func TestDepositMovesFundsAndCreditsCollateral(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	f.mint(t, alice, "AAA", 1_000)

	f.mustDeposit(t, alice, "AAA", 400)

	if got := f.collateral(t, alice, "AAA"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("collateral = %s, want 400", got)
	}
	if got := f.liquidity(t, "AAA"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("liquidity = %s, want 400", got)
	}
	free, err := f.bank.Balance(alice, "AAA")
	if err != nil {
		t.Fatalf("bank balance: %v", err)
	}
	if free.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("bank balance = %s, want 600", free)
	}
	if len(f.emitter.emitted) != 1 {
		t.Fatalf("expected one event, got %d", len(f.emitter.emitted))
	}
	if f.emitter.emitted[0].EventType() != events.TypeLendingDeposit {
		t.Fatalf("unexpected event type %s", f.emitter.emitted[0].EventType())
	}
}

func TestDepositRejectsUnknownAssetAndBadAmounts(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	f.mint(t, alice, "AAA", 100)

	if err := f.engine.Deposit(alice, "ZZZ", big.NewInt(10)); !errors.Is(err, ErrAssetNotAllowed) {
		t.Fatalf("expected ErrAssetNotAllowed, got %v", err)
	}
	if err := f.engine.Deposit(alice, "AAA", big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for zero, got %v", err)
	}
	if err := f.engine.Deposit(alice, "AAA", big.NewInt(-5)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for negative, got %v", err)
	}
	if err := f.engine.Deposit(alice, "AAA", nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for nil, got %v", err)
	}
	if got := f.collateral(t, alice, "AAA"); got.Sign() != 0 {
		t.Fatalf("collateral mutated on rejected deposit: %s", got)
	}
}

func TestDepositFailedTransferLeavesStateUntouched(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	// No minted balance: the bank pull fails.
	err := f.engine.Deposit(alice, "AAA", big.NewInt(10))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := f.collateral(t, alice, "AAA"); got.Sign() != 0 {
		t.Fatalf("collateral mutated: %s", got)
	}
	if got := f.liquidity(t, "AAA"); got.Sign() != 0 {
		t.Fatalf("liquidity mutated: %s", got)
	}
	if len(f.emitter.emitted) != 0 {
		t.Fatalf("no event expected, got %d", len(f.emitter.emitted))
	}
}

func TestWithdrawReturnsCollateral(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	f.mint(t, alice, "AAA", 1_000)
	f.mustDeposit(t, alice, "AAA", 400)

	if err := f.engine.Withdraw(alice, "AAA", big.NewInt(150)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.collateral(t, alice, "AAA"); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("collateral = %s, want 250", got)
	}
	free, err := f.bank.Balance(alice, "AAA")
	if err != nil {
		t.Fatalf("bank balance: %v", err)
	}
	if free.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("bank balance = %s, want 750", free)
	}
}

func TestWithdrawRejectsOverdraw(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	f.mint(t, alice, "AAA", 1_000)
	f.mustDeposit(t, alice, "AAA", 100)

	if err := f.engine.Withdraw(alice, "AAA", big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := f.collateral(t, alice, "AAA"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("collateral mutated: %s", got)
	}
}

func TestWithdrawBlockedWhenItWouldBreakSolvency(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)
	f.mint(t, alice, "BBB", 2_000)
	f.mint(t, bob, "AAA", 2_000)
	f.mustDeposit(t, alice, "BBB", 2_000)
	f.mustDeposit(t, bob, "AAA", 2_000)

	if err := f.engine.Borrow(alice, "AAA", big.NewInt(1_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Collateral 2000 at threshold 80% supports 1600 of debt. Withdrawing 800
	// leaves 1200 adjusted to 960 < 1000 borrowed.
	if err := f.engine.Withdraw(alice, "BBB", big.NewInt(800)); !errors.Is(err, ErrInsolvent) {
		t.Fatalf("expected ErrInsolvent, got %v", err)
	}
	if got := f.collateral(t, alice, "BBB"); got.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("collateral mutated on refused withdraw: %s", got)
	}
	// A smaller withdrawal that keeps the factor at or above 1.0 succeeds:
	// 1750 adjusted to 1400 >= 1000.
	if err := f.engine.Withdraw(alice, "BBB", big.NewInt(250)); err != nil {
		t.Fatalf("withdraw within headroom: %v", err)
	}
}

func TestBorrowRequiresStrictHeadroom(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)
	f.mint(t, alice, "BBB", 1_000)
	f.mint(t, bob, "AAA", 5_000)
	f.mustDeposit(t, alice, "BBB", 1_000)
	f.mustDeposit(t, bob, "AAA", 5_000)

	// Collateral 1000 adjusted to 800. Borrowing exactly 800 would land the
	// health factor on the floor; the engine refuses it.
	if err := f.engine.Borrow(alice, "AAA", big.NewInt(800)); !errors.Is(err, ErrInsolvent) {
		t.Fatalf("expected ErrInsolvent at the boundary, got %v", err)
	}
	if err := f.engine.Borrow(alice, "AAA", big.NewInt(799)); err != nil {
		t.Fatalf("borrow below boundary: %v", err)
	}
	if got := f.debt(t, alice, "AAA"); got.Cmp(big.NewInt(799)) != 0 {
		t.Fatalf("debt = %s, want 799", got)
	}
	free, err := f.bank.Balance(alice, "AAA")
	if err != nil {
		t.Fatalf("bank balance: %v", err)
	}
	if free.Cmp(big.NewInt(799)) != 0 {
		t.Fatalf("borrowed funds not delivered: %s", free)
	}
}

func TestBorrowRejectsBeyondPoolLiquidity(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	f.mint(t, alice, "BBB", 10_000)
	f.mustDeposit(t, alice, "BBB", 10_000)

	// No AAA was ever deposited, so the pool holds none to lend.
	if err := f.engine.Borrow(alice, "AAA", big.NewInt(1)); !errors.Is(err, ErrInsufficientPoolLiquidity) {
		t.Fatalf("expected ErrInsufficientPoolLiquidity, got %v", err)
	}
}

func TestRepayCapsAtOutstandingDebt(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)
	f.mint(t, alice, "BBB", 2_000)
	f.mint(t, bob, "AAA", 2_000)
	f.mustDeposit(t, alice, "BBB", 2_000)
	f.mustDeposit(t, bob, "AAA", 2_000)
	if err := f.engine.Borrow(alice, "AAA", big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.mint(t, alice, "AAA", 1_000)

	// Offer 5000, owe 500: only 500 is pulled.
	if err := f.engine.Repay(alice, "AAA", big.NewInt(5_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if got := f.debt(t, alice, "AAA"); got.Sign() != 0 {
		t.Fatalf("debt = %s, want 0", got)
	}
	free, err := f.bank.Balance(alice, "AAA")
	if err != nil {
		t.Fatalf("bank balance: %v", err)
	}
	// 500 borrowed + 1000 minted - 500 repaid.
	if free.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("bank balance = %s, want 1000", free)
	}
	last := f.emitter.emitted[len(f.emitter.emitted)-1]
	repay, ok := last.(events.LendingRepay)
	if !ok {
		t.Fatalf("expected LendingRepay event, got %T", last)
	}
	if repay.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("event amount = %s, want the settled 500", repay.Amount)
	}
}

func TestRepayWithoutDebtFails(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	f.mint(t, alice, "AAA", 100)

	if err := f.engine.Repay(alice, "AAA", big.NewInt(10)); !errors.Is(err, ErrNoOutstandingDebt) {
		t.Fatalf("expected ErrNoOutstandingDebt, got %v", err)
	}
}

func TestPausedFlowsAreRefused(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	f.mint(t, alice, "AAA", 100)
	f.engine.SetPauses(ActionPauses{Deposit: true})

	err := f.engine.Deposit(alice, "AAA", big.NewInt(10))
	if !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	// Other flows stay live.
	f.engine.SetPauses(ActionPauses{Withdraw: true})
	f.mustDeposit(t, alice, "AAA", 10)
	if err := f.engine.Withdraw(alice, "AAA", big.NewInt(5)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on withdraw, got %v", err)
	}
}

// reentrantTransfers drives a nested engine call from inside a transfer,
// mimicking a callback-capable asset layer.
type reentrantTransfers struct {
	engine *Engine
	inner  error
	fired  bool
}

func (r *reentrantTransfers) Pull(asset string, from crypto.Address, amount *big.Int) error {
	if !r.fired {
		r.fired = true
		r.inner = r.engine.Deposit(from, asset, amount)
	}
	return nil
}

func (r *reentrantTransfers) Push(asset string, to crypto.Address, amount *big.Int) error {
	return nil
}

func TestNestedMutationIsRejectedNotQueued(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	transfers := &reentrantTransfers{}
	engine := NewEngine(f.store, f.registry, f.risk, transfers)
	transfers.engine = engine

	if err := engine.Deposit(alice, "AAA", big.NewInt(10)); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !errors.Is(transfers.inner, ErrReentrant) {
		t.Fatalf("expected nested call to fail with ErrReentrant, got %v", transfers.inner)
	}
	// Only the outer deposit landed.
	if got := f.collateral(t, alice, "AAA"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("collateral = %s, want 10", got)
	}
}

func TestPositionAndQueries(t *testing.T) {
	f := newEngineFixture(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)
	f.mint(t, alice, "BBB", 2_000)
	f.mint(t, bob, "AAA", 2_000)
	f.mustDeposit(t, alice, "BBB", 2_000)
	f.mustDeposit(t, bob, "AAA", 2_000)
	if err := f.engine.Borrow(alice, "AAA", big.NewInt(1_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	pos, err := f.engine.Position(alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Collateral["BBB"].Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("position collateral = %s", pos.Collateral["BBB"])
	}
	if pos.Debt["AAA"].Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("position debt = %s", pos.Debt["AAA"])
	}

	collateralValue, err := f.engine.CollateralValue(alice)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if collateralValue.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("collateral value = %s, want 2000", collateralValue)
	}
	borrowedValue, err := f.engine.BorrowedValue(alice)
	if err != nil {
		t.Fatalf("borrowed value: %v", err)
	}
	if borrowedValue.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("borrowed value = %s, want 1000", borrowedValue)
	}

	factor, err := f.engine.HealthFactor(alice)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	// 2000 * 80% / 1000 = 1.6 in fixed point.
	want := new(big.Int).Mul(big.NewInt(16), new(big.Int).Quo(oracle.PriceScale, big.NewInt(10)))
	if factor.Cmp(want) != 0 {
		t.Fatalf("health factor = %s, want %s", factor, want)
	}
}
