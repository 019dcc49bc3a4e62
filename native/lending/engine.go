package lending

import (
	"fmt"
	"math/big"
	"sync"

	"lendpool/core/events"
	"lendpool/crypto"
	"lendpool/native/common"
)

// TransferService moves asset custody between accounts and the pool. Pull
// draws funds from an account into pool custody; Push releases pool custody
// to an account. Implementations must either complete the movement or return
// an error with no funds moved.
type TransferService interface {
	Pull(asset string, from crypto.Address, amount *big.Int) error
	Push(asset string, to crypto.Address, amount *big.Int) error
}

// Engine is the transactional core of the lending pool. Every mutating
// operation validates first, performs external transfers second, and commits
// ledger writes last, so a failure at any stage leaves balances untouched.
// Mutations are serialised: a call arriving while another is in flight is
// rejected with ErrReentrant rather than queued.
type Engine struct {
	mu        sync.Mutex
	store     *Store
	registry  *Registry
	risk      *RiskEngine
	transfers TransferService
	emitter   events.Emitter
	pauses    common.PauseView
}

// NewEngine assembles the lending engine from its collaborators.
func NewEngine(store *Store, registry *Registry, risk *RiskEngine, transfers TransferService) *Engine {
	return &Engine{
		store:     store,
		registry:  registry,
		risk:      risk,
		transfers: transfers,
		emitter:   events.NoopEmitter{},
		pauses:    ActionPauses{},
	}
}

// SetEmitter wires the engine to the event stream.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetPauses installs the per-flow pause switches.
func (e *Engine) SetPauses(pauses common.PauseView) {
	if e == nil || pauses == nil {
		return
	}
	e.pauses = pauses
}

func (e *Engine) acquire() error {
	if !e.mu.TryLock() {
		return ErrReentrant
	}
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return nil
}

// Deposit pulls the amount from the account into pool custody and credits the
// account's collateral row. The asset must be registered; deposits always
// improve or preserve solvency so no health check runs.
func (e *Engine) Deposit(account crypto.Address, asset string, amount *big.Int) error {
	if err := common.Guard(e.pauses, flowDeposit); err != nil {
		return err
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := validAmount(amount); err != nil {
		return err
	}
	symbol := NormalizeAsset(asset)
	if !e.registry.IsAllowed(symbol) {
		return ErrAssetNotAllowed
	}
	if err := e.transfers.Pull(symbol, account, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.store.CreditCollateral(account, symbol, amount); err != nil {
		return err
	}
	if err := e.store.CreditLiquidity(symbol, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingDeposit{Account: account, Asset: symbol, Amount: amount})
	return nil
}

// Withdraw releases posted collateral back to the account. The withdrawal is
// projected onto the account's position first: if the remaining collateral
// would put the health factor below the minimum the call fails with
// ErrInsolvent and nothing moves. Assets later removed from the registry can
// still be withdrawn; they simply no longer count toward collateral value.
func (e *Engine) Withdraw(account crypto.Address, asset string, amount *big.Int) error {
	if err := common.Guard(e.pauses, flowWithdraw); err != nil {
		return err
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := validAmount(amount); err != nil {
		return err
	}
	symbol := NormalizeAsset(asset)
	balance, err := e.store.CollateralBalance(account, symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	liquidity, err := e.store.PoolLiquidity(symbol)
	if err != nil {
		return err
	}
	if liquidity.Cmp(amount) < 0 {
		return ErrInsufficientPoolLiquidity
	}

	projected := newOverlay(e.store)
	projected.setCollateral(account, symbol, new(big.Int).Sub(balance, amount))
	factor, err := e.risk.HealthFactor(projected, account)
	if err != nil {
		return err
	}
	if factor.Cmp(minHealthFactor) < 0 {
		return ErrInsolvent
	}

	if err := e.transfers.Push(symbol, account, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.store.DebitCollateral(account, symbol, amount); err != nil {
		return err
	}
	if err := e.store.DebitLiquidity(symbol, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingWithdraw{Account: account, Asset: symbol, Amount: amount})
	return nil
}

// Borrow pushes pool funds to the account and records the debt. The loan is
// projected onto the position first and must leave the health factor strictly
// above the minimum; a borrow that lands exactly on the floor is refused so a
// fresh loan never starts at the liquidation boundary.
func (e *Engine) Borrow(account crypto.Address, asset string, amount *big.Int) error {
	if err := common.Guard(e.pauses, flowBorrow); err != nil {
		return err
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := validAmount(amount); err != nil {
		return err
	}
	symbol := NormalizeAsset(asset)
	if !e.registry.IsAllowed(symbol) {
		return ErrAssetNotAllowed
	}
	liquidity, err := e.store.PoolLiquidity(symbol)
	if err != nil {
		return err
	}
	if liquidity.Cmp(amount) < 0 {
		return ErrInsufficientPoolLiquidity
	}

	debt, err := e.store.DebtBalance(account, symbol)
	if err != nil {
		return err
	}
	projected := newOverlay(e.store)
	projected.setDebt(account, symbol, new(big.Int).Add(debt, amount))
	factor, err := e.risk.HealthFactor(projected, account)
	if err != nil {
		return err
	}
	if factor.Cmp(minHealthFactor) <= 0 {
		return ErrInsolvent
	}

	if err := e.transfers.Push(symbol, account, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.store.CreditDebt(account, symbol, amount); err != nil {
		return err
	}
	if err := e.store.DebitLiquidity(symbol, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingBorrow{Account: account, Asset: symbol, Amount: amount})
	return nil
}

// Repay pulls funds from the account and reduces its debt. The pulled amount
// is capped at the outstanding balance so an over-payment never draws more
// than is owed; the emitted event carries the amount actually applied.
func (e *Engine) Repay(account crypto.Address, asset string, amount *big.Int) error {
	if err := common.Guard(e.pauses, flowRepay); err != nil {
		return err
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := validAmount(amount); err != nil {
		return err
	}
	symbol := NormalizeAsset(asset)
	if !e.registry.IsAllowed(symbol) {
		return ErrAssetNotAllowed
	}
	outstanding, err := e.store.DebtBalance(account, symbol)
	if err != nil {
		return err
	}
	if outstanding.Sign() == 0 {
		return ErrNoOutstandingDebt
	}
	repay := new(big.Int).Set(amount)
	if repay.Cmp(outstanding) > 0 {
		repay.Set(outstanding)
	}

	if err := e.transfers.Pull(symbol, account, repay); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.store.DebitDebt(account, symbol, repay); err != nil {
		return err
	}
	if err := e.store.CreditLiquidity(symbol, repay); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingRepay{Account: account, Asset: symbol, Amount: repay})
	return nil
}

// Liquidate lets a third party repay half of an insolvent account's debt in
// repayAsset in exchange for collateral in rewardAsset worth the repaid value
// plus the liquidation bonus. The liquidator funds the repayment from their
// own balance; the reward comes out of the debtor's collateral. Eligibility,
// the half-debt figure, and the reward amount are all fixed against the
// pre-call state before anything moves.
func (e *Engine) Liquidate(liquidator, account crypto.Address, repayAsset, rewardAsset string) error {
	if err := common.Guard(e.pauses, flowLiquidate); err != nil {
		return err
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	repaySymbol := NormalizeAsset(repayAsset)
	rewardSymbol := NormalizeAsset(rewardAsset)
	if !e.registry.IsAllowed(repaySymbol) || !e.registry.IsAllowed(rewardSymbol) {
		return ErrAssetNotAllowed
	}

	factor, err := e.risk.HealthFactor(e.store, account)
	if err != nil {
		return err
	}
	if factor.Cmp(minHealthFactor) >= 0 {
		return ErrNotLiquidatable
	}

	debt, err := e.store.DebtBalance(account, repaySymbol)
	if err != nil {
		return err
	}
	halfDebt := new(big.Int).Quo(debt, big.NewInt(2))
	halfDebtValue, err := e.risk.AssetValue(repaySymbol, halfDebt)
	if err != nil {
		return err
	}
	if halfDebtValue.Sign() == 0 {
		return ErrZeroRepayValue
	}

	bonus := new(big.Int).Mul(halfDebtValue, new(big.Int).SetUint64(e.risk.Params().LiquidationBonusPct))
	bonus.Quo(bonus, oneHundred)
	rewardValue := new(big.Int).Add(halfDebtValue, bonus)
	rewardAmount, err := e.risk.AssetAmountFromValue(rewardSymbol, rewardValue)
	if err != nil {
		return err
	}

	collateral, err := e.store.CollateralBalance(account, rewardSymbol)
	if err != nil {
		return err
	}
	if collateral.Cmp(rewardAmount) < 0 {
		return ErrInsufficientBalance
	}
	liquidity, err := e.store.PoolLiquidity(rewardSymbol)
	if err != nil {
		return err
	}
	if liquidity.Cmp(rewardAmount) < 0 {
		return ErrInsufficientPoolLiquidity
	}

	if err := e.transfers.Pull(repaySymbol, liquidator, halfDebt); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.transfers.Push(rewardSymbol, liquidator, rewardAmount); err != nil {
		// The repayment was already pulled; hand it back before aborting.
		if refundErr := e.transfers.Push(repaySymbol, liquidator, halfDebt); refundErr != nil {
			return fmt.Errorf("%w: %v (refund of %s %s also failed: %v)", ErrTransferFailed, err, halfDebt, repaySymbol, refundErr)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := e.store.DebitDebt(account, repaySymbol, halfDebt); err != nil {
		return err
	}
	if err := e.store.CreditLiquidity(repaySymbol, halfDebt); err != nil {
		return err
	}
	if err := e.store.DebitCollateral(account, rewardSymbol, rewardAmount); err != nil {
		return err
	}
	if err := e.store.DebitLiquidity(rewardSymbol, rewardAmount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingLiquidate{
		Liquidator:    liquidator,
		Account:       account,
		RepayAsset:    repaySymbol,
		RewardAsset:   rewardSymbol,
		HalfDebtValue: halfDebtValue,
	})
	return nil
}

// Position returns the account's collateral and debt rows across every
// registered asset. Zero rows are included so callers see the full shape of
// the registry.
func (e *Engine) Position(account crypto.Address) (Position, error) {
	pos := Position{
		Account:    account,
		Collateral: make(map[string]*big.Int),
		Debt:       make(map[string]*big.Int),
	}
	for _, asset := range e.registry.ListAllowed() {
		collateral, err := e.store.CollateralBalance(account, asset)
		if err != nil {
			return Position{}, err
		}
		debt, err := e.store.DebtBalance(account, asset)
		if err != nil {
			return Position{}, err
		}
		pos.Collateral[asset] = collateral
		pos.Debt[asset] = debt
	}
	return pos, nil
}

// HealthFactor evaluates the account's current health factor against live
// prices.
func (e *Engine) HealthFactor(account crypto.Address) (*big.Int, error) {
	return e.risk.HealthFactor(e.store, account)
}

// CollateralValue sums the account's collateral in the unit of account.
func (e *Engine) CollateralValue(account crypto.Address) (*big.Int, error) {
	return e.risk.TotalCollateralValue(e.store, account)
}

// BorrowedValue sums the account's debt in the unit of account.
func (e *Engine) BorrowedValue(account crypto.Address) (*big.Int, error) {
	return e.risk.TotalBorrowedValue(e.store, account)
}

// PoolLiquidity reports the pool's free custody of the asset.
func (e *Engine) PoolLiquidity(asset string) (*big.Int, error) {
	return e.store.PoolLiquidity(asset)
}
