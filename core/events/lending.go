package events

import (
	"math/big"

	"lendpool/core/types"
	"lendpool/crypto"
)

const (
	// TypeLendingDeposit is emitted when collateral enters pool custody.
	TypeLendingDeposit = "lending.deposit"
	// TypeLendingWithdraw is emitted when collateral is released to the owner.
	TypeLendingWithdraw = "lending.withdraw"
	// TypeLendingBorrow is emitted when the pool extends credit to an account.
	TypeLendingBorrow = "lending.borrow"
	// TypeLendingRepay is emitted when outstanding debt is reduced.
	TypeLendingRepay = "lending.repay"
	// TypeLendingLiquidate is emitted after a successful liquidation round.
	TypeLendingLiquidate = "lending.liquidate"
	// TypeLendingAssetAllowed is emitted when the registry binds an asset to a
	// price feed.
	TypeLendingAssetAllowed = "lending.asset_allowed"
)

type LendingDeposit struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
}

func (LendingDeposit) EventType() string { return TypeLendingDeposit }

func (e LendingDeposit) Event() *types.Event {
	return &types.Event{Type: TypeLendingDeposit, Attributes: map[string]string{
		"account": e.Account.String(),
		"asset":   normalizeAsset(e.Asset),
		"amount":  formatAmount(e.Amount),
	}}
}

type LendingWithdraw struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
}

func (LendingWithdraw) EventType() string { return TypeLendingWithdraw }

func (e LendingWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeLendingWithdraw, Attributes: map[string]string{
		"account": e.Account.String(),
		"asset":   normalizeAsset(e.Asset),
		"amount":  formatAmount(e.Amount),
	}}
}

type LendingBorrow struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Event() *types.Event {
	return &types.Event{Type: TypeLendingBorrow, Attributes: map[string]string{
		"account": e.Account.String(),
		"asset":   normalizeAsset(e.Asset),
		"amount":  formatAmount(e.Amount),
	}}
}

type LendingRepay struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
}

func (LendingRepay) EventType() string { return TypeLendingRepay }

func (e LendingRepay) Event() *types.Event {
	return &types.Event{Type: TypeLendingRepay, Attributes: map[string]string{
		"account": e.Account.String(),
		"asset":   normalizeAsset(e.Asset),
		"amount":  formatAmount(e.Amount),
	}}
}

// LendingLiquidate records the half-debt value in the unit of account as it
// was computed before any balances moved.
type LendingLiquidate struct {
	Liquidator    crypto.Address
	Account       crypto.Address
	RepayAsset    string
	RewardAsset   string
	HalfDebtValue *big.Int
}

func (LendingLiquidate) EventType() string { return TypeLendingLiquidate }

func (e LendingLiquidate) Event() *types.Event {
	return &types.Event{Type: TypeLendingLiquidate, Attributes: map[string]string{
		"liquidator":    e.Liquidator.String(),
		"account":       e.Account.String(),
		"repayAsset":    normalizeAsset(e.RepayAsset),
		"rewardAsset":   normalizeAsset(e.RewardAsset),
		"halfDebtValue": formatAmount(e.HalfDebtValue),
	}}
}

type LendingAssetAllowed struct {
	Asset     string
	PriceFeed string
}

func (LendingAssetAllowed) EventType() string { return TypeLendingAssetAllowed }

func (e LendingAssetAllowed) Event() *types.Event {
	return &types.Event{Type: TypeLendingAssetAllowed, Attributes: map[string]string{
		"asset":     normalizeAsset(e.Asset),
		"priceFeed": e.PriceFeed,
	}}
}
