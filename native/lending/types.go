package lending

import (
	"math/big"
	"strings"

	"lendpool/crypto"
)

// Position captures the full lending position for an individual account.
// Amounts are denominated in the asset's base unit and expressed as big
// integers to keep exact precision.
type Position struct {
	// Account is the unique account identifier within the pool.
	Account crypto.Address
	// Collateral maps asset symbols to the amount posted as collateral.
	Collateral map[string]*big.Int
	// Debt maps asset symbols to the amount owed to the pool.
	Debt map[string]*big.Int
}

// RiskParameters groups the safety limits governing lending activity.
type RiskParameters struct {
	// LiquidationThresholdPct is the share of collateral value counted toward
	// borrowing capacity, expressed in percent.
	LiquidationThresholdPct uint64
	// LiquidationBonusPct is the premium a liquidator receives on top of the
	// repaid debt value, expressed in percent.
	LiquidationBonusPct uint64
}

// Normalise applies the default thresholds where fields are unset.
func (p RiskParameters) Normalise() RiskParameters {
	out := p
	if out.LiquidationThresholdPct == 0 {
		out.LiquidationThresholdPct = defaultLiquidationThresholdPct
	}
	if out.LiquidationThresholdPct > 100 {
		out.LiquidationThresholdPct = 100
	}
	if out.LiquidationBonusPct == 0 {
		out.LiquidationBonusPct = defaultLiquidationBonusPct
	}
	return out
}

// ActionPauses exposes fine-grained switches for pausing individual lending
// flows. It implements the common.PauseView contract over dotted flow names.
type ActionPauses struct {
	Deposit   bool
	Withdraw  bool
	Borrow    bool
	Repay     bool
	Liquidate bool
}

// IsPaused reports whether the named flow is switched off.
func (p ActionPauses) IsPaused(flow string) bool {
	switch flow {
	case flowDeposit:
		return p.Deposit
	case flowWithdraw:
		return p.Withdraw
	case flowBorrow:
		return p.Borrow
	case flowRepay:
		return p.Repay
	case flowLiquidate:
		return p.Liquidate
	}
	return false
}

const (
	flowDeposit   = "lending.deposit"
	flowWithdraw  = "lending.withdraw"
	flowBorrow    = "lending.borrow"
	flowRepay     = "lending.repay"
	flowLiquidate = "lending.liquidate"
)

// NormalizeAsset canonicalises asset symbols for registry and ledger keys.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
