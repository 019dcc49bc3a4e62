package lending

import (
	"fmt"
	"math/big"

	"lendpool/crypto"
	"lendpool/native/oracle"
)

var (
	// scale is the fixed-point unit shared with oracle prices (1e18).
	scale = big.NewInt(1_000_000_000_000_000_000)
	// minHealthFactor is the solvency floor: 1.0 in fixed point.
	minHealthFactor = new(big.Int).Set(scale)
	// healthFactorCeiling is the sentinel for debt-free accounts: 100.0 in
	// fixed point. Downstream checks rely on this exact value.
	healthFactorCeiling = new(big.Int).Mul(big.NewInt(100), scale)

	oneHundred = big.NewInt(100)
)

const (
	defaultLiquidationThresholdPct = 80
	defaultLiquidationBonusPct     = 5
)

// MinHealthFactor returns a copy of the solvency floor in fixed point.
func MinHealthFactor() *big.Int {
	return new(big.Int).Set(minHealthFactor)
}

// MaxHealthFactor returns a copy of the debt-free sentinel in fixed point.
func MaxHealthFactor() *big.Int {
	return new(big.Int).Set(healthFactorCeiling)
}

// RiskEngine computes aggregate collateral value, aggregate borrowed value,
// and the health factor. All operations are read-only and safe to call
// concurrently; nothing is cached, so a price movement is reflected by the
// very next call.
type RiskEngine struct {
	registry *Registry
	prices   oracle.Source
	params   RiskParameters
}

// NewRiskEngine constructs a risk engine over the registry and price source.
func NewRiskEngine(registry *Registry, prices oracle.Source, params RiskParameters) *RiskEngine {
	return &RiskEngine{registry: registry, prices: prices, params: params.Normalise()}
}

// Params returns the normalised risk parameters in force.
func (r *RiskEngine) Params() RiskParameters {
	return r.params
}

func (r *RiskEngine) latestPrice(asset string) (*big.Int, error) {
	feed, ok := r.registry.PriceFeed(asset)
	if !ok {
		return nil, ErrAssetNotAllowed
	}
	quote, err := r.prices.LatestPrice(feed)
	if err != nil {
		return nil, fmt.Errorf("%w: feed %s: %v", ErrOracleUnavailable, feed, err)
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s reported %s", ErrInvalidPrice, feed, quote.Price)
	}
	return quote.Price, nil
}

// AssetValue converts an asset amount into its value in the unit of account:
// price × amount / scale, floored.
func (r *RiskEngine) AssetValue(asset string, amount *big.Int) (*big.Int, error) {
	price, err := r.latestPrice(asset)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	value := new(big.Int).Mul(price, amount)
	return value.Quo(value, scale), nil
}

// AssetAmountFromValue is the inverse conversion: value × scale / price,
// floored. Together with AssetValue it round-trips within one base unit.
func (r *RiskEngine) AssetAmountFromValue(asset string, value *big.Int) (*big.Int, error) {
	price, err := r.latestPrice(asset)
	if err != nil {
		return nil, err
	}
	if value == nil || value.Sign() == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int).Mul(value, scale)
	return amount.Quo(amount, price), nil
}

// TotalCollateralValue sums the unit value of every registered asset's
// collateral row for the account. The full registry is iterated; zero rows
// contribute zero without consulting the oracle.
func (r *RiskEngine) TotalCollateralValue(view BalanceView, account crypto.Address) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range r.registry.ListAllowed() {
		balance, err := view.CollateralBalance(account, asset)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		value, err := r.AssetValue(asset, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// TotalBorrowedValue sums the unit value of every registered asset's debt row
// for the account.
func (r *RiskEngine) TotalBorrowedValue(view BalanceView, account crypto.Address) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range r.registry.ListAllowed() {
		balance, err := view.DebtBalance(account, asset)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		value, err := r.AssetValue(asset, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// HealthFactor computes (collateral × threshold / 100) × scale / borrowed in
// fixed point. An account with zero borrowed value reads as the maximal
// sentinel regardless of collateral, including zero collateral: no debt means
// healthy by definition, not a division guard.
func (r *RiskEngine) HealthFactor(view BalanceView, account crypto.Address) (*big.Int, error) {
	borrowed, err := r.TotalBorrowedValue(view, account)
	if err != nil {
		return nil, err
	}
	if borrowed.Sign() == 0 {
		return MaxHealthFactor(), nil
	}
	collateral, err := r.TotalCollateralValue(view, account)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(collateral, new(big.Int).SetUint64(r.params.LiquidationThresholdPct))
	adjusted.Quo(adjusted, oneHundred)
	factor := new(big.Int).Mul(adjusted, scale)
	return factor.Quo(factor, borrowed), nil
}
