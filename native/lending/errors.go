package lending

import "errors"

var (
	// ErrAssetNotAllowed rejects operations referencing an asset with no
	// registered price feed.
	ErrAssetNotAllowed = errors.New("lending engine: asset not allowed")
	// ErrZeroAmount rejects nil, zero, or negative amounts.
	ErrZeroAmount = errors.New("lending engine: amount must be positive")
	// ErrInsufficientBalance rejects a decrease past the current balance.
	ErrInsufficientBalance = errors.New("lending engine: insufficient balance")
	// ErrInsufficientPoolLiquidity rejects outflows the pool's free custody
	// cannot cover.
	ErrInsufficientPoolLiquidity = errors.New("lending engine: insufficient pool liquidity")
	// ErrInsolvent rejects a mutation that would leave the account's health
	// factor below the minimum.
	ErrInsolvent = errors.New("lending engine: health factor below minimum")
	// ErrNotLiquidatable rejects liquidation of a healthy account.
	ErrNotLiquidatable = errors.New("lending engine: account not eligible for liquidation")
	// ErrZeroRepayValue rejects a liquidation whose half-debt values to zero.
	ErrZeroRepayValue = errors.New("lending engine: repay value rounds to zero")
	// ErrNoOutstandingDebt rejects a repay against a zero borrow balance.
	ErrNoOutstandingDebt = errors.New("lending engine: no outstanding debt to repay")
	// ErrInvalidPrice rejects non-positive oracle prices.
	ErrInvalidPrice = errors.New("lending engine: oracle price must be positive")
	// ErrOracleUnavailable signals that no usable quote could be obtained.
	ErrOracleUnavailable = errors.New("lending engine: oracle price unavailable")
	// ErrTransferFailed signals that the asset transfer service reported a
	// failure; the operation aborts with no ledger mutation.
	ErrTransferFailed = errors.New("lending engine: asset transfer failed")
	// ErrReentrant rejects a nested or concurrent mutating call while another
	// is in flight.
	ErrReentrant = errors.New("lending engine: reentrant call rejected")
)
