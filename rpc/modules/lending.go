package modules

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"lendpool/core/events"
	"lendpool/crypto"
	"lendpool/native/common"
	"lendpool/native/lending"
	"lendpool/observability"
)

// LendingModule adapts the lending engine to the JSON-RPC surface. It maps
// domain errors onto HTTP statuses and records per-method metrics.
type LendingModule struct {
	engine   *lending.Engine
	registry *lending.Registry
	journal  *events.Journal
}

// NewLendingModule wires the module to its collaborators. The journal may be
// nil when no event log is configured; lend_recentEvents then reports an
// error instead of an empty list.
func NewLendingModule(engine *lending.Engine, registry *lending.Registry, journal *events.Journal) *LendingModule {
	return &LendingModule{engine: engine, registry: registry, journal: journal}
}

func (m *LendingModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "lending module not available"}
}

func (m *LendingModule) observe(method string, start time.Time, err *ModuleError) {
	status := http.StatusOK
	if err != nil {
		status = err.HTTPStatus
	}
	observability.ModuleMetrics().Observe("lend", method, status, time.Since(start))
}

// Deposit posts collateral for the account.
func (m *LendingModule) Deposit(account crypto.Address, asset string, amount *big.Int) *ModuleError {
	return m.mutate("deposit", func() error {
		return m.engine.Deposit(account, asset, amount)
	})
}

// Withdraw releases collateral back to the account.
func (m *LendingModule) Withdraw(account crypto.Address, asset string, amount *big.Int) *ModuleError {
	return m.mutate("withdraw", func() error {
		return m.engine.Withdraw(account, asset, amount)
	})
}

// Borrow draws pool funds against the account's collateral.
func (m *LendingModule) Borrow(account crypto.Address, asset string, amount *big.Int) *ModuleError {
	return m.mutate("borrow", func() error {
		return m.engine.Borrow(account, asset, amount)
	})
}

// Repay settles up to amount of the account's outstanding debt.
func (m *LendingModule) Repay(account crypto.Address, asset string, amount *big.Int) *ModuleError {
	return m.mutate("repay", func() error {
		return m.engine.Repay(account, asset, amount)
	})
}

// Liquidate runs a half-debt liquidation against an insolvent account.
func (m *LendingModule) Liquidate(liquidator, account crypto.Address, repayAsset, rewardAsset string) *ModuleError {
	return m.mutate("liquidate", func() error {
		err := m.engine.Liquidate(liquidator, account, repayAsset, rewardAsset)
		if err == nil {
			observability.Engine().RecordLiquidation()
		}
		return err
	})
}

func (m *LendingModule) mutate(method string, fn func() error) *ModuleError {
	start := time.Now()
	if m == nil || m.engine == nil {
		return m.moduleUnavailable()
	}
	err := fn()
	observability.Engine().RecordOperation(method, err)
	moduleErr := m.wrapError(err)
	m.observe(method, start, moduleErr)
	return moduleErr
}

// PositionResult is the wire form of an account position.
type PositionResult struct {
	Address         string            `json:"address"`
	Collateral      map[string]string `json:"collateral"`
	Debt            map[string]string `json:"debt"`
	CollateralValue string            `json:"collateralValue"`
	BorrowedValue   string            `json:"borrowedValue"`
	HealthFactor    string            `json:"healthFactor"`
}

// GetPosition returns the account's balances, valuations, and health factor.
func (m *LendingModule) GetPosition(account crypto.Address) (*PositionResult, *ModuleError) {
	start := time.Now()
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	pos, err := m.engine.Position(account)
	if err != nil {
		moduleErr := m.wrapError(err)
		m.observe("getPosition", start, moduleErr)
		return nil, moduleErr
	}
	collateralValue, err := m.engine.CollateralValue(account)
	if err != nil {
		moduleErr := m.wrapError(err)
		m.observe("getPosition", start, moduleErr)
		return nil, moduleErr
	}
	borrowedValue, err := m.engine.BorrowedValue(account)
	if err != nil {
		moduleErr := m.wrapError(err)
		m.observe("getPosition", start, moduleErr)
		return nil, moduleErr
	}
	factor, err := m.engine.HealthFactor(account)
	if err != nil {
		moduleErr := m.wrapError(err)
		m.observe("getPosition", start, moduleErr)
		return nil, moduleErr
	}
	result := &PositionResult{
		Address:         account.String(),
		Collateral:      make(map[string]string, len(pos.Collateral)),
		Debt:            make(map[string]string, len(pos.Debt)),
		CollateralValue: collateralValue.String(),
		BorrowedValue:   borrowedValue.String(),
		HealthFactor:    factor.String(),
	}
	for asset, amount := range pos.Collateral {
		result.Collateral[asset] = amount.String()
	}
	for asset, amount := range pos.Debt {
		result.Debt[asset] = amount.String()
	}
	m.observe("getPosition", start, nil)
	return result, nil
}

// GetHealthFactor evaluates the account's health factor against live prices.
func (m *LendingModule) GetHealthFactor(account crypto.Address) (string, *ModuleError) {
	start := time.Now()
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	factor, err := m.engine.HealthFactor(account)
	moduleErr := m.wrapError(err)
	m.observe("getHealthFactor", start, moduleErr)
	if moduleErr != nil {
		return "", moduleErr
	}
	return factor.String(), nil
}

// AssetResult pairs an asset symbol with its registered price feed.
type AssetResult struct {
	Symbol    string `json:"symbol"`
	PriceFeed string `json:"priceFeed"`
	Liquidity string `json:"liquidity"`
}

// ListAssets returns the registered assets with their feeds and free pool
// liquidity.
func (m *LendingModule) ListAssets() ([]AssetResult, *ModuleError) {
	start := time.Now()
	if m == nil || m.registry == nil {
		return nil, m.moduleUnavailable()
	}
	symbols := m.registry.ListAllowed()
	out := make([]AssetResult, 0, len(symbols))
	for _, symbol := range symbols {
		feed, _ := m.registry.PriceFeed(symbol)
		liquidity, err := m.engine.PoolLiquidity(symbol)
		if err != nil {
			moduleErr := m.wrapError(err)
			m.observe("listAssets", start, moduleErr)
			return nil, moduleErr
		}
		observability.Engine().RecordPoolLiquidity(symbol, liquidity)
		out = append(out, AssetResult{Symbol: symbol, PriceFeed: feed, Liquidity: liquidity.String()})
	}
	m.observe("listAssets", start, nil)
	return out, nil
}

// SetAllowedAsset registers an asset symbol against a price feed.
func (m *LendingModule) SetAllowedAsset(asset, priceFeed string) *ModuleError {
	start := time.Now()
	if m == nil || m.registry == nil {
		return m.moduleUnavailable()
	}
	err := m.registry.SetAllowedAsset(asset, priceFeed)
	moduleErr := m.wrapError(err)
	m.observe("setAllowedAsset", start, moduleErr)
	return moduleErr
}

// RecentEvents returns up to limit journal entries, newest first.
func (m *LendingModule) RecentEvents(limit int) ([]events.StoredEvent, *ModuleError) {
	start := time.Now()
	if m == nil || m.journal == nil {
		return nil, &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: "event journal not configured"}
	}
	entries, err := m.journal.Recent(limit)
	moduleErr := m.wrapError(err)
	m.observe("recentEvents", start, moduleErr)
	if moduleErr != nil {
		return nil, moduleErr
	}
	return entries, nil
}

func (m *LendingModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, lending.ErrAssetNotAllowed),
		errors.Is(err, lending.ErrZeroAmount),
		errors.Is(err, lending.ErrNoOutstandingDebt),
		errors.Is(err, lending.ErrZeroRepayValue):
		status = http.StatusBadRequest
		code = codeInvalidParams
	case errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientPoolLiquidity),
		errors.Is(err, lending.ErrInsolvent),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, lending.ErrTransferFailed):
		status = http.StatusUnprocessableEntity
		code = codeServerError
	case errors.Is(err, lending.ErrReentrant),
		errors.Is(err, common.ErrModulePaused):
		status = http.StatusConflict
		code = codeServerError
	case errors.Is(err, lending.ErrInvalidPrice),
		errors.Is(err, lending.ErrOracleUnavailable):
		status = http.StatusServiceUnavailable
		code = codeServerError
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: err.Error()}
}
