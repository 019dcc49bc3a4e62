package lending

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"lendpool/crypto"
	"lendpool/storage"
)

// BalanceView is the read surface the risk engine computes over. It is
// satisfied by the Store and by projection overlays that pre-apply a pending
// mutation before the solvency check.
type BalanceView interface {
	CollateralBalance(account crypto.Address, asset string) (*big.Int, error)
	DebtBalance(account crypto.Address, asset string) (*big.Int, error)
}

// Store holds per-account collateral and debt balances plus the per-asset
// free-custody counter, all keyed into the backing database. Balances are
// non-negative by construction: every debit validates before writing and
// never clamps or saturates.
type Store struct {
	db storage.Database
}

// NewStore wires the ledger store to its persistence layer.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func accountKey(account crypto.Address) string {
	return hex.EncodeToString(account.Bytes())
}

func collateralKey(account crypto.Address, asset string) []byte {
	return []byte("lend/collateral/" + accountKey(account) + "/" + NormalizeAsset(asset))
}

func debtKey(account crypto.Address, asset string) []byte {
	return []byte("lend/debt/" + accountKey(account) + "/" + NormalizeAsset(asset))
}

func liquidityKey(asset string) []byte {
	return []byte("lend/liquidity/" + NormalizeAsset(asset))
}

func (s *Store) getAmount(key []byte) (*big.Int, error) {
	raw, err := s.db.Get(key)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return big.NewInt(0), nil
	case err != nil:
		return nil, fmt.Errorf("lending store: read %s: %w", key, err)
	}
	return new(big.Int).SetBytes(raw), nil
}

func (s *Store) setAmount(key []byte, amount *big.Int) error {
	if err := s.db.Put(key, amount.Bytes()); err != nil {
		return fmt.Errorf("lending store: write %s: %w", key, err)
	}
	return nil
}

// CollateralBalance returns the amount of asset the account has posted as
// collateral. Absent rows read as zero; rows persist at zero once drained.
func (s *Store) CollateralBalance(account crypto.Address, asset string) (*big.Int, error) {
	return s.getAmount(collateralKey(account, asset))
}

// DebtBalance returns the amount of asset the account owes the pool.
func (s *Store) DebtBalance(account crypto.Address, asset string) (*big.Int, error) {
	return s.getAmount(debtKey(account, asset))
}

// PoolLiquidity returns the pool's free custody of the asset: deposits plus
// repayments minus outstanding borrows, withdrawals, and liquidation rewards.
func (s *Store) PoolLiquidity(asset string) (*big.Int, error) {
	return s.getAmount(liquidityKey(asset))
}

func (s *Store) credit(key []byte, amount *big.Int) error {
	current, err := s.getAmount(key)
	if err != nil {
		return err
	}
	return s.setAmount(key, new(big.Int).Add(current, amount))
}

func (s *Store) debit(key []byte, amount *big.Int, underflow error) error {
	current, err := s.getAmount(key)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return underflow
	}
	return s.setAmount(key, new(big.Int).Sub(current, amount))
}

// CreditCollateral increases the account's collateral row for the asset.
func (s *Store) CreditCollateral(account crypto.Address, asset string, amount *big.Int) error {
	return s.credit(collateralKey(account, asset), amount)
}

// DebitCollateral decreases the account's collateral row for the asset,
// failing with ErrInsufficientBalance on underflow.
func (s *Store) DebitCollateral(account crypto.Address, asset string, amount *big.Int) error {
	return s.debit(collateralKey(account, asset), amount, ErrInsufficientBalance)
}

// CreditDebt increases the account's debt row for the asset.
func (s *Store) CreditDebt(account crypto.Address, asset string, amount *big.Int) error {
	return s.credit(debtKey(account, asset), amount)
}

// DebitDebt decreases the account's debt row for the asset, failing with
// ErrInsufficientBalance on underflow.
func (s *Store) DebitDebt(account crypto.Address, asset string, amount *big.Int) error {
	return s.debit(debtKey(account, asset), amount, ErrInsufficientBalance)
}

// CreditLiquidity increases the pool's free custody counter for the asset.
func (s *Store) CreditLiquidity(asset string, amount *big.Int) error {
	return s.credit(liquidityKey(asset), amount)
}

// DebitLiquidity decreases the pool's free custody counter for the asset,
// failing with ErrInsufficientPoolLiquidity on underflow.
func (s *Store) DebitLiquidity(asset string, amount *big.Int) error {
	return s.debit(liquidityKey(asset), amount, ErrInsufficientPoolLiquidity)
}

// balanceOverlay projects a pending mutation over the committed store so the
// risk engine can evaluate the health factor of the post-mutation state
// before anything is written.
type balanceOverlay struct {
	base       BalanceView
	collateral map[string]*big.Int
	debt       map[string]*big.Int
}

func newOverlay(base BalanceView) *balanceOverlay {
	return &balanceOverlay{
		base:       base,
		collateral: make(map[string]*big.Int),
		debt:       make(map[string]*big.Int),
	}
}

func overlayKey(account crypto.Address, asset string) string {
	return accountKey(account) + "/" + NormalizeAsset(asset)
}

func (o *balanceOverlay) setCollateral(account crypto.Address, asset string, amount *big.Int) {
	o.collateral[overlayKey(account, asset)] = new(big.Int).Set(amount)
}

func (o *balanceOverlay) setDebt(account crypto.Address, asset string, amount *big.Int) {
	o.debt[overlayKey(account, asset)] = new(big.Int).Set(amount)
}

func (o *balanceOverlay) CollateralBalance(account crypto.Address, asset string) (*big.Int, error) {
	if amount, ok := o.collateral[overlayKey(account, asset)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return o.base.CollateralBalance(account, asset)
}

func (o *balanceOverlay) DebtBalance(account crypto.Address, asset string) (*big.Int, error) {
	if amount, ok := o.debt[overlayKey(account, asset)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return o.base.DebtBalance(account, asset)
}
