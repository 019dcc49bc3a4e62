package lending

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"lendpool/crypto"
	"lendpool/storage"
)

// ErrInsufficientFunds rejects a pull against a bank balance that cannot
// cover it.
var ErrInsufficientFunds = errors.New("lending bank: insufficient funds")

// Bank is the default TransferService: a persisted map of free balances per
// account and asset, with the pool itself holding custody under a dedicated
// address. Deployments that settle against an external asset layer swap in
// their own TransferService; the bank keeps the engine fully operational on
// its own.
type Bank struct {
	mu   sync.Mutex
	db   storage.Database
	pool crypto.Address
}

// NewBank wires the bank to its persistence layer. The pool address holds
// custody of everything pulled in.
func NewBank(db storage.Database, pool crypto.Address) *Bank {
	return &Bank{db: db, pool: pool}
}

// PoolAddress returns the custody address pulls settle into.
func (b *Bank) PoolAddress() crypto.Address {
	return b.pool
}

func bankKey(account crypto.Address, asset string) []byte {
	return []byte("bank/" + hex.EncodeToString(account.Bytes()) + "/" + NormalizeAsset(asset))
}

func (b *Bank) balance(account crypto.Address, asset string) (*big.Int, error) {
	raw, err := b.db.Get(bankKey(account, asset))
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return big.NewInt(0), nil
	case err != nil:
		return nil, fmt.Errorf("lending bank: read balance: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}

func (b *Bank) setBalance(account crypto.Address, asset string, amount *big.Int) error {
	if err := b.db.Put(bankKey(account, asset), amount.Bytes()); err != nil {
		return fmt.Errorf("lending bank: write balance: %w", err)
	}
	return nil
}

// Balance returns the account's free balance of the asset.
func (b *Bank) Balance(account crypto.Address, asset string) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance(account, asset)
}

// Mint credits freshly issued funds to the account. Used to seed balances in
// development and test deployments.
func (b *Bank) Mint(account crypto.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current, err := b.balance(account, asset)
	if err != nil {
		return err
	}
	return b.setBalance(account, asset, new(big.Int).Add(current, amount))
}

func (b *Bank) move(asset string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	source, err := b.balance(from, asset)
	if err != nil {
		return err
	}
	if source.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	dest, err := b.balance(to, asset)
	if err != nil {
		return err
	}
	if err := b.setBalance(from, asset, new(big.Int).Sub(source, amount)); err != nil {
		return err
	}
	if err := b.setBalance(to, asset, new(big.Int).Add(dest, amount)); err != nil {
		// Restore the debited side so a half-applied move never persists.
		if restoreErr := b.setBalance(from, asset, source); restoreErr != nil {
			return fmt.Errorf("lending bank: credit failed (%v) and restore failed: %w", err, restoreErr)
		}
		return err
	}
	return nil
}

// Pull draws funds from the account into pool custody.
func (b *Bank) Pull(asset string, from crypto.Address, amount *big.Int) error {
	return b.move(asset, from, b.pool, amount)
}

// Push releases pool custody to the account.
func (b *Bank) Push(asset string, to crypto.Address, amount *big.Int) error {
	return b.move(asset, b.pool, to, amount)
}
