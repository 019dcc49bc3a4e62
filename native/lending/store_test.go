package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendpool/storage"
)

func TestStoreBalancesDefaultToZero(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	account := testAddr(0x01)

	collateral, err := store.CollateralBalance(account, "AAA")
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if collateral.Sign() != 0 {
		t.Fatalf("fresh collateral = %s, want 0", collateral)
	}
	debt, err := store.DebtBalance(account, "AAA")
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("fresh debt = %s, want 0", debt)
	}
	liquidity, err := store.PoolLiquidity("AAA")
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liquidity.Sign() != 0 {
		t.Fatalf("fresh liquidity = %s, want 0", liquidity)
	}
}

func TestStoreDebitNeverClamps(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	account := testAddr(0x01)

	if err := store.CreditCollateral(account, "AAA", big.NewInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.DebitCollateral(account, "AAA", big.NewInt(51)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	balance, err := store.CollateralBalance(account, "AAA")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("balance mutated on failed debit: %s", balance)
	}

	if err := store.DebitLiquidity("AAA", big.NewInt(1)); !errors.Is(err, ErrInsufficientPoolLiquidity) {
		t.Fatalf("expected ErrInsufficientPoolLiquidity, got %v", err)
	}
}

func TestStoreKeysIsolatePerAccountAndAsset(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	if err := store.CreditCollateral(alice, "AAA", big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.CreditCollateral(alice, "BBB", big.NewInt(20)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.CreditDebt(alice, "AAA", big.NewInt(5)); err != nil {
		t.Fatalf("credit debt: %v", err)
	}

	for _, tc := range []struct {
		name string
		got  func() (*big.Int, error)
		want int64
	}{
		{"alice AAA collateral", func() (*big.Int, error) { return store.CollateralBalance(alice, "AAA") }, 10},
		{"alice BBB collateral", func() (*big.Int, error) { return store.CollateralBalance(alice, "BBB") }, 20},
		{"alice AAA debt", func() (*big.Int, error) { return store.DebtBalance(alice, "AAA") }, 5},
		{"bob AAA collateral", func() (*big.Int, error) { return store.CollateralBalance(bob, "AAA") }, 0},
		{"bob AAA debt", func() (*big.Int, error) { return store.DebtBalance(bob, "AAA") }, 0},
	} {
		balance, err := tc.got()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if balance.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("%s = %s, want %d", tc.name, balance, tc.want)
		}
	}
}

func TestStoreAssetSymbolsAreCaseInsensitive(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	account := testAddr(0x01)

	if err := store.CreditCollateral(account, "aaa", big.NewInt(7)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err := store.CollateralBalance(account, " AAA ")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("normalised lookup = %s, want 7", balance)
	}
}

func TestOverlayProjectsWithoutWriting(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	account := testAddr(0x01)
	if err := store.CreditCollateral(account, "AAA", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	overlay := newOverlay(store)
	overlay.setCollateral(account, "AAA", big.NewInt(40))
	overlay.setDebt(account, "BBB", big.NewInt(9))

	projected, err := overlay.CollateralBalance(account, "AAA")
	if err != nil {
		t.Fatalf("overlay collateral: %v", err)
	}
	if projected.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("projected collateral = %s, want 40", projected)
	}
	debt, err := overlay.DebtBalance(account, "BBB")
	if err != nil {
		t.Fatalf("overlay debt: %v", err)
	}
	if debt.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("projected debt = %s, want 9", debt)
	}

	// Unset rows fall through to the base store, which is unchanged.
	base, err := store.CollateralBalance(account, "AAA")
	if err != nil {
		t.Fatalf("base collateral: %v", err)
	}
	if base.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("base mutated by overlay: %s", base)
	}
}
