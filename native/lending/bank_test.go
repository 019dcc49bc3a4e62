package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendpool/storage"
)

func TestBankPullAndPushMoveCustody(t *testing.T) {
	pool := testAddr(0xFF)
	bank := NewBank(storage.NewMemDB(), pool)
	alice := testAddr(0x01)

	if err := bank.Mint(alice, "AAA", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := bank.Pull("AAA", alice, big.NewInt(60)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	poolBalance, err := bank.Balance(pool, "AAA")
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if poolBalance.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("pool custody = %s, want 60", poolBalance)
	}
	if err := bank.Push("AAA", alice, big.NewInt(25)); err != nil {
		t.Fatalf("push: %v", err)
	}
	free, err := bank.Balance(alice, "AAA")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if free.Cmp(big.NewInt(65)) != 0 {
		t.Fatalf("balance = %s, want 65", free)
	}
}

func TestBankPullRejectsOverdraft(t *testing.T) {
	bank := NewBank(storage.NewMemDB(), testAddr(0xFF))
	alice := testAddr(0x01)

	if err := bank.Mint(alice, "AAA", big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := bank.Pull("AAA", alice, big.NewInt(11)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	free, err := bank.Balance(alice, "AAA")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if free.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance mutated on failed pull: %s", free)
	}
}

func TestBankMintRejectsNonPositive(t *testing.T) {
	bank := NewBank(storage.NewMemDB(), testAddr(0xFF))
	alice := testAddr(0x01)
	if err := bank.Mint(alice, "AAA", big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if err := bank.Mint(alice, "AAA", nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for nil, got %v", err)
	}
}
