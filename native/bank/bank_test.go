package bank

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stablemarket/core/state"
	"stablemarket/storage"
)

func newTestLedger() *Ledger {
	return NewLedger(state.NewManager(storage.NewMemDB()))
}

func TestTransfer(t *testing.T) {
	ledger := newTestLedger()
	alice := common.HexToAddress("0x0a")
	bob := common.HexToAddress("0x0b")

	if err := ledger.Credit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := ledger.Balance(alice); bal.Int64() != 60 {
		t.Fatalf("alice balance %s", bal)
	}
	if bal, _ := ledger.Balance(bob); bal.Int64() != 40 {
		t.Fatalf("bob balance %s", bal)
	}
	if err := ledger.Transfer(bob, alice, big.NewInt(41)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer(bob, alice, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.Transfer(alice, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("self transfer should be a no-op: %v", err)
	}
}

func TestVault(t *testing.T) {
	ledger := newTestLedger()
	vaultAddr := common.HexToAddress("0xee")
	buyer := common.HexToAddress("0x0b")
	owner := common.HexToAddress("0x01")
	vault := NewVault(ledger, vaultAddr)

	if err := ledger.Credit(buyer, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := vault.Collect(context.Background(), buyer, big.NewInt(7)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := vault.Payout(context.Background(), owner, big.NewInt(8)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected overdraw failure, got %v", err)
	}
	if err := vault.Payout(context.Background(), owner, big.NewInt(7)); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if bal, _ := ledger.Balance(owner); bal.Int64() != 7 {
		t.Fatalf("owner balance %s", bal)
	}
	if bal, _ := ledger.Balance(vaultAddr); bal.Sign() != 0 {
		t.Fatalf("vault balance %s", bal)
	}
}

func TestVaultRejectsSelfCollect(t *testing.T) {
	ledger := newTestLedger()
	vaultAddr := common.HexToAddress("0xee")
	vault := NewVault(ledger, vaultAddr)
	if err := ledger.Credit(vaultAddr, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := vault.Collect(context.Background(), vaultAddr, big.NewInt(5)); !errors.Is(err, ErrSelfCollect) {
		t.Fatalf("expected ErrSelfCollect, got %v", err)
	}
	if bal, _ := ledger.Balance(vaultAddr); bal.Int64() != 5 {
		t.Fatalf("vault balance changed: %s", bal)
	}
}
