package nft

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stablemarket/core/state"
	"stablemarket/storage"
)

var (
	asset  = common.HexToAddress("0xa1")
	alice  = common.HexToAddress("0x0a")
	bob    = common.HexToAddress("0x0b")
	market = common.HexToAddress("0xee")
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(state.NewManager(storage.NewMemDB()))
	if err := r.Mint(asset, big.NewInt(1), alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return r
}

func TestMint(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Mint(asset, big.NewInt(1), bob); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
	owner, err := r.OwnerOf(asset, big.NewInt(1))
	if err != nil || owner != alice {
		t.Fatalf("owner %s err %v", owner.Hex(), err)
	}
	if _, err := r.OwnerOf(asset, big.NewInt(2)); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestTransferRequiresApproval(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.TransferFrom(bob, alice, bob, asset, big.NewInt(1)); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
	if err := r.Approve(bob, asset, big.NewInt(1), bob); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-holder approve: %v", err)
	}
	if err := r.Approve(alice, asset, big.NewInt(1), bob); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved, _ := r.GetApproved(asset, big.NewInt(1)); approved != bob {
		t.Fatalf("approved %s", approved.Hex())
	}
	if err := r.TransferFrom(bob, alice, bob, asset, big.NewInt(1)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if approved, _ := r.GetApproved(asset, big.NewInt(1)); approved != (common.Address{}) {
		t.Fatalf("approval not cleared: %s", approved.Hex())
	}
	if err := r.TransferFrom(alice, alice, bob, asset, big.NewInt(1)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestCustodian(t *testing.T) {
	r := newTestRegistry(t)
	c := NewCustodian(r, market)
	ctx := context.Background()

	if err := c.TakeCustody(ctx, asset, big.NewInt(1), alice); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("custody without approval: %v", err)
	}
	if err := r.Approve(alice, asset, big.NewInt(1), market); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := c.TakeCustody(ctx, asset, big.NewInt(1), bob); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("custody from non-holder: %v", err)
	}
	if err := c.TakeCustody(ctx, asset, big.NewInt(1), alice); err != nil {
		t.Fatalf("take custody: %v", err)
	}
	if owner, _ := r.OwnerOf(asset, big.NewInt(1)); owner != market {
		t.Fatalf("holder %s", owner.Hex())
	}
	if err := c.ReleaseCustody(ctx, asset, big.NewInt(1), bob); err != nil {
		t.Fatalf("release: %v", err)
	}
	if owner, _ := r.OwnerOf(asset, big.NewInt(1)); owner != bob {
		t.Fatalf("holder %s", owner.Hex())
	}
	if err := c.ReleaseCustody(ctx, asset, big.NewInt(1), alice); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("release without custody: %v", err)
	}
}
