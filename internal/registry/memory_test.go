package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/wager-engine/internal/registry"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	escrow = common.HexToAddress("0x000000000000000000000000000000000000e5c0")
)

func TestMint_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	if err := r.Mint(ctx, 0, alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := r.Mint(ctx, 0, bob); !errors.Is(err, registry.ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
	owner, _ := r.OwnerOf(ctx, 0)
	if owner != alice {
		t.Errorf("owner = %s, want alice", owner.Hex())
	}
}

func TestTransferFrom_RequiresApproval(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	_ = r.Mint(ctx, 7, alice)

	if err := r.TransferFrom(ctx, 7, alice, bob, escrow); !errors.Is(err, registry.ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}

	if err := r.Approve(ctx, 7, alice, escrow); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := r.TransferFrom(ctx, 7, alice, bob, escrow); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	owner, _ := r.OwnerOf(ctx, 7)
	if owner != bob {
		t.Errorf("owner = %s, want bob", owner.Hex())
	}
	approved, _ := r.GetApproved(ctx, 7)
	if approved != (common.Address{}) {
		t.Errorf("approval should be cleared after transfer, got %s", approved.Hex())
	}
}

func TestTransferFrom_OwnerMayMove(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	_ = r.Mint(ctx, 1, alice)

	if err := r.TransferFrom(ctx, 1, alice, bob, alice); err != nil {
		t.Fatalf("owner transfer: %v", err)
	}
	if err := r.TransferFrom(ctx, 1, alice, bob, alice); !errors.Is(err, registry.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for stale from, got %v", err)
	}
}

func TestApprove_OnlyOwner(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	_ = r.Mint(ctx, 3, alice)

	if err := r.Approve(ctx, 3, bob, escrow); !errors.Is(err, registry.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := r.Approve(ctx, 99, alice, escrow); !errors.Is(err, registry.ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestBurn_RemovesToken(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	_ = r.Mint(ctx, 4, alice)
	_ = r.Approve(ctx, 4, alice, escrow)

	if err := r.Burn(ctx, 4); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if _, err := r.OwnerOf(ctx, 4); !errors.Is(err, registry.ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken after burn, got %v", err)
	}
}

func TestTokensOf_Sorted(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemoryRegistry()
	for _, id := range []uint64{5, 2, 9} {
		_ = r.Mint(ctx, id, alice)
	}
	_ = r.Mint(ctx, 3, bob)

	ids, err := r.TokensOf(ctx, alice)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	want := []uint64{2, 5, 9}
	if len(ids) != len(want) {
		t.Fatalf("tokens = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", ids, want)
		}
	}
}
