package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/ledger"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTransfer_MovesBalance(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	if err := l.Mint(ctx, alice, d("100")); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := l.Transfer(ctx, alice, bob, d("30.5")); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	a, _ := l.BalanceOf(ctx, alice)
	b, _ := l.BalanceOf(ctx, bob)
	if !a.Equal(d("69.5")) {
		t.Errorf("alice balance = %s, want 69.5", a)
	}
	if !b.Equal(d("30.5")) {
		t.Errorf("bob balance = %s, want 30.5", b)
	}
	if !l.Sum().Equal(l.TotalSupply()) {
		t.Errorf("sum %s != supply %s", l.Sum(), l.TotalSupply())
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	_ = l.Mint(ctx, alice, d("10"))

	err := l.Transfer(ctx, alice, bob, d("10.01"))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	a, _ := l.BalanceOf(ctx, alice)
	if !a.Equal(d("10")) {
		t.Errorf("alice balance changed to %s", a)
	}
}

func TestTransfer_RejectsNegativeAndZeroRecipient(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	_ = l.Mint(ctx, alice, d("10"))

	if err := l.Transfer(ctx, alice, bob, d("-1")); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("negative amount: got %v", err)
	}
	if err := l.Transfer(ctx, alice, common.Address{}, d("1")); !errors.Is(err, ledger.ErrInvalidHolder) {
		t.Errorf("zero recipient: got %v", err)
	}
}

func TestTransfer_SelfIsNoop(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	_ = l.Mint(ctx, alice, d("5"))

	if err := l.Transfer(ctx, alice, alice, d("5")); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	a, _ := l.BalanceOf(ctx, alice)
	if !a.Equal(d("5")) {
		t.Errorf("alice balance = %s, want 5", a)
	}
}

func TestBalanceOf_UnknownHolderIsZero(t *testing.T) {
	l := ledger.NewMemoryLedger()
	b, err := l.BalanceOf(context.Background(), bob)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !b.IsZero() {
		t.Errorf("balance = %s, want 0", b)
	}
}
