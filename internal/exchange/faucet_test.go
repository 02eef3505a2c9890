package exchange_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/exchange"
	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/registry"
	"github.com/atmx/wager-engine/internal/store"
)

// transferOnly hides the in-memory ledger's Mint method.
type transferOnly struct{ ledger.Ledger }

func TestFaucet_MintsForOperator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	before := env.ledger.TotalSupply()

	bal, err := env.engine.Faucet(ctx, operator, alice, d("250"))
	if err != nil {
		t.Fatalf("faucet: %v", err)
	}
	if !bal.Equal(d("10250")) {
		t.Errorf("balance = %s, want 10250", bal)
	}
	if got := env.ledger.TotalSupply().Sub(before); !got.Equal(d("250")) {
		t.Errorf("supply grew by %s, want 250", got)
	}
	if n := len(env.pub.types()); n != 0 {
		t.Errorf("faucet published %d events, want 0", n)
	}
}

func TestFaucet_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		caller common.Address
		to     common.Address
		amount decimal.Decimal
		want   *exchange.Error
	}{
		{"not operator", alice, alice, d("1"), exchange.ErrNotOperator},
		{"zero recipient", operator, common.Address{}, d("1"), exchange.ErrInvalidAddress},
		{"zero amount", operator, bob, decimal.Zero, exchange.ErrInvalidAmount},
		{"negative amount", operator, bob, d("-3"), exchange.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.engine.Faucet(ctx, tc.caller, tc.to, tc.amount); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if !env.balance(t, bob).Equal(d("10000")) {
		t.Errorf("bob balance changed: %s", env.balance(t, bob))
	}
}

func TestFaucet_LedgerWithoutMint(t *testing.T) {
	env := newTestEnvWith(t, func(env *testEnv) (store.Store, ledger.Ledger, registry.Registry) {
		return env.store, transferOnly{env.ledger}, env.reg
	})
	_, err := env.engine.Faucet(context.Background(), operator, alice, d("1"))
	if !errors.Is(err, exchange.ErrNoMinter) {
		t.Fatalf("err = %v, want ErrNoMinter", err)
	}
}
