package exchange_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/wager-engine/internal/exchange"
	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/registry"
	"github.com/atmx/wager-engine/internal/store"
)

func TestScenarioC_ResolveAndClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := threeWayProject(t, env)
	_, _ = env.engine.List(ctx, bob, 1, d("333"))
	if _, err := env.engine.BuyListed(ctx, alice, 1); err != nil {
		t.Fatalf("buy listed: %v", err)
	}

	if _, err := env.engine.Resolve(ctx, operator, p.ID, 2); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	before := env.balance(t, carol)
	claim, err := env.engine.Claim(ctx, carol, 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claim.Payout.Equal(d("900")) || claim.Winners != 1 {
		t.Errorf("claim = %+v", claim)
	}
	if !env.balance(t, carol).Equal(before.Add(d("900"))) {
		t.Errorf("carol = %s, want %s", env.balance(t, carol), before.Add(d("900")))
	}

	_, err = env.engine.Claim(ctx, alice, 0)
	if !errors.Is(err, exchange.ErrLosingTicket) {
		t.Errorf("losing claim: %v", err)
	}
	assertKind(t, err, exchange.KindNotWinner)

	// bob sold ticket 1 and no longer owns it.
	_, err = env.engine.Claim(ctx, bob, 1)
	assertKind(t, err, exchange.KindNotOwner)

	claimed, _ := env.engine.ClaimedStatus(ctx, 2)
	if !claimed {
		t.Error("claimed status false after claim")
	}
}

func TestClaim_ExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := threeWayProject(t, env)
	_, _ = env.engine.Resolve(ctx, operator, p.ID, 0)

	if _, err := env.engine.Claim(ctx, alice, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	after := env.balance(t, alice)

	_, err := env.engine.Claim(ctx, alice, 0)
	if !errors.Is(err, exchange.ErrTicketClaimed) {
		t.Fatalf("second claim: %v", err)
	}
	assertKind(t, err, exchange.KindAlreadyClaimed)
	if !env.balance(t, alice).Equal(after) {
		t.Error("second claim paid out")
	}
}

func TestClaim_BeforeResolve(t *testing.T) {
	env := newTestEnv(t)
	threeWayProject(t, env)

	_, err := env.engine.Claim(context.Background(), alice, 0)
	if !errors.Is(err, exchange.ErrNotResolved) {
		t.Fatalf("err = %v, want not resolved", err)
	}
	assertKind(t, err, exchange.KindStateConflict)
}

func TestClaim_UnknownTicket(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Claim(context.Background(), alice, 5)
	if !errors.Is(err, exchange.ErrTicketNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := env.engine.ClaimedStatus(context.Background(), 5); !errors.Is(err, exchange.ErrNotFound) {
		t.Fatalf("claimed status err = %v", err)
	}
}

func TestClaim_EqualSplitCountsAllWinningTickets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProject(t, "100")
	env.buy(t, alice, p.ID, 0, "1")
	env.buy(t, bob, p.ID, 0, "500") // stake size does not matter
	env.buy(t, carol, p.ID, 0, "2")
	env.buy(t, carol, p.ID, 1, "7")
	_, _ = env.engine.Resolve(ctx, operator, p.ID, 0)

	want := d("33.333333333333333333")
	for i, caller := range []common.Address{alice, bob, carol} {
		c, err := env.engine.Claim(ctx, caller, uint64(i))
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		// Earlier claims do not shrink later shares.
		if !c.Payout.Equal(want) || c.Winners != 3 {
			t.Errorf("claim %d = %+v, want payout %s", i, c, want)
		}
	}

	// 100 - 3*33.333333333333333333 of dust stays in escrow on top of stakes.
	dust := d("0.000000000000000001")
	wantEscrow := d("510").Add(dust)
	if !env.balance(t, escrow).Equal(wantEscrow) {
		t.Errorf("escrow = %s, want %s", env.balance(t, escrow), wantEscrow)
	}
}

func TestClaim_SecondaryBuyerCollects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := threeWayProject(t, env)
	_, _ = env.engine.List(ctx, carol, 2, d("500"))
	if _, err := env.engine.BuyListed(ctx, bob, 2); err != nil {
		t.Fatalf("buy listed: %v", err)
	}
	_, _ = env.engine.Resolve(ctx, operator, p.ID, 2)

	if _, err := env.engine.Claim(ctx, carol, 2); !errors.Is(err, exchange.ErrNotTicketOwner) {
		t.Errorf("original staker claim: %v", err)
	}
	c, err := env.engine.Claim(ctx, bob, 2)
	if err != nil {
		t.Fatalf("buyer claim: %v", err)
	}
	if c.Holder != bob || !c.Payout.Equal(d("900")) {
		t.Errorf("claim = %+v", c)
	}
}

func TestResolve_NoWinnersLeavesPoolEscrowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProject(t, "100", "a", "b", "c")
	env.buy(t, alice, p.ID, 0, "5")

	if _, err := env.engine.Resolve(ctx, operator, p.ID, 2); err != nil {
		t.Fatalf("resolve with no winners: %v", err)
	}
	if !env.balance(t, escrow).Equal(d("105")) {
		t.Errorf("escrow = %s, want 105", env.balance(t, escrow))
	}
	if _, err := env.engine.Claim(ctx, alice, 0); !errors.Is(err, exchange.ErrLosingTicket) {
		t.Errorf("claim: %v", err)
	}
}

func TestClaim_StoreFailureReversesPayout(t *testing.T) {
	var st *flakyStore
	env := newTestEnvWith(t, func(env *testEnv) (store.Store, ledger.Ledger, registry.Registry) {
		st = &flakyStore{Store: env.store}
		return st, env.ledger, env.reg
	})
	ctx := context.Background()
	p := threeWayProject(t, env)
	_, _ = env.engine.Resolve(ctx, operator, p.ID, 1)

	st.failMarkClaimed = true
	if _, err := env.engine.Claim(ctx, bob, 1); !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected", err)
	}
	if !env.balance(t, bob).Equal(d("9700")) {
		t.Errorf("bob = %s, want 9700", env.balance(t, bob))
	}
	if claimed, _ := env.engine.ClaimedStatus(ctx, 1); claimed {
		t.Error("ticket marked claimed")
	}

	st.failMarkClaimed = false
	if _, err := env.engine.Claim(ctx, bob, 1); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !env.balance(t, bob).Equal(d("10600")) {
		t.Errorf("bob = %s, want 10600", env.balance(t, bob))
	}
}

func TestClaim_LedgerFailureLeavesUnclaimed(t *testing.T) {
	env := newTestEnvWith(t, func(env *testEnv) (store.Store, ledger.Ledger, registry.Registry) {
		return env.store, &flakyLedger{Ledger: env.ledger, failFrom: &escrow}, env.reg
	})
	ctx := context.Background()
	p := threeWayProject(t, env)
	_, _ = env.engine.Resolve(ctx, operator, p.ID, 0)

	if _, err := env.engine.Claim(ctx, alice, 0); !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected", err)
	}
	if claimed, _ := env.engine.ClaimedStatus(ctx, 0); claimed {
		t.Error("ticket marked claimed after failed transfer")
	}
}

func TestShare(t *testing.T) {
	cases := []struct {
		pool  string
		n     int
		scale int32
		want  string
	}{
		{"900", 1, 18, "900"},
		{"900", 4, 18, "225"},
		{"1", 3, 2, "0.33"},
		{"2", 3, 2, "0.66"},
		{"100", 0, 18, "0"},
	}
	for _, tc := range cases {
		got := exchange.Share(d(tc.pool), tc.n, tc.scale)
		if !got.Equal(d(tc.want)) {
			t.Errorf("Share(%s, %d, %d) = %s, want %s", tc.pool, tc.n, tc.scale, got, tc.want)
		}
	}
}
