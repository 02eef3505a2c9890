package exchange

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
)

// Claim pays the caller's share of the pool for a winning ticket. Every
// ticket minted on the winning option shares the pool equally, whether or
// not it has been claimed yet. The share is truncated to the amount scale;
// the remainder stays in escrow.
func (e *Engine) Claim(ctx context.Context, caller common.Address, tokenID uint64) (*model.Claim, error) {
	var claim *model.Claim
	err := e.exec(ctx, "claim", func(ctx context.Context) (*model.Event, error) {
		t, owner, err := e.ticketAndOwner(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if owner != caller {
			return nil, failf(ErrNotTicketOwner, "ticket %d", tokenID)
		}
		p, err := e.GetProject(ctx, t.ProjectID)
		if err != nil {
			return nil, err
		}
		winner, resolved := p.Winner()
		if !resolved {
			return nil, failf(ErrNotResolved, "project %d", p.ID)
		}
		if t.OptionID != winner {
			return nil, failf(ErrLosingTicket, "ticket %d on option %d, winner %d", tokenID, t.OptionID, winner)
		}
		if t.Claimed {
			return nil, failf(ErrTicketClaimed, "ticket %d", tokenID)
		}

		winners, err := e.store.CountTickets(ctx, p.ID, winner)
		if err != nil {
			return nil, err
		}
		payout := Share(p.PoolAmount, winners, e.cfg.AmountScale)

		undo := e.undo("claim")
		if err := e.ledger.Transfer(ctx, e.cfg.Escrow, caller, payout); err != nil {
			return nil, mapLedgerErr(err)
		}
		undo.push("return payout", func(ctx context.Context) error {
			return e.ledger.Transfer(ctx, caller, e.cfg.Escrow, payout)
		})

		now := e.clock.Now()
		ev := e.newEvent(model.EventTicketClaimed, caller, now)
		ev.ProjectID = p.ID
		ev.TokenID = &tokenID
		ev.OptionID = &t.OptionID
		ev.Amount = payout
		if err := e.store.MarkClaimed(ctx, tokenID, payout, now, ev); err != nil {
			undo.run(ctx, "token_id", tokenID, "holder", caller.Hex(), "payout", payout.String())
			if errors.Is(err, store.ErrConflict) {
				return nil, failf(ErrTicketClaimed, "ticket %d", tokenID)
			}
			return nil, err
		}

		metrics.PayoutsTotal.Add(payout.InexactFloat64())
		e.log.Info("ticket claimed",
			"project_id", p.ID,
			"token_id", tokenID,
			"holder", caller.Hex(),
			"payout", payout.String(),
			"winners", winners,
		)
		claim = &model.Claim{
			TokenID:   tokenID,
			ProjectID: p.ID,
			Holder:    caller,
			Payout:    payout,
			Winners:   winners,
			At:        now,
		}
		return ev, nil
	})
	return claim, err
}

// Share splits pool equally among n winning tickets, truncated to scale
// decimal places. It returns zero when there are no winners.
func Share(pool decimal.Decimal, n int, scale int32) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	q, _ := pool.QuoRem(decimal.NewFromInt(int64(n)), scale)
	return q
}

// ClaimedStatus reports whether a ticket has been paid out.
func (e *Engine) ClaimedStatus(ctx context.Context, tokenID uint64) (bool, error) {
	t, err := e.store.GetTicket(ctx, tokenID)
	if err != nil {
		return false, e.mapStoreErr(err, ErrTicketNotFound, "ticket %d", tokenID)
	}
	return t.Claimed, nil
}
