package exchange

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/registry"
	"github.com/atmx/wager-engine/internal/store"
)

// List offers a ticket for sale at a fixed price. The escrow address is
// approved to move the token so a buyer can fill without the seller present.
// Listing again overwrites the previous price.
func (e *Engine) List(ctx context.Context, caller common.Address, tokenID uint64, price decimal.Decimal) (*model.Listing, error) {
	var listing *model.Listing
	err := e.exec(ctx, "list", func(ctx context.Context) (*model.Event, error) {
		t, owner, err := e.ticketAndOwner(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if owner != caller {
			return nil, failf(ErrNotTicketOwner, "ticket %d", tokenID)
		}
		if !price.IsPositive() {
			return nil, failf(ErrInvalidPrice, "price %s", price)
		}
		p, err := e.GetProject(ctx, t.ProjectID)
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, failf(ErrMarketClosed, "project %d", t.ProjectID)
		}

		undo := e.undo("list")
		prev, err := e.registry.GetApproved(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if err := e.registry.Approve(ctx, tokenID, caller, e.cfg.Escrow); err != nil {
			return nil, err
		}
		undo.push("restore approval", func(ctx context.Context) error {
			return e.registry.Approve(ctx, tokenID, caller, prev)
		})

		now := e.clock.Now()
		l := &model.Listing{TokenID: tokenID, Seller: caller, Price: price, ListedAt: now}
		ev := e.newEvent(model.EventTicketListed, caller, now)
		ev.ProjectID = t.ProjectID
		ev.TokenID = &l.TokenID
		ev.OptionID = &t.OptionID
		ev.Amount = price
		if err := e.store.PutListing(ctx, l, ev); err != nil {
			undo.run(ctx, "token_id", tokenID)
			return nil, err
		}

		e.log.Info("ticket listed", "token_id", tokenID, "price", price.String(), "seller", caller.Hex())
		listing = l
		return ev, nil
	})
	return listing, err
}

// Delist withdraws the caller's valid listing and revokes the escrow
// approval.
func (e *Engine) Delist(ctx context.Context, caller common.Address, tokenID uint64) error {
	return e.exec(ctx, "delist", func(ctx context.Context) (*model.Event, error) {
		t, owner, err := e.ticketAndOwner(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if owner != caller {
			return nil, failf(ErrNotTicketOwner, "ticket %d", tokenID)
		}
		l, err := e.validListing(ctx, tokenID, owner)
		if err != nil {
			return nil, err
		}
		if l == nil {
			return nil, failf(ErrNotListed, "ticket %d", tokenID)
		}

		undo := e.undo("delist")
		prev, err := e.registry.GetApproved(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if err := e.registry.Approve(ctx, tokenID, caller, common.Address{}); err != nil {
			return nil, err
		}
		undo.push("restore approval", func(ctx context.Context) error {
			return e.registry.Approve(ctx, tokenID, caller, prev)
		})

		ev := e.newEvent(model.EventTicketDelisted, caller, e.clock.Now())
		ev.ProjectID = t.ProjectID
		ev.TokenID = &tokenID
		ev.OptionID = &t.OptionID
		ev.Amount = l.Price
		if err := e.store.DeleteListing(ctx, tokenID, ev); err != nil {
			undo.run(ctx, "token_id", tokenID)
			return nil, err
		}

		e.log.Info("ticket delisted", "token_id", tokenID, "seller", caller.Hex())
		return ev, nil
	})
}

// BuyListed fills a valid listing: the price moves buyer to seller, the
// ticket moves seller to buyer and the listing is cleared, all or nothing.
func (e *Engine) BuyListed(ctx context.Context, caller common.Address, tokenID uint64) (*model.Trade, error) {
	var trade *model.Trade
	err := e.exec(ctx, "buy_listed", func(ctx context.Context) (*model.Event, error) {
		t, err := e.store.GetTicket(ctx, tokenID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, failf(ErrNotListed, "ticket %d", tokenID)
		}
		if err != nil {
			return nil, err
		}
		seller, err := e.registry.OwnerOf(ctx, tokenID)
		if err != nil {
			return nil, e.mapRegistryErr(err, tokenID)
		}
		l, err := e.validListing(ctx, tokenID, seller)
		if err != nil {
			return nil, err
		}
		if l == nil {
			return nil, failf(ErrNotListed, "ticket %d", tokenID)
		}
		if caller == seller {
			return nil, failf(ErrSelfPurchase, "ticket %d", tokenID)
		}
		p, err := e.GetProject(ctx, t.ProjectID)
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, failf(ErrMarketClosed, "project %d", t.ProjectID)
		}

		undo := e.undo("buy_listed")
		price := l.Price
		if err := e.ledger.Transfer(ctx, caller, seller, price); err != nil {
			return nil, mapLedgerErr(err)
		}
		undo.push("refund price", func(ctx context.Context) error {
			return e.ledger.Transfer(ctx, seller, caller, price)
		})

		if err := e.registry.TransferFrom(ctx, tokenID, seller, caller, e.cfg.Escrow); err != nil {
			undo.run(ctx, "token_id", tokenID, "buyer", caller.Hex(), "seller", seller.Hex())
			return nil, err
		}
		undo.push("return ticket", func(ctx context.Context) error {
			if err := e.registry.TransferFrom(ctx, tokenID, caller, seller, caller); err != nil {
				return err
			}
			return e.registry.Approve(ctx, tokenID, seller, e.cfg.Escrow)
		})

		now := e.clock.Now()
		ev := e.newEvent(model.EventTicketTraded, caller, now)
		ev.ProjectID = t.ProjectID
		ev.TokenID = &tokenID
		ev.OptionID = &t.OptionID
		ev.Counterparty = &seller
		ev.Amount = price
		if err := e.store.DeleteListing(ctx, tokenID, ev); err != nil {
			undo.run(ctx, "token_id", tokenID, "buyer", caller.Hex(), "seller", seller.Hex())
			return nil, err
		}

		metrics.ListingsFilled.Inc()
		e.log.Info("listing filled",
			"token_id", tokenID,
			"price", price.String(),
			"seller", seller.Hex(),
			"buyer", caller.Hex(),
		)
		trade = &model.Trade{TokenID: tokenID, Seller: seller, Buyer: caller, Price: price, At: now}
		return ev, nil
	})
	return trade, err
}

// --- Reads ---

// ListingPrice returns the price of a valid listing, or zero when the ticket
// is unlisted or its listing went stale.
func (e *Engine) ListingPrice(ctx context.Context, tokenID uint64) (decimal.Decimal, error) {
	_, owner, err := e.ticketAndOwner(ctx, tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	l, err := e.validListing(ctx, tokenID, owner)
	if err != nil || l == nil {
		return decimal.Zero, err
	}
	return l.Price, nil
}

// TicketInfo returns a ticket with its owner and current listing price.
func (e *Engine) TicketInfo(ctx context.Context, tokenID uint64) (*model.TicketInfo, error) {
	t, owner, err := e.ticketAndOwner(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	info := &model.TicketInfo{Ticket: *t, Owner: owner, ListingPrice: decimal.Zero}
	l, err := e.validListing(ctx, tokenID, owner)
	if err != nil {
		return nil, err
	}
	if l != nil {
		info.ListingPrice = l.Price
	}
	return info, nil
}

// Listings returns every valid listing on an active project. A non-nil
// projectID restricts the result to that project.
func (e *Engine) Listings(ctx context.Context, projectID *uint64) ([]model.ListingView, error) {
	listings, err := e.store.ListListings(ctx)
	if err != nil {
		return nil, err
	}

	active := make(map[uint64]bool)
	views := []model.ListingView{}
	for _, l := range listings {
		t, err := e.store.GetTicket(ctx, l.TokenID)
		if err != nil {
			return nil, err
		}
		if projectID != nil && t.ProjectID != *projectID {
			continue
		}
		isActive, ok := active[t.ProjectID]
		if !ok {
			p, err := e.store.GetProject(ctx, t.ProjectID)
			if err != nil {
				return nil, err
			}
			isActive = p.IsActive
			active[t.ProjectID] = isActive
		}
		if !isActive {
			continue
		}
		owner, err := e.registry.OwnerOf(ctx, l.TokenID)
		if err != nil {
			return nil, err
		}
		if owner != l.Seller {
			continue
		}
		views = append(views, model.ListingView{
			Listing:   l,
			ProjectID: t.ProjectID,
			OptionID:  t.OptionID,
			Amount:    t.Amount,
		})
	}
	return views, nil
}

// validListing returns the stored listing for tokenID when its seller is
// still owner, and nil otherwise.
func (e *Engine) validListing(ctx context.Context, tokenID uint64, owner common.Address) (*model.Listing, error) {
	l, err := e.store.GetListing(ctx, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if l.Seller != owner {
		return nil, nil
	}
	return l, nil
}

func (e *Engine) ticketAndOwner(ctx context.Context, tokenID uint64) (*model.Ticket, common.Address, error) {
	t, err := e.store.GetTicket(ctx, tokenID)
	if err != nil {
		return nil, common.Address{}, e.mapStoreErr(err, ErrTicketNotFound, "ticket %d", tokenID)
	}
	owner, err := e.registry.OwnerOf(ctx, tokenID)
	if err != nil {
		return nil, common.Address{}, e.mapRegistryErr(err, tokenID)
	}
	return t, owner, nil
}

func (e *Engine) mapRegistryErr(err error, tokenID uint64) error {
	if errors.Is(err, registry.ErrUnknownToken) {
		return failf(ErrTicketNotFound, "ticket %d", tokenID)
	}
	return err
}
