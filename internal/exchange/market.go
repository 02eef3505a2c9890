package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
)

// CreateProject opens a market. The pool is moved from the operator to
// escrow; if that fails no project is created.
func (e *Engine) CreateProject(ctx context.Context, caller common.Address, name string, options []string, resultTime time.Time, pool decimal.Decimal) (*model.Project, error) {
	var project *model.Project
	err := e.exec(ctx, "create_project", func(ctx context.Context) (*model.Event, error) {
		if err := e.requireOperator(caller); err != nil {
			return nil, err
		}
		name = cleanLabel(name)
		if name == "" {
			return nil, ErrInvalidName
		}
		labels, err := normalizeOptions(options)
		if err != nil {
			return nil, err
		}
		if !pool.IsPositive() {
			return nil, failf(ErrInvalidAmount, "pool %s", pool)
		}

		undo := e.undo("create_project")
		if err := e.ledger.Transfer(ctx, caller, e.cfg.Escrow, pool); err != nil {
			return nil, mapLedgerErr(err)
		}
		undo.push("refund pool", func(ctx context.Context) error {
			return e.ledger.Transfer(ctx, e.cfg.Escrow, caller, pool)
		})

		now := e.clock.Now()
		p := &model.Project{
			Name:            name,
			Options:         labels,
			ResultTime:      resultTime.UTC(),
			PoolAmount:      pool,
			TotalStaked:     decimal.Zero,
			Creator:         caller,
			IsActive:        true,
			WinningOptionID: model.NoWinner,
			CreatedAt:       now,
		}
		ev := e.newEvent(model.EventProjectCreated, caller, now)
		ev.Amount = pool
		if err := e.store.CreateProject(ctx, p, ev); err != nil {
			undo.run(ctx, "name", name)
			return nil, err
		}

		metrics.OpenProjects.Inc()
		e.log.Info("project created",
			"project_id", p.ID,
			"name", p.Name,
			"options", len(p.Options),
			"pool", pool.String(),
		)
		project = p
		return ev, nil
	})
	return project, err
}

// cleanLabel trims surrounding space and folds the label to NFC.
func cleanLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// normalizeOptions trims labels and requires at least two distinct,
// non-blank ones.
func normalizeOptions(options []string) ([]string, error) {
	if len(options) < 2 {
		return nil, failf(ErrInvalidOptions, "got %d", len(options))
	}
	seen := make(map[string]struct{}, len(options))
	labels := make([]string, 0, len(options))
	for i, o := range options {
		o = cleanLabel(o)
		if o == "" {
			return nil, failf(ErrInvalidOptions, "option %d is blank", i)
		}
		if _, dup := seen[o]; dup {
			return nil, failf(ErrInvalidOptions, "duplicate option %q", o)
		}
		seen[o] = struct{}{}
		labels = append(labels, o)
	}
	return labels, nil
}

// BuyTicket stakes amount on an option of an active project and mints a
// ticket to the caller. The stake goes to escrow and never enters the pool.
func (e *Engine) BuyTicket(ctx context.Context, caller common.Address, projectID uint64, optionID int, amount decimal.Decimal) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := e.exec(ctx, "buy_ticket", func(ctx context.Context) (*model.Event, error) {
		p, err := e.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, failf(ErrMarketClosed, "project %d", projectID)
		}
		if !p.HasOption(optionID) {
			return nil, failf(ErrInvalidOption, "option %d of %d", optionID, len(p.Options))
		}
		if !amount.IsPositive() {
			return nil, failf(ErrInvalidAmount, "stake %s", amount)
		}

		undo := e.undo("buy_ticket")
		if err := e.ledger.Transfer(ctx, caller, e.cfg.Escrow, amount); err != nil {
			return nil, mapLedgerErr(err)
		}
		undo.push("refund stake", func(ctx context.Context) error {
			return e.ledger.Transfer(ctx, e.cfg.Escrow, caller, amount)
		})

		tokenID, err := e.store.NextTokenID(ctx)
		if err != nil {
			undo.run(ctx, "project_id", projectID)
			return nil, err
		}
		if err := e.registry.Mint(ctx, tokenID, caller); err != nil {
			undo.run(ctx, "project_id", projectID, "token_id", tokenID)
			return nil, err
		}
		undo.push("burn ticket", func(ctx context.Context) error {
			return e.registry.Burn(ctx, tokenID)
		})

		now := e.clock.Now()
		t := &model.Ticket{
			TokenID:   tokenID,
			ProjectID: projectID,
			OptionID:  optionID,
			Amount:    amount,
			Staker:    caller,
			Payout:    decimal.Zero,
			CreatedAt: now,
		}
		ev := e.newEvent(model.EventTicketPurchased, caller, now)
		ev.ProjectID = projectID
		ev.TokenID = &t.TokenID
		ev.OptionID = &t.OptionID
		ev.Amount = amount
		if err := e.store.CreateTicket(ctx, t, ev); err != nil {
			undo.run(ctx, "project_id", projectID, "token_id", tokenID)
			if errors.Is(err, store.ErrConflict) {
				return nil, failf(ErrMarketClosed, "project %d", projectID)
			}
			return nil, err
		}

		metrics.TicketsMinted.Inc()
		e.log.Info("ticket purchased",
			"project_id", projectID,
			"token_id", tokenID,
			"option_id", optionID,
			"amount", amount.String(),
			"buyer", caller.Hex(),
		)
		ticket = t
		return ev, nil
	})
	return ticket, err
}

// Resolve closes a project and records the winning option. A project
// resolves exactly once; a second attempt fails with ErrAlreadyResolved
// whatever option it names.
func (e *Engine) Resolve(ctx context.Context, caller common.Address, projectID uint64, winningOptionID int) (*model.Project, error) {
	var project *model.Project
	err := e.exec(ctx, "resolve", func(ctx context.Context) (*model.Event, error) {
		if err := e.requireOperator(caller); err != nil {
			return nil, err
		}
		p, err := e.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, failf(ErrAlreadyResolved, "project %d", projectID)
		}
		if !p.HasOption(winningOptionID) {
			return nil, failf(ErrInvalidOption, "option %d of %d", winningOptionID, len(p.Options))
		}

		now := e.clock.Now()
		ev := e.newEvent(model.EventProjectResolved, caller, now)
		ev.ProjectID = projectID
		ev.OptionID = &winningOptionID
		if err := e.store.ResolveProject(ctx, projectID, winningOptionID, now, ev); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, failf(ErrAlreadyResolved, "project %d", projectID)
			}
			return nil, err
		}

		p.IsActive = false
		p.WinningOptionID = winningOptionID
		p.ResolvedAt = &now

		metrics.OpenProjects.Dec()
		e.log.Info("project resolved",
			"project_id", projectID,
			"winning_option_id", winningOptionID,
		)
		project = p
		return ev, nil
	})
	return project, err
}
