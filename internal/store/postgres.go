package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision, and
// every mutation writes its event row in the same transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const projectColumns = `id, name, options, result_time, pool_amount::TEXT, total_staked::TEXT,
	creator, is_active, winning_option_id, created_at, resolved_at`

const ticketColumns = `token_id, project_id, option_id, amount::TEXT, staker, claimed,
	payout::TEXT, claimed_at, created_at`

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project, ev *model.Event) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serialize id assignment so ids stay gapless.
		if _, err := tx.Exec(ctx, `LOCK TABLE projects IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("store: lock projects: %w", err)
		}
		var id int64
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM projects`).Scan(&id); err != nil {
			return fmt.Errorf("store: next project id: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO projects (id, name, options, result_time, pool_amount, total_staked,
			                       creator, is_active, winning_option_id, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
			id, p.Name, p.Options, p.ResultTime, p.PoolAmount.String(), p.TotalStaked.String(),
			p.Creator.Hex(), p.IsActive, p.WinningOptionID, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: insert project: %w", err)
		}
		p.ID = uint64(id)
		ev.ProjectID = p.ID
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) GetProject(ctx context.Context, id uint64) (*model.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, int64(id))
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project %d: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) ResolveProject(ctx context.Context, id uint64, winningOptionID int, at time.Time, ev *model.Event) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE projects SET is_active = FALSE, winning_option_id = $2, resolved_at = $3
			 WHERE id = $1 AND is_active`,
			int64(id), winningOptionID, at)
		if err != nil {
			return fmt.Errorf("store: resolve project %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: project %d not active", ErrConflict, id)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) NextTokenID(ctx context.Context) (uint64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('token_ids')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: next token id: %w", err)
	}
	return uint64(id), nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *model.Ticket, ev *model.Event) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Row lock on the project orders this against ResolveProject.
		tag, err := tx.Exec(ctx,
			`UPDATE projects SET total_staked = total_staked + $2::NUMERIC
			 WHERE id = $1 AND is_active`,
			int64(t.ProjectID), t.Amount.String())
		if err != nil {
			return fmt.Errorf("store: add stake to project %d: %w", t.ProjectID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, int64(t.ProjectID)).Scan(&exists); err != nil {
				return fmt.Errorf("store: check project %d: %w", t.ProjectID, err)
			}
			if !exists {
				return fmt.Errorf("%w: project %d", ErrNotFound, t.ProjectID)
			}
			return fmt.Errorf("%w: project %d not active", ErrConflict, t.ProjectID)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO tickets (token_id, project_id, option_id, amount, staker, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
			int64(t.TokenID), int64(t.ProjectID), t.OptionID, t.Amount.String(), t.Staker.Hex(), t.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: insert ticket %d: %w", t.TokenID, err)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) GetTicket(ctx context.Context, tokenID uint64) (*model.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE token_id = $1`, int64(tokenID))
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: ticket %d", ErrNotFound, tokenID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ticket %d: %w", tokenID, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTickets(ctx context.Context, projectID uint64) ([]model.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE project_id = $1 ORDER BY token_id`, int64(projectID))
	if err != nil {
		return nil, fmt.Errorf("store: list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) CountTickets(ctx context.Context, projectID uint64, optionID int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets WHERE project_id = $1 AND option_id = $2`,
		int64(projectID), optionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count tickets: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkClaimed(ctx context.Context, tokenID uint64, payout decimal.Decimal, at time.Time, ev *model.Event) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE tickets SET claimed = TRUE, payout = $2::NUMERIC, claimed_at = $3
			 WHERE token_id = $1 AND NOT claimed`,
			int64(tokenID), payout.String(), at)
		if err != nil {
			return fmt.Errorf("store: mark ticket %d claimed: %w", tokenID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: ticket %d missing or already claimed", ErrConflict, tokenID)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) PutListing(ctx context.Context, l *model.Listing, ev *model.Event) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO listings (token_id, seller, price, listed_at)
			 VALUES ($1, $2, $3::NUMERIC, $4)
			 ON CONFLICT (token_id) DO UPDATE
			 SET seller = EXCLUDED.seller, price = EXCLUDED.price, listed_at = EXCLUDED.listed_at`,
			int64(l.TokenID), l.Seller.Hex(), l.Price.String(), l.ListedAt)
		if err != nil {
			return fmt.Errorf("store: put listing %d: %w", l.TokenID, err)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) GetListing(ctx context.Context, tokenID uint64) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT token_id, seller, price::TEXT, listed_at FROM listings WHERE token_id = $1`, int64(tokenID))
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, tokenID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get listing %d: %w", tokenID, err)
	}
	return l, nil
}

func (s *PostgresStore) ListListings(ctx context.Context) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_id, seller, price::TEXT, listed_at FROM listings ORDER BY token_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list listings: %w", err)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) DeleteListing(ctx context.Context, tokenID uint64, ev *model.Event) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM listings WHERE token_id = $1`, int64(tokenID))
		if err != nil {
			return fmt.Errorf("store: delete listing %d: %w", tokenID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: listing %d", ErrNotFound, tokenID)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) Events(ctx context.Context, after uint64, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id::TEXT, type, project_id, token_id, option_id, actor, counterparty, amount::TEXT, at
		 FROM events WHERE seq > $1 ORDER BY seq LIMIT $2`, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var (
			e              model.Event
			seq, projectID int64
			tokenID        *int64
			optionID       *int32
			actor, amount  string
			counterparty   *string
			eventType      string
		)
		if err := rows.Scan(&seq, &e.ID, &eventType, &projectID, &tokenID, &optionID,
			&actor, &counterparty, &amount, &e.At); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Type = model.EventType(eventType)
		e.ProjectID = uint64(projectID)
		if tokenID != nil {
			id := uint64(*tokenID)
			e.TokenID = &id
		}
		if optionID != nil {
			id := int(*optionID)
			e.OptionID = &id
		}
		e.Actor = common.HexToAddress(actor)
		if counterparty != nil {
			cp := common.HexToAddress(*counterparty)
			e.Counterparty = &cp
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("store: event %d amount: %w", seq, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// insertEvent writes ev inside tx and stores the assigned sequence on it.
func insertEvent(ctx context.Context, tx pgx.Tx, ev *model.Event) error {
	var tokenID *int64
	if ev.TokenID != nil {
		id := int64(*ev.TokenID)
		tokenID = &id
	}
	var counterparty *string
	if ev.Counterparty != nil {
		cp := ev.Counterparty.Hex()
		counterparty = &cp
	}
	var seq int64
	err := tx.QueryRow(ctx,
		`INSERT INTO events (id, type, project_id, token_id, option_id, actor, counterparty, amount, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9)
		 RETURNING seq`,
		ev.ID, string(ev.Type), int64(ev.ProjectID), tokenID, ev.OptionID,
		ev.Actor.Hex(), counterparty, ev.Amount.String(), ev.At).Scan(&seq)
	if err != nil {
		return fmt.Errorf("store: insert %s event: %w", ev.Type, err)
	}
	ev.Seq = uint64(seq)
	return nil
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p            model.Project
		id           int64
		pool, staked string
		creator      string
	)
	if err := row.Scan(&id, &p.Name, &p.Options, &p.ResultTime, &pool, &staked,
		&creator, &p.IsActive, &p.WinningOptionID, &p.CreatedAt, &p.ResolvedAt); err != nil {
		return nil, err
	}
	p.ID = uint64(id)
	p.Creator = common.HexToAddress(creator)

	var err error
	if p.PoolAmount, err = decimal.NewFromString(pool); err != nil {
		return nil, fmt.Errorf("store: project %d pool: %w", id, err)
	}
	if p.TotalStaked, err = decimal.NewFromString(staked); err != nil {
		return nil, fmt.Errorf("store: project %d stake: %w", id, err)
	}
	return &p, nil
}

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var (
		t                  model.Ticket
		tokenID, projectID int64
		amount, payout     string
		staker             string
	)
	if err := row.Scan(&tokenID, &projectID, &t.OptionID, &amount, &staker, &t.Claimed,
		&payout, &t.ClaimedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.TokenID = uint64(tokenID)
	t.ProjectID = uint64(projectID)
	t.Staker = common.HexToAddress(staker)

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("store: ticket %d amount: %w", tokenID, err)
	}
	if t.Payout, err = decimal.NewFromString(payout); err != nil {
		return nil, fmt.Errorf("store: ticket %d payout: %w", tokenID, err)
	}
	return &t, nil
}

func scanListing(row pgx.Row) (*model.Listing, error) {
	var (
		l       model.Listing
		tokenID int64
		seller  string
		price   string
	)
	if err := row.Scan(&tokenID, &seller, &price, &l.ListedAt); err != nil {
		return nil, err
	}
	l.TokenID = uint64(tokenID)
	l.Seller = common.HexToAddress(seller)

	var err error
	if l.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("store: listing %d price: %w", tokenID, err)
	}
	return &l, nil
}
