package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresRegistry implements Registry on the token_owners table.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry creates a registry backed by the given pool.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

func (r *PostgresRegistry) Mint(ctx context.Context, tokenID uint64, to common.Address) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO token_owners (token_id, owner) VALUES ($1, $2)`,
		int64(tokenID), to.Hex())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %d", ErrTokenExists, tokenID)
	}
	if err != nil {
		return fmt.Errorf("registry: mint %d: %w", tokenID, err)
	}
	return nil
}

func (r *PostgresRegistry) Burn(ctx context.Context, tokenID uint64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM token_owners WHERE token_id = $1`, int64(tokenID))
	if err != nil {
		return fmt.Errorf("registry: burn %d: %w", tokenID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	return nil
}

func (r *PostgresRegistry) OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	owner, _, err := r.load(ctx, r.pool, tokenID, false)
	return owner, err
}

func (r *PostgresRegistry) Approve(ctx context.Context, tokenID uint64, owner, spender common.Address) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, _, err := r.load(ctx, tx, tokenID, true)
		if err != nil {
			return err
		}
		if current != owner {
			return fmt.Errorf("%w: %d", ErrNotOwner, tokenID)
		}
		var approved *string
		if spender != (common.Address{}) {
			s := spender.Hex()
			approved = &s
		}
		_, err = tx.Exec(ctx,
			`UPDATE token_owners SET approved = $2 WHERE token_id = $1`, int64(tokenID), approved)
		if err != nil {
			return fmt.Errorf("registry: approve %d: %w", tokenID, err)
		}
		return nil
	})
}

func (r *PostgresRegistry) GetApproved(ctx context.Context, tokenID uint64) (common.Address, error) {
	_, approved, err := r.load(ctx, r.pool, tokenID, false)
	return approved, err
}

func (r *PostgresRegistry) TransferFrom(ctx context.Context, tokenID uint64, from, to, operator common.Address) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, approved, err := r.load(ctx, tx, tokenID, true)
		if err != nil {
			return err
		}
		if current != from {
			return fmt.Errorf("%w: %d", ErrNotOwner, tokenID)
		}
		if operator != from && approved != operator {
			return fmt.Errorf("%w: %d", ErrNotApproved, tokenID)
		}
		_, err = tx.Exec(ctx,
			`UPDATE token_owners SET owner = $2, approved = NULL WHERE token_id = $1`,
			int64(tokenID), to.Hex())
		if err != nil {
			return fmt.Errorf("registry: transfer %d: %w", tokenID, err)
		}
		return nil
	})
}

func (r *PostgresRegistry) TokensOf(ctx context.Context, owner common.Address) ([]uint64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT token_id FROM token_owners WHERE owner = $1 ORDER BY token_id`, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("registry: tokens of %s: %w", owner.Hex(), err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRegistry) load(ctx context.Context, q querier, tokenID uint64, forUpdate bool) (common.Address, common.Address, error) {
	query := `SELECT owner, approved FROM token_owners WHERE token_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var owner string
	var approved *string
	err := q.QueryRow(ctx, query, int64(tokenID)).Scan(&owner, &approved)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("registry: load %d: %w", tokenID, err)
	}
	var spender common.Address
	if approved != nil {
		spender = common.HexToAddress(*approved)
	}
	return common.HexToAddress(owner), spender, nil
}
