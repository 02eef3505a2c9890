package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger implements Ledger and Minter on the balances table. Amounts
// are stored as NUMERIC for exact decimal precision.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a ledger backed by the given pool. The schema is
// created by the store migrations.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error {
	if err := validate(to, amount); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE balances SET amount = amount - $2::NUMERIC
			 WHERE holder = $1 AND amount >= $2::NUMERIC`,
			from.Hex(), amount.String())
		if err != nil {
			return fmt.Errorf("ledger: debit %s: %w", from.Hex(), err)
		}
		if tag.RowsAffected() == 0 {
			if amount.IsZero() {
				return nil
			}
			return fmt.Errorf("%w: %s needs %s", ErrInsufficientBalance, from.Hex(), amount)
		}
		return credit(ctx, tx, to, amount)
	})
}

func (l *PostgresLedger) BalanceOf(ctx context.Context, holder common.Address) (decimal.Decimal, error) {
	var s string
	err := l.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM balances WHERE holder = $1`, holder.Hex()).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: balance of %s: %w", holder.Hex(), err)
	}
	return decimal.NewFromString(s)
}

func (l *PostgresLedger) Mint(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if err := validate(to, amount); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return credit(ctx, tx, to, amount)
	})
}

func credit(ctx context.Context, tx pgx.Tx, to common.Address, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO balances (holder, amount) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (holder) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		to.Hex(), amount.String())
	if err != nil {
		return fmt.Errorf("ledger: credit %s: %w", to.Hex(), err)
	}
	return nil
}
