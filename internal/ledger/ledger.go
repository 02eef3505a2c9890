// Package ledger holds per-holder fungible balances. The exchange treats it as
// an external collaborator with a narrow atomic contract: a transfer either
// moves the full amount or changes nothing.
package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when the sender cannot cover a transfer.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must not be negative")

	// ErrInvalidHolder is returned when a transfer or mint targets the zero address.
	ErrInvalidHolder = errors.New("ledger: invalid holder")
)

// Ledger moves balances between holders.
type Ledger interface {
	// Transfer debits amount from `from` and credits it to `to` atomically.
	Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error

	// BalanceOf returns the holder's balance; unknown holders have zero.
	BalanceOf(ctx context.Context, holder common.Address) (decimal.Decimal, error)
}

// Minter issues new balance. Used by the faucet only.
type Minter interface {
	Mint(ctx context.Context, to common.Address, amount decimal.Decimal) error
}

func validate(to common.Address, amount decimal.Decimal) error {
	if to == (common.Address{}) {
		return ErrInvalidHolder
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}
