package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/model"
)

// Faucet mints amount of new balance to `to` and returns the resulting
// balance. Operator only. It is the one operation that changes the ledger's
// total supply and produces no journal event.
func (e *Engine) Faucet(ctx context.Context, caller, to common.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := e.exec(ctx, "faucet", func(ctx context.Context) (*model.Event, error) {
		if err := e.requireOperator(caller); err != nil {
			return nil, err
		}
		minter, ok := e.ledger.(ledger.Minter)
		if !ok {
			return nil, ErrNoMinter
		}
		if to == (common.Address{}) {
			return nil, ErrInvalidAddress
		}
		if !amount.IsPositive() {
			return nil, failf(ErrInvalidAmount, "mint %s", amount)
		}

		if err := minter.Mint(ctx, to, amount); err != nil {
			return nil, err
		}
		b, err := e.ledger.BalanceOf(ctx, to)
		if err != nil {
			return nil, err
		}
		balance = b

		e.log.Info("faucet mint", "to", to.Hex(), "amount", amount.String())
		return nil, nil
	})
	return balance, err
}
