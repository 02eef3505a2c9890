package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MemoryLedger implements Ledger and Minter with an in-memory map. Used for
// testing and development.
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[common.Address]decimal.Decimal
	supply   decimal.Decimal
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[common.Address]decimal.Decimal),
	}
}

func (l *MemoryLedger) Transfer(_ context.Context, from, to common.Address, amount decimal.Decimal) error {
	if err := validate(to, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	if from == to || amount.IsZero() {
		return nil
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, holder common.Address) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[holder], nil
}

func (l *MemoryLedger) Mint(_ context.Context, to common.Address, amount decimal.Decimal) error {
	if err := validate(to, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[to] = l.balances[to].Add(amount)
	l.supply = l.supply.Add(amount)
	return nil
}

// TotalSupply returns the sum of everything ever minted. Transfers never
// change it.
func (l *MemoryLedger) TotalSupply() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

// Sum adds up every balance. It always equals TotalSupply.
func (l *MemoryLedger) Sum() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, b := range l.balances {
		total = total.Add(b)
	}
	return total
}
