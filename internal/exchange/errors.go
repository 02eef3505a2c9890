package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Callers branch on the kind; the code
// names the specific precondition that failed.
type Kind string

const (
	KindUnauthorized        Kind = "unauthorized"
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindStateConflict       Kind = "state_conflict"
	KindNotOwner            Kind = "not_owner"
	KindSelfTrade           Kind = "self_trade"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNotWinner           Kind = "not_winner"
	KindAlreadyClaimed      Kind = "already_claimed"
)

// Error is a failed engine precondition.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return "exchange: " + string(e.Kind)
	}
	return "exchange: " + e.Message
}

// Is matches another *Error with the same code. A target without a code is a
// kind sentinel and matches every error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Kind == t.Kind
	}
	return e.Code == t.Code
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Kind sentinels, for errors.Is checks that only care about the class.
var (
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrStateConflict       = &Error{Kind: KindStateConflict}
	ErrNotOwner            = &Error{Kind: KindNotOwner}
	ErrSelfTrade           = &Error{Kind: KindSelfTrade}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrNotWinner           = &Error{Kind: KindNotWinner}
	ErrAlreadyClaimed      = &Error{Kind: KindAlreadyClaimed}
)

var (
	ErrNotOperator     = newError(KindUnauthorized, "not_operator", "caller is not the operator")
	ErrProjectNotFound = newError(KindNotFound, "project_not_found", "project does not exist")
	ErrTicketNotFound  = newError(KindNotFound, "ticket_not_found", "ticket does not exist")
	ErrNotListed       = newError(KindNotFound, "not_listed", "ticket is not listed")
	ErrInvalidName     = newError(KindInvalidInput, "invalid_name", "project name must not be blank")
	ErrInvalidOptions  = newError(KindInvalidInput, "invalid_options", "need at least two distinct, non-blank options")
	ErrInvalidOption   = newError(KindInvalidInput, "invalid_option", "option id out of range")
	ErrInvalidAmount   = newError(KindInvalidInput, "invalid_amount", "amount must be positive")
	ErrInvalidPrice    = newError(KindInvalidInput, "invalid_price", "price must be positive")
	ErrInvalidAddress  = newError(KindInvalidInput, "invalid_address", "address must not be zero")
	ErrNoMinter        = newError(KindStateConflict, "faucet_unavailable", "ledger does not support minting")
	ErrMarketClosed    = newError(KindStateConflict, "market_closed", "project is no longer active")
	ErrAlreadyResolved = newError(KindStateConflict, "already_resolved", "project is already resolved")
	ErrNotResolved     = newError(KindStateConflict, "not_resolved", "project is not resolved yet")
	ErrNotTicketOwner  = newError(KindNotOwner, "not_owner", "caller does not own the ticket")
	ErrSelfPurchase    = newError(KindSelfTrade, "self_trade", "cannot buy your own listing")
	ErrNoFunds         = newError(KindInsufficientBalance, "insufficient_balance", "insufficient balance")
	ErrLosingTicket    = newError(KindNotWinner, "not_winner", "ticket is not on the winning option")
	ErrTicketClaimed   = newError(KindAlreadyClaimed, "already_claimed", "ticket was already claimed")
)

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Code == "" {
			return string(e.Kind)
		}
		return e.Code
	}
	return ""
}

// failf wraps a sentinel with context.
func failf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
