// Package model defines the core domain types shared across the wager engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NoWinner is the WinningOptionID of a project that has not been resolved.
const NoWinner = -1

// Project is a market with mutually exclusive outcome options and a prize
// pool escrowed by its creator.
type Project struct {
	ID              uint64          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Options         []string        `json:"options" db:"options"`
	ResultTime      time.Time       `json:"result_time" db:"result_time"` // advisory only
	PoolAmount      decimal.Decimal `json:"pool_amount" db:"pool_amount"`
	TotalStaked     decimal.Decimal `json:"total_staked" db:"total_staked"` // display only, not paid out
	Creator         common.Address  `json:"creator" db:"creator"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	WinningOptionID int             `json:"winning_option_id" db:"winning_option_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Winner returns the winning option once the project has been resolved.
func (p *Project) Winner() (int, bool) {
	if p.IsActive || p.WinningOptionID == NoWinner {
		return NoWinner, false
	}
	return p.WinningOptionID, true
}

// HasOption reports whether optionID indexes one of the project's options.
func (p *Project) HasOption(optionID int) bool {
	return optionID >= 0 && optionID < len(p.Options)
}

// Ticket is a non-fungible stake on one option of one project. Ownership is
// tracked by the position registry, not here.
type Ticket struct {
	TokenID   uint64          `json:"token_id" db:"token_id"`
	ProjectID uint64          `json:"project_id" db:"project_id"`
	OptionID  int             `json:"option_id" db:"option_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Staker    common.Address  `json:"staker" db:"staker"` // original buyer
	Claimed   bool            `json:"claimed" db:"claimed"`
	Payout    decimal.Decimal `json:"payout" db:"payout"`
	ClaimedAt *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Listing is a standing offer to sell a ticket at a fixed price. It is only
// fillable while Seller still owns the ticket.
type Listing struct {
	TokenID  uint64          `json:"token_id" db:"token_id"`
	Seller   common.Address  `json:"seller" db:"seller"`
	Price    decimal.Decimal `json:"price" db:"price"`
	ListedAt time.Time       `json:"listed_at" db:"listed_at"`
}

// ListingView joins a valid listing with the ticket it offers.
type ListingView struct {
	Listing
	ProjectID uint64          `json:"project_id"`
	OptionID  int             `json:"option_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// TicketInfo is a ticket together with its current owner and listing price.
type TicketInfo struct {
	Ticket
	Owner        common.Address  `json:"owner"`
	ListingPrice decimal.Decimal `json:"listing_price"` // zero when not listed
}

// Trade records a filled listing.
type Trade struct {
	TokenID uint64          `json:"token_id"`
	Seller  common.Address  `json:"seller"`
	Buyer   common.Address  `json:"buyer"`
	Price   decimal.Decimal `json:"price"`
	At      time.Time       `json:"at"`
}

// Claim records a paid-out winning ticket.
type Claim struct {
	TokenID   uint64          `json:"token_id"`
	ProjectID uint64          `json:"project_id"`
	Holder    common.Address  `json:"holder"`
	Payout    decimal.Decimal `json:"payout"`
	Winners   int             `json:"winners"` // tickets sharing the pool
	At        time.Time       `json:"at"`
}

// EventType names a state-changing operation in the event journal.
type EventType string

const (
	EventProjectCreated  EventType = "project_created"
	EventTicketPurchased EventType = "ticket_purchased"
	EventTicketListed    EventType = "ticket_listed"
	EventTicketDelisted  EventType = "ticket_delisted"
	EventTicketTraded    EventType = "ticket_traded"
	EventProjectResolved EventType = "project_resolved"
	EventTicketClaimed   EventType = "ticket_claimed"
)

// Event is an immutable journal record. Exactly one is written per committed
// mutation, in the same unit of work as the state change. Seq is assigned by
// the store.
type Event struct {
	Seq          uint64          `json:"seq" db:"seq"`
	ID           string          `json:"id" db:"id"`
	Type         EventType       `json:"type" db:"type"`
	ProjectID    uint64          `json:"project_id" db:"project_id"`
	TokenID      *uint64         `json:"token_id,omitempty" db:"token_id"`
	OptionID     *int            `json:"option_id,omitempty" db:"option_id"`
	Actor        common.Address  `json:"actor" db:"actor"`
	Counterparty *common.Address `json:"counterparty,omitempty" db:"counterparty"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	At           time.Time       `json:"at" db:"at"`
}
