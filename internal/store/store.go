// Package store defines the persistence interface for engine-owned state:
// projects, tickets, the (project, option) ticket index, listings and the
// event journal. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache) and in-memory (for testing).
//
// Every mutation takes the event it produces and commits both together.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
)

var (
	// ErrNotFound is returned when a project, ticket or listing does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional update finds the row in an
	// unexpected state (already resolved, already claimed).
	ErrConflict = errors.New("store: conflicting state")
)

type primaryCtxKey struct{}

// WithPrimary marks ctx so caching stores answer reads from their primary
// store. The engine reads under it whenever the result feeds a mutation.
func WithPrimary(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryCtxKey{}, true)
}

// ReadsPrimary reports whether ctx was marked by WithPrimary.
func ReadsPrimary(ctx context.Context) bool {
	v, _ := ctx.Value(primaryCtxKey{}).(bool)
	return v
}

// Store is the persistence interface for the exchange engine.
type Store interface {
	// --- Projects ---

	// CreateProject assigns the next sequential id to p and persists it.
	CreateProject(ctx context.Context, p *model.Project, ev *model.Event) error

	// GetProject retrieves a project by id.
	GetProject(ctx context.Context, id uint64) (*model.Project, error)

	// ListProjects returns all projects, newest first.
	ListProjects(ctx context.Context) ([]model.Project, error)

	// ResolveProject closes an active project with the given winner. It
	// returns ErrConflict if the project is no longer active.
	ResolveProject(ctx context.Context, id uint64, winningOptionID int, at time.Time, ev *model.Event) error

	// --- Tickets ---

	// NextTokenID reserves a token id. Reserved ids are never handed out
	// again, even if the mint that reserved them is abandoned.
	NextTokenID(ctx context.Context) (uint64, error)

	// CreateTicket persists a minted ticket, appends it to the (project,
	// option) index and adds its amount to the project's TotalStaked. It
	// returns ErrConflict if the project is no longer active.
	CreateTicket(ctx context.Context, t *model.Ticket, ev *model.Event) error

	// GetTicket retrieves a ticket by token id.
	GetTicket(ctx context.Context, tokenID uint64) (*model.Ticket, error)

	// ListTickets returns every ticket of a project in token order.
	ListTickets(ctx context.Context, projectID uint64) ([]model.Ticket, error)

	// CountTickets returns how many tickets were ever minted on an option.
	CountTickets(ctx context.Context, projectID uint64, optionID int) (int, error)

	// MarkClaimed records a payout. It returns ErrConflict if the ticket was
	// already claimed.
	MarkClaimed(ctx context.Context, tokenID uint64, payout decimal.Decimal, at time.Time, ev *model.Event) error

	// --- Listings ---

	// PutListing writes a listing, replacing any previous one for the token.
	PutListing(ctx context.Context, l *model.Listing, ev *model.Event) error

	// GetListing returns the stored listing for a token, stale or not.
	GetListing(ctx context.Context, tokenID uint64) (*model.Listing, error)

	// ListListings returns all stored listings in token order.
	ListListings(ctx context.Context) ([]model.Listing, error)

	// DeleteListing removes a token's listing. It returns ErrNotFound if
	// there is none.
	DeleteListing(ctx context.Context, tokenID uint64, ev *model.Event) error

	// --- Event journal ---

	// Events returns up to limit events with Seq > after, in order.
	Events(ctx context.Context, after uint64, limit int) ([]model.Event, error)
}
