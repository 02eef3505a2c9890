package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for projects and tickets. Writes go to the primary store and then
// refresh or invalidate the affected keys; reads check Redis first then fall
// back to the primary. Listings and the event journal are never cached since
// listing validity depends on live registry ownership.
//
// A read-through fill only sets a missing key, so a reader that loaded a row
// before a write cannot overwrite the state the write stored. Reads under a
// WithPrimary context skip the cache entirely.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateProject(ctx context.Context, p *model.Project, ev *model.Event) error {
	if err := s.primary.CreateProject(ctx, p, ev); err != nil {
		return err
	}
	s.cache(ctx, projectKey(p.ID), p)
	return nil
}

func (s *CachedStore) ResolveProject(ctx context.Context, id uint64, winningOptionID int, at time.Time, ev *model.Event) error {
	if err := s.primary.ResolveProject(ctx, id, winningOptionID, at, ev); err != nil {
		return err
	}
	s.refreshProject(ctx, id)
	return nil
}

func (s *CachedStore) CreateTicket(ctx context.Context, t *model.Ticket, ev *model.Event) error {
	if err := s.primary.CreateTicket(ctx, t, ev); err != nil {
		return err
	}
	// TotalStaked changed.
	s.refreshProject(ctx, t.ProjectID)
	return nil
}

func (s *CachedStore) MarkClaimed(ctx context.Context, tokenID uint64, payout decimal.Decimal, at time.Time, ev *model.Event) error {
	if err := s.primary.MarkClaimed(ctx, tokenID, payout, at, ev); err != nil {
		return err
	}
	if t, err := s.primary.GetTicket(ctx, tokenID); err == nil {
		s.cache(ctx, ticketKey(tokenID), t)
	} else {
		s.rdb.Del(ctx, ticketKey(tokenID))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetProject(ctx context.Context, id uint64) (*model.Project, error) {
	if ReadsPrimary(ctx) {
		return s.primary.GetProject(ctx, id)
	}
	data, err := s.rdb.Get(ctx, projectKey(id)).Bytes()
	if err == nil {
		var p model.Project
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, projectKey(id), p)
	return p, nil
}

func (s *CachedStore) GetTicket(ctx context.Context, tokenID uint64) (*model.Ticket, error) {
	if ReadsPrimary(ctx) {
		return s.primary.GetTicket(ctx, tokenID)
	}
	data, err := s.rdb.Get(ctx, ticketKey(tokenID)).Bytes()
	if err == nil {
		var t model.Ticket
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTicket(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, ticketKey(tokenID), t)
	return t, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	return s.primary.ListProjects(ctx)
}

func (s *CachedStore) NextTokenID(ctx context.Context) (uint64, error) {
	return s.primary.NextTokenID(ctx)
}

func (s *CachedStore) ListTickets(ctx context.Context, projectID uint64) ([]model.Ticket, error) {
	return s.primary.ListTickets(ctx, projectID)
}

func (s *CachedStore) CountTickets(ctx context.Context, projectID uint64, optionID int) (int, error) {
	return s.primary.CountTickets(ctx, projectID, optionID)
}

func (s *CachedStore) PutListing(ctx context.Context, l *model.Listing, ev *model.Event) error {
	return s.primary.PutListing(ctx, l, ev)
}

func (s *CachedStore) GetListing(ctx context.Context, tokenID uint64) (*model.Listing, error) {
	return s.primary.GetListing(ctx, tokenID)
}

func (s *CachedStore) ListListings(ctx context.Context) ([]model.Listing, error) {
	return s.primary.ListListings(ctx)
}

func (s *CachedStore) DeleteListing(ctx context.Context, tokenID uint64, ev *model.Event) error {
	return s.primary.DeleteListing(ctx, tokenID, ev)
}

func (s *CachedStore) Events(ctx context.Context, after uint64, limit int) ([]model.Event, error) {
	return s.primary.Events(ctx, after, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// refreshProject overwrites the cached project with the primary's copy, so
// a concurrent fill holding an older read cannot win.
func (s *CachedStore) refreshProject(ctx context.Context, id uint64) {
	p, err := s.primary.GetProject(ctx, id)
	if err != nil {
		s.rdb.Del(ctx, projectKey(id))
		return
	}
	s.cache(ctx, projectKey(id), p)
}

// fill caches v only if key is absent.
func (s *CachedStore) fill(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.SetNX(ctx, key, data, s.ttl)
	}
}

func projectKey(id uint64) string { return fmt.Sprintf("wager:project:%d", id) }
func ticketKey(id uint64) string  { return fmt.Sprintf("wager:ticket:%d", id) }
