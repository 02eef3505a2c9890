package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
)

type optionKey struct {
	projectID uint64
	optionID  int
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	projects  []*model.Project // index == id
	tickets   map[uint64]*model.Ticket
	nextToken uint64
	byOption  map[optionKey][]uint64
	listings  map[uint64]*model.Listing
	events    []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[uint64]*model.Ticket),
		byOption: make(map[optionKey][]uint64),
		listings: make(map[uint64]*model.Listing),
	}
}

func (s *MemoryStore) CreateProject(_ context.Context, p *model.Project, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = uint64(len(s.projects))
	s.projects = append(s.projects, copyProject(p))
	ev.ProjectID = p.ID
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id uint64) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id >= uint64(len(s.projects)) {
		return nil, fmt.Errorf("%w: project %d", ErrNotFound, id)
	}
	return copyProject(s.projects[id]), nil
}

func (s *MemoryStore) ListProjects(_ context.Context) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]model.Project, 0, len(s.projects))
	for i := len(s.projects) - 1; i >= 0; i-- {
		projects = append(projects, *copyProject(s.projects[i]))
	}
	return projects, nil
}

func (s *MemoryStore) ResolveProject(_ context.Context, id uint64, winningOptionID int, at time.Time, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= uint64(len(s.projects)) {
		return fmt.Errorf("%w: project %d", ErrNotFound, id)
	}
	p := s.projects[id]
	if !p.IsActive {
		return fmt.Errorf("%w: project %d already resolved", ErrConflict, id)
	}
	p.IsActive = false
	p.WinningOptionID = winningOptionID
	resolvedAt := at
	p.ResolvedAt = &resolvedAt
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) NextTokenID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextToken
	s.nextToken++
	return id, nil
}

func (s *MemoryStore) CreateTicket(_ context.Context, t *model.Ticket, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ProjectID >= uint64(len(s.projects)) {
		return fmt.Errorf("%w: project %d", ErrNotFound, t.ProjectID)
	}
	if _, ok := s.tickets[t.TokenID]; ok {
		return fmt.Errorf("%w: ticket %d already exists", ErrConflict, t.TokenID)
	}
	p := s.projects[t.ProjectID]
	if !p.IsActive {
		return fmt.Errorf("%w: project %d not active", ErrConflict, t.ProjectID)
	}

	ticket := *t
	s.tickets[t.TokenID] = &ticket
	key := optionKey{t.ProjectID, t.OptionID}
	s.byOption[key] = append(s.byOption[key], t.TokenID)

	p.TotalStaked = p.TotalStaked.Add(t.Amount)
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, tokenID uint64) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: ticket %d", ErrNotFound, tokenID)
	}
	ticket := *t
	return &ticket, nil
}

func (s *MemoryStore) ListTickets(_ context.Context, projectID uint64) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Ticket
	for _, t := range s.tickets {
		if t.ProjectID == projectID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TokenID < result[j].TokenID })
	return result, nil
}

func (s *MemoryStore) CountTickets(_ context.Context, projectID uint64, optionID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byOption[optionKey{projectID, optionID}]), nil
}

func (s *MemoryStore) MarkClaimed(_ context.Context, tokenID uint64, payout decimal.Decimal, at time.Time, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[tokenID]
	if !ok {
		return fmt.Errorf("%w: ticket %d", ErrNotFound, tokenID)
	}
	if t.Claimed {
		return fmt.Errorf("%w: ticket %d already claimed", ErrConflict, tokenID)
	}
	t.Claimed = true
	t.Payout = payout
	claimedAt := at
	t.ClaimedAt = &claimedAt
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) PutListing(_ context.Context, l *model.Listing, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[l.TokenID]; !ok {
		return fmt.Errorf("%w: ticket %d", ErrNotFound, l.TokenID)
	}
	listing := *l
	s.listings[l.TokenID] = &listing
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, tokenID uint64) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, tokenID)
	}
	listing := *l
	return &listing, nil
}

func (s *MemoryStore) ListListings(_ context.Context) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]model.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		listings = append(listings, *l)
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].TokenID < listings[j].TokenID })
	return listings, nil
}

func (s *MemoryStore) DeleteListing(_ context.Context, tokenID uint64, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[tokenID]; !ok {
		return fmt.Errorf("%w: listing %d", ErrNotFound, tokenID)
	}
	delete(s.listings, tokenID)
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, after uint64, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Seq n lives at index n-1.
	if after >= uint64(len(s.events)) {
		return []model.Event{}, nil
	}
	rest := s.events[after:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]model.Event, len(rest))
	copy(out, rest)
	return out, nil
}

// appendEvent assigns the next sequence number. Caller holds s.mu.
func (s *MemoryStore) appendEvent(ev *model.Event) {
	ev.Seq = uint64(len(s.events)) + 1
	s.events = append(s.events, *ev)
}

func copyProject(p *model.Project) *model.Project {
	c := *p
	c.Options = append([]string(nil), p.Options...)
	if p.ResolvedAt != nil {
		at := *p.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}
