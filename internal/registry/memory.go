package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryRegistry implements Registry with in-memory maps.
type MemoryRegistry struct {
	mu        sync.RWMutex
	owners    map[uint64]common.Address
	approvals map[uint64]common.Address
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		owners:    make(map[uint64]common.Address),
		approvals: make(map[uint64]common.Address),
	}
}

func (r *MemoryRegistry) Mint(_ context.Context, tokenID uint64, to common.Address) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[tokenID]; ok {
		return fmt.Errorf("%w: %d", ErrTokenExists, tokenID)
	}
	r.owners[tokenID] = to
	return nil
}

func (r *MemoryRegistry) Burn(_ context.Context, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[tokenID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	delete(r.owners, tokenID)
	delete(r.approvals, tokenID)
	return nil
}

func (r *MemoryRegistry) OwnerOf(_ context.Context, tokenID uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	return owner, nil
}

func (r *MemoryRegistry) Approve(_ context.Context, tokenID uint64, owner, spender common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	if current != owner {
		return fmt.Errorf("%w: %d", ErrNotOwner, tokenID)
	}
	if spender == (common.Address{}) {
		delete(r.approvals, tokenID)
		return nil
	}
	r.approvals[tokenID] = spender
	return nil
}

func (r *MemoryRegistry) GetApproved(_ context.Context, tokenID uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.owners[tokenID]; !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	return r.approvals[tokenID], nil
}

func (r *MemoryRegistry) TransferFrom(_ context.Context, tokenID uint64, from, to, operator common.Address) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	if current != from {
		return fmt.Errorf("%w: %d", ErrNotOwner, tokenID)
	}
	if operator != from && r.approvals[tokenID] != operator {
		return fmt.Errorf("%w: %d", ErrNotApproved, tokenID)
	}
	r.owners[tokenID] = to
	delete(r.approvals, tokenID)
	return nil
}

func (r *MemoryRegistry) TokensOf(_ context.Context, owner common.Address) ([]uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uint64
	for id, o := range r.owners {
		if o == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
