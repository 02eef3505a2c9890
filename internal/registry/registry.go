// Package registry tracks exclusive ownership of tickets by token id, with
// single-token delegation so an approved operator can move a token on its
// owner's behalf.
package registry

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownToken     = errors.New("registry: unknown token")
	ErrTokenExists      = errors.New("registry: token already minted")
	ErrNotOwner         = errors.New("registry: caller is not the token owner")
	ErrNotApproved      = errors.New("registry: operator is not approved for token")
	ErrInvalidRecipient = errors.New("registry: invalid recipient")
)

// Registry is the position registry contract the exchange depends on.
type Registry interface {
	// Mint creates tokenID owned by to.
	Mint(ctx context.Context, tokenID uint64, to common.Address) error

	// Burn destroys tokenID. Only used to undo a mint.
	Burn(ctx context.Context, tokenID uint64) error

	// OwnerOf returns the current owner of tokenID.
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)

	// Approve lets spender move tokenID. owner must be the current owner;
	// the zero address clears the approval.
	Approve(ctx context.Context, tokenID uint64, owner, spender common.Address) error

	// GetApproved returns the approved spender, or the zero address.
	GetApproved(ctx context.Context, tokenID uint64) (common.Address, error)

	// TransferFrom moves tokenID from `from` to `to`. operator must be `from`
	// or the approved spender. Any approval is cleared by the move.
	TransferFrom(ctx context.Context, tokenID uint64, from, to, operator common.Address) error

	// TokensOf lists the tokens owned by owner in ascending id order.
	TokensOf(ctx context.Context, owner common.Address) ([]uint64, error)
}
