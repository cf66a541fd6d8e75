package nft

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTokenExists is returned when minting an already minted unit.
	ErrTokenExists = errors.New("nft: token already minted")
	// ErrTokenNotFound is returned for units that were never minted.
	ErrTokenNotFound = errors.New("nft: token not found")
	// ErrNotOwner is returned when the sender does not hold the unit.
	ErrNotOwner = errors.New("nft: sender is not the owner")
	// ErrNotApproved is returned when the operator may not move the unit.
	ErrNotApproved = errors.New("nft: operator not approved")
)

// State is the subset of the state manager used by the registry.
type State interface {
	AssetOwner(asset common.Address, tokenID *big.Int) (common.Address, bool, error)
	SetAssetOwner(asset common.Address, tokenID *big.Int, owner common.Address) error
	AssetApproval(asset common.Address, tokenID *big.Int) (common.Address, error)
	SetAssetApproval(asset common.Address, tokenID *big.Int, operator common.Address) error
}

// Registry tracks ownership of non-fungible units across any number of asset
// contracts. Approvals follow ERC721: one approved operator per unit, cleared
// on every transfer.
type Registry struct {
	state State
}

// NewRegistry returns a registry over the supplied state.
func NewRegistry(state State) *Registry {
	return &Registry{state: state}
}

func validToken(asset common.Address, tokenID *big.Int) error {
	if asset == (common.Address{}) {
		return fmt.Errorf("nft: asset contract required")
	}
	if tokenID == nil || tokenID.Sign() < 0 {
		return fmt.Errorf("nft: token id must be non-negative")
	}
	return nil
}

// Mint creates a new unit held by to.
func (r *Registry) Mint(asset common.Address, tokenID *big.Int, to common.Address) error {
	if err := validToken(asset, tokenID); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("nft: mint to zero address")
	}
	_, exists, err := r.state.AssetOwner(asset, tokenID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s #%s", ErrTokenExists, asset.Hex(), tokenID)
	}
	return r.state.SetAssetOwner(asset, tokenID, to)
}

// OwnerOf returns the holder of the unit.
func (r *Registry) OwnerOf(asset common.Address, tokenID *big.Int) (common.Address, error) {
	if err := validToken(asset, tokenID); err != nil {
		return common.Address{}, err
	}
	owner, exists, err := r.state.AssetOwner(asset, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	if !exists {
		return common.Address{}, fmt.Errorf("%w: %s #%s", ErrTokenNotFound, asset.Hex(), tokenID)
	}
	return owner, nil
}

// Approve lets operator move the unit on the holder's behalf. Only the holder
// may approve.
func (r *Registry) Approve(caller, asset common.Address, tokenID *big.Int, operator common.Address) error {
	owner, err := r.OwnerOf(asset, tokenID)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrNotOwner
	}
	return r.state.SetAssetApproval(asset, tokenID, operator)
}

// GetApproved returns the approved operator, or the zero address.
func (r *Registry) GetApproved(asset common.Address, tokenID *big.Int) (common.Address, error) {
	if _, err := r.OwnerOf(asset, tokenID); err != nil {
		return common.Address{}, err
	}
	return r.state.AssetApproval(asset, tokenID)
}

// TransferFrom moves the unit from one holder to another. operator must be
// the holder or the approved operator.
func (r *Registry) TransferFrom(operator, from, to, asset common.Address, tokenID *big.Int) error {
	owner, err := r.OwnerOf(asset, tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrNotOwner
	}
	if to == (common.Address{}) {
		return fmt.Errorf("nft: transfer to zero address")
	}
	if operator != owner {
		approved, err := r.state.AssetApproval(asset, tokenID)
		if err != nil {
			return err
		}
		if approved != operator {
			return ErrNotApproved
		}
	}
	if err := r.state.SetAssetApproval(asset, tokenID, common.Address{}); err != nil {
		return err
	}
	return r.state.SetAssetOwner(asset, tokenID, to)
}

// Custodian implements marketplace.AssetCustodian on top of the registry. The
// marketplace account acts both as approved operator and as holder while an
// order is active.
type Custodian struct {
	registry *Registry
	market   common.Address
}

// NewCustodian binds the registry to the marketplace account.
func NewCustodian(registry *Registry, market common.Address) *Custodian {
	return &Custodian{registry: registry, market: market}
}

// TakeCustody moves the unit from its holder into marketplace custody.
func (c *Custodian) TakeCustody(_ context.Context, asset common.Address, tokenID *big.Int, from common.Address) error {
	return c.registry.TransferFrom(c.market, from, c.market, asset, tokenID)
}

// ReleaseCustody hands the unit from marketplace custody to the recipient.
func (c *Custodian) ReleaseCustody(_ context.Context, asset common.Address, tokenID *big.Int, to common.Address) error {
	return c.registry.TransferFrom(c.market, c.market, to, asset, tokenID)
}
