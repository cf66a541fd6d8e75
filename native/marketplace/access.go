package marketplace

import "github.com/ethereum/go-ethereum/common"

// AccessControl holds the marketplace owner. The owner is fixed at
// construction; there is no transfer operation.
type AccessControl struct {
	owner common.Address
}

// NewAccessControl returns an access controller for the supplied owner.
func NewAccessControl(owner common.Address) *AccessControl {
	return &AccessControl{owner: owner}
}

// Owner returns the configured owner identity.
func (a *AccessControl) Owner() common.Address {
	if a == nil {
		return common.Address{}
	}
	return a.owner
}

// IsOwner reports whether identity is the configured owner. The zero address
// is never an owner.
func (a *AccessControl) IsOwner(identity common.Address) bool {
	if a == nil || a.owner == (common.Address{}) {
		return false
	}
	return a.owner == identity
}
