package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccountBalance returns the settlement currency balance of addr.
func (m *Manager) AccountBalance(addr common.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(AccountBalanceKey(addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetAccountBalance stores the settlement currency balance of addr. Zero
// balances are removed from state.
func (m *Manager) SetAccountBalance(addr common.Address, amount *big.Int) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil || amount.Sign() == 0 {
		return m.KVDelete(AccountBalanceKey(addr))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	return m.KVPut(AccountBalanceKey(addr), amount)
}

// AssetOwner returns the holder of an asset unit. The boolean is false when
// the unit was never minted.
func (m *Manager) AssetOwner(asset common.Address, tokenID *big.Int) (common.Address, bool, error) {
	var owner common.Address
	ok, err := m.KVGet(AssetOwnerKey(asset, tokenID), &owner)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	return owner, true, nil
}

// SetAssetOwner records the holder of an asset unit.
func (m *Manager) SetAssetOwner(asset common.Address, tokenID *big.Int, owner common.Address) error {
	if owner == (common.Address{}) {
		return fmt.Errorf("asset owner must not be empty")
	}
	return m.KVPut(AssetOwnerKey(asset, tokenID), owner)
}

// AssetApproval returns the identity approved to move the asset unit, or the
// zero address when none is set.
func (m *Manager) AssetApproval(asset common.Address, tokenID *big.Int) (common.Address, error) {
	var approved common.Address
	if _, err := m.KVGet(AssetApprovalKey(asset, tokenID), &approved); err != nil {
		return common.Address{}, err
	}
	return approved, nil
}

// SetAssetApproval approves operator for the asset unit. Passing the zero
// address clears the approval.
func (m *Manager) SetAssetApproval(asset common.Address, tokenID *big.Int, operator common.Address) error {
	if operator == (common.Address{}) {
		return m.KVDelete(AssetApprovalKey(asset, tokenID))
	}
	return m.KVPut(AssetApprovalKey(asset, tokenID), operator)
}
