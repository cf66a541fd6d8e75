package marketplace

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus represents the lifecycle state of a sell order.
type OrderStatus uint8

const (
	// OrderActive marks a listed order whose asset is held in custody.
	OrderActive OrderStatus = iota + 1
	// OrderInactive marks an order that was sold or cancelled. Terminal.
	OrderInactive
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	return s == OrderActive || s == OrderInactive
}

func (s OrderStatus) String() string {
	switch s {
	case OrderActive:
		return "active"
	case OrderInactive:
		return "inactive"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// SellOrder is a seller's listing of one asset unit at a fixed USD price.
// USDPrice uses 18 decimal places. Buyer and PaidAmount are only populated
// once the order has been sold.
type SellOrder struct {
	ID         uint64
	Asset      common.Address
	TokenID    *big.Int
	Seller     common.Address
	USDPrice   *big.Int
	Status     OrderStatus
	CreatedAt  uint64
	ClosedAt   uint64
	Buyer      common.Address
	PaidAmount *big.Int
}

// Active reports whether the order can still be bought or cancelled.
func (o *SellOrder) Active() bool {
	return o != nil && o.Status == OrderActive
}

// Sold reports whether the order was closed by a purchase.
func (o *SellOrder) Sold() bool {
	return o != nil && o.Status == OrderInactive && o.Buyer != (common.Address{})
}

// Clone returns a deep copy of the order so callers can safely mutate the copy
// without affecting the stored instance.
func (o *SellOrder) Clone() *SellOrder {
	if o == nil {
		return nil
	}
	clone := *o
	clone.TokenID = cloneBigInt(o.TokenID)
	clone.USDPrice = cloneBigInt(o.USDPrice)
	clone.PaidAmount = cloneBigInt(o.PaidAmount)
	return &clone
}

// SanitizeOrder validates the order and returns a normalised clone with
// non-nil amount fields. The original value is not mutated.
func SanitizeOrder(o *SellOrder) (*SellOrder, error) {
	if o == nil {
		return nil, fmt.Errorf("nil sell order")
	}
	clone := o.Clone()
	if clone.TokenID.Sign() < 0 {
		return nil, fmt.Errorf("sell order token id must be non-negative")
	}
	if clone.USDPrice.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if clone.PaidAmount.Sign() < 0 {
		return nil, fmt.Errorf("sell order paid amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid sell order status: %d", clone.Status)
	}
	if clone.Asset == (common.Address{}) {
		return nil, fmt.Errorf("sell order asset contract required")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
