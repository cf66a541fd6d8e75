package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablemarket/native/marketplace"
)

type storedOrder struct {
	ID         uint64
	Asset      common.Address
	TokenID    *big.Int
	Seller     common.Address
	USDPrice   *big.Int
	Status     uint8
	CreatedAt  uint64
	ClosedAt   uint64
	Buyer      common.Address
	PaidAmount *big.Int
}

func newStoredOrder(o *marketplace.SellOrder) *storedOrder {
	return &storedOrder{
		ID:         o.ID,
		Asset:      o.Asset,
		TokenID:    o.TokenID,
		Seller:     o.Seller,
		USDPrice:   o.USDPrice,
		Status:     uint8(o.Status),
		CreatedAt:  o.CreatedAt,
		ClosedAt:   o.ClosedAt,
		Buyer:      o.Buyer,
		PaidAmount: o.PaidAmount,
	}
}

func (s *storedOrder) toOrder() *marketplace.SellOrder {
	return &marketplace.SellOrder{
		ID:         s.ID,
		Asset:      s.Asset,
		TokenID:    s.TokenID,
		Seller:     s.Seller,
		USDPrice:   s.USDPrice,
		Status:     marketplace.OrderStatus(s.Status),
		CreatedAt:  s.CreatedAt,
		ClosedAt:   s.ClosedAt,
		Buyer:      s.Buyer,
		PaidAmount: s.PaidAmount,
	}
}

// OrderPut persists the order. The first write of an order also records it
// in the seller's index.
func (m *Manager) OrderPut(order *marketplace.SellOrder) error {
	sanitized, err := marketplace.SanitizeOrder(order)
	if err != nil {
		return err
	}
	key := MarketOrderKey(sanitized.ID)
	exists, err := m.KVGet(key, nil)
	if err != nil {
		return err
	}
	if err := m.KVPut(key, newStoredOrder(sanitized)); err != nil {
		return err
	}
	if !exists {
		return m.KVAppend(MarketSellerIndexKey(sanitized.Seller), encodeUint64(sanitized.ID))
	}
	return nil
}

// OrderGet loads the order with the supplied identifier.
func (m *Manager) OrderGet(id uint64) (*marketplace.SellOrder, bool, error) {
	var stored storedOrder
	ok, err := m.KVGet(MarketOrderKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	order, err := marketplace.SanitizeOrder(stored.toOrder())
	if err != nil {
		return nil, false, fmt.Errorf("state: corrupt order %d: %w", id, err)
	}
	return order, true, nil
}

// OrderNextID allocates the next order identifier. Identifiers start at zero
// and are never reused.
func (m *Manager) OrderNextID() (uint64, error) {
	next, err := m.OrderCount()
	if err != nil {
		return 0, err
	}
	if err := m.KVPut(marketOrderNextIDKey, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

// OrderCount returns the number of identifiers allocated so far.
func (m *Manager) OrderCount() (uint64, error) {
	var next uint64
	if _, err := m.KVGet(marketOrderNextIDKey, &next); err != nil {
		return 0, err
	}
	return next, nil
}

// OrdersBySeller returns the identifiers of every order created by seller in
// creation order.
func (m *Manager) OrdersBySeller(seller common.Address) ([]uint64, error) {
	var raw [][]byte
	if err := m.KVGetList(MarketSellerIndexKey(seller), &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 8 {
			return nil, fmt.Errorf("state: malformed seller index entry")
		}
		ids = append(ids, new(big.Int).SetBytes(entry).Uint64())
	}
	return ids, nil
}

// MarketLedgerBalance returns the settlement funds held for the owner.
func (m *Manager) MarketLedgerBalance() (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(marketLedgerKey, balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// MarketLedgerPut overwrites the ledger balance.
func (m *Manager) MarketLedgerPut(balance *big.Int) error {
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: negative ledger balance")
	}
	return m.KVPut(marketLedgerKey, balance)
}
