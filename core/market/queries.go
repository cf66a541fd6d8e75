package market

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablemarket/native/marketplace"
	"stablemarket/native/nft"
	"stablemarket/observability"
)

// OrderFilter narrows order listings. Zero values match everything.
type OrderFilter struct {
	Seller common.Address
	Status marketplace.OrderStatus
	Offset uint64
	Limit  int
}

const maxListLimit = 500

// Order returns the order with the supplied identifier.
func (s *Service) Order(id uint64) (*marketplace.SellOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok, err := s.root.OrderGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, marketplace.ErrOrderNotFound
	}
	return order, nil
}

// Orders lists orders in identifier order.
func (s *Service) Orders(filter OrderFilter) ([]*marketplace.SellOrder, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint64
	if filter.Seller != (common.Address{}) {
		bySeller, err := s.root.OrdersBySeller(filter.Seller)
		if err != nil {
			return nil, err
		}
		ids = bySeller
	} else {
		count, err := s.root.OrderCount()
		if err != nil {
			return nil, err
		}
		ids = make([]uint64, 0, count)
		for id := uint64(0); id < count; id++ {
			ids = append(ids, id)
		}
	}

	out := make([]*marketplace.SellOrder, 0)
	for _, id := range ids {
		if id < filter.Offset {
			continue
		}
		order, ok, err := s.root.OrderGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if filter.Status != 0 && order.Status != filter.Status {
			continue
		}
		out = append(out, order)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LedgerBalance returns the funds held for the owner.
func (s *Service) LedgerBalance() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.MarketLedgerBalance()
}

// Balance returns the settlement currency balance of addr.
func (s *Service) Balance(addr common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.AccountBalance(addr)
}

// AssetOwner returns the current holder of an asset unit.
func (s *Service) AssetOwner(asset common.Address, tokenID *big.Int) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nft.NewRegistry(s.root).OwnerOf(asset, tokenID)
}

// AssetApproval returns the operator approved for an asset unit.
func (s *Service) AssetApproval(asset common.Address, tokenID *big.Int) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nft.NewRegistry(s.root).GetApproved(asset, tokenID)
}

// observedOracle publishes the age of every quote consumed by the engine.
type observedOracle struct {
	inner   marketplace.PriceOracle
	metrics *observability.MarketMetrics
	now     func() time.Time
}

func (o *observedOracle) GetPrice(ctx context.Context, pair string) (*big.Rat, time.Time, error) {
	price, ts, err := o.inner.GetPrice(ctx, pair)
	if err == nil && !ts.IsZero() {
		o.metrics.SetQuoteAge(o.now().Sub(ts))
	}
	return price, ts, err
}
