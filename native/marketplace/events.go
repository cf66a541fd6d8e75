package marketplace

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"stablemarket/core/types"
)

const (
	EventTypeOrderCreated   = "marketplace.order.created"
	EventTypeOrderCancelled = "marketplace.order.cancelled"
	EventTypeOrderSold      = "marketplace.order.sold"
	EventTypeFundsWithdrawn = "marketplace.funds.withdrawn"
)

// NewOrderCreatedEvent returns the canonical payload for a new listing.
func NewOrderCreatedEvent(o *SellOrder) *types.Event {
	return newOrderEvent(EventTypeOrderCreated, o)
}

// NewOrderCancelledEvent returns the canonical payload emitted when the seller
// withdraws a listing.
func NewOrderCancelledEvent(o *SellOrder) *types.Event {
	return newOrderEvent(EventTypeOrderCancelled, o)
}

// NewOrderSoldEvent returns the sale payload. requiredAmount is the
// oracle-resolved price the buyer had to cover.
func NewOrderSoldEvent(o *SellOrder, requiredAmount *big.Int) *types.Event {
	evt := newOrderEvent(EventTypeOrderSold, o)
	if o != nil {
		evt.Attributes["buyer"] = o.Buyer.Hex()
		evt.Attributes["paidAmount"] = cloneBigInt(o.PaidAmount).String()
		evt.Attributes["requiredAmount"] = cloneBigInt(requiredAmount).String()
	}
	return evt
}

// NewFundsWithdrawnEvent returns the payload for an owner withdrawal.
func NewFundsWithdrawnEvent(owner common.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFundsWithdrawn,
		Attributes: map[string]string{
			"owner":  owner.Hex(),
			"amount": cloneBigInt(amount).String(),
		},
	}
}

func newOrderEvent(eventType string, o *SellOrder) *types.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["orderId"] = strconv.FormatUint(o.ID, 10)
	attrs["asset"] = o.Asset.Hex()
	attrs["tokenId"] = cloneBigInt(o.TokenID).String()
	attrs["seller"] = o.Seller.Hex()
	attrs["usdPrice"] = cloneBigInt(o.USDPrice).String()
	attrs["status"] = o.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }
