package marketplace

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablemarket/core/events"
	"stablemarket/core/types"
)

type engineState interface {
	ledgerState
	OrderPut(*SellOrder) error
	OrderGet(id uint64) (*SellOrder, bool, error)
	OrderNextID() (uint64, error)
}

// Engine implements the order lifecycle and escrow settlement. It is not safe
// for concurrent use; callers serialise operations and provide all-or-nothing
// semantics by running each call against a disposable state overlay.
//
// Every state-changing operation commits its effects (order status, ledger
// balance) before calling out to the custodian or settlement, so a re-entrant
// call always observes the updated state.
type Engine struct {
	state      engineState
	custodian  AssetCustodian
	settlement Settlement
	oracle     PriceOracle
	access     *AccessControl
	emitter    events.Emitter
	pair       string
	decimals   uint8
	maxAge     time.Duration
	nowFn      func() time.Time
}

// NewEngine creates an engine owned by owner with a no-op emitter.
func NewEngine(owner common.Address) *Engine {
	return &Engine{
		access:   NewAccessControl(owner),
		emitter:  events.NoopEmitter{},
		pair:     "ETH/USD",
		decimals: DefaultSettlementDecimals,
		nowFn:    time.Now,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustodian configures the asset custody boundary.
func (e *Engine) SetCustodian(c AssetCustodian) { e.custodian = c }

// SetSettlement configures the settlement currency transfer primitive.
func (e *Engine) SetSettlement(s Settlement) { e.settlement = s }

// SetOracle configures the price oracle and the pair queried on purchase.
func (e *Engine) SetOracle(oracle PriceOracle, pair string) {
	e.oracle = oracle
	if trimmed := strings.ToUpper(strings.TrimSpace(pair)); trimmed != "" {
		e.pair = trimmed
	}
}

// SetSettlementDecimals overrides the number of decimals of the settlement coin.
func (e *Engine) SetSettlementDecimals(decimals uint8) { e.decimals = decimals }

// SetMaxPriceAge rejects oracle quotes older than maxAge. Zero disables the check.
func (e *Engine) SetMaxPriceAge(maxAge time.Duration) { e.maxAge = maxAge }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Owner returns the marketplace owner.
func (e *Engine) Owner() common.Address { return e.access.Owner() }

// Ledger returns the funds ledger bound to the engine's state.
func (e *Engine) Ledger() *FundsLedger {
	return NewFundsLedger(e.state, e.access, e.settlement)
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

func (e *Engine) loadOrder(id uint64) (*SellOrder, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	order, ok, err := e.state.OrderGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return order, nil
}

func (e *Engine) storeOrder(order *SellOrder) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.OrderPut(order)
}

// Order returns a copy of the stored order.
func (e *Engine) Order(id uint64) (*SellOrder, error) {
	order, err := e.loadOrder(id)
	if err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// CreateSellOrder takes custody of the caller's asset and lists it at usdPrice
// (18 decimals). The marketplace must have been approved for the asset.
func (e *Engine) CreateSellOrder(ctx context.Context, caller, asset common.Address, tokenID, usdPrice *big.Int) (uint64, error) {
	if usdPrice == nil || usdPrice.Sign() <= 0 {
		return 0, ErrInvalidPrice
	}
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.custodian == nil {
		return 0, errNilCustodian
	}
	if tokenID == nil || tokenID.Sign() < 0 {
		return 0, fmt.Errorf("marketplace: token id must be non-negative")
	}
	if asset == (common.Address{}) {
		return 0, fmt.Errorf("marketplace: asset contract required")
	}
	if err := e.custodian.TakeCustody(ctx, asset, tokenID, caller); err != nil {
		return 0, fmt.Errorf("marketplace: take custody: %w", err)
	}
	id, err := e.state.OrderNextID()
	if err != nil {
		return 0, err
	}
	order := &SellOrder{
		ID:        id,
		Asset:     asset,
		TokenID:   cloneBigInt(tokenID),
		Seller:    caller,
		USDPrice:  cloneBigInt(usdPrice),
		Status:    OrderActive,
		CreatedAt: uint64(e.now().Unix()),
	}
	if err := e.storeOrder(order); err != nil {
		return 0, err
	}
	e.emit(NewOrderCreatedEvent(order))
	return id, nil
}

// CancelSellOrder closes an active listing and returns the asset to its
// seller. The seller check precedes the status check so a non-seller always
// receives ErrInvalidCaller.
func (e *Engine) CancelSellOrder(ctx context.Context, caller common.Address, id uint64) error {
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if caller != order.Seller {
		return ErrInvalidCaller
	}
	if order.Status != OrderActive {
		return ErrInactiveOrder
	}
	if e.custodian == nil {
		return errNilCustodian
	}
	order.Status = OrderInactive
	order.ClosedAt = uint64(e.now().Unix())
	if err := e.storeOrder(order); err != nil {
		return err
	}
	if err := e.custodian.ReleaseCustody(ctx, order.Asset, order.TokenID, order.Seller); err != nil {
		return fmt.Errorf("marketplace: release custody: %w", err)
	}
	e.emit(NewOrderCancelledEvent(order))
	return nil
}

// ExpectedAmount resolves the settlement amount currently required to buy the
// order. The oracle is queried on every call.
func (e *Engine) ExpectedAmount(ctx context.Context, id uint64) (*big.Int, error) {
	order, err := e.loadOrder(id)
	if err != nil {
		return nil, err
	}
	return e.requiredAmount(ctx, order)
}

func (e *Engine) requiredAmount(ctx context.Context, order *SellOrder) (*big.Int, error) {
	if e.oracle == nil {
		return nil, errNilOracle
	}
	price, observed, err := e.oracle.GetPrice(ctx, e.pair)
	if err != nil {
		return nil, fmt.Errorf("marketplace: resolve %s price: %w", e.pair, err)
	}
	if err := checkFreshness(observed, e.now(), e.maxAge); err != nil {
		return nil, err
	}
	return SettlementAmount(order.USDPrice, price, e.decimals)
}

// CreateBuyOrder purchases an active order. paidAmount must cover the
// oracle-resolved price; any excess is retained as marketplace revenue and
// the full paidAmount is credited to the ledger.
func (e *Engine) CreateBuyOrder(ctx context.Context, caller common.Address, id uint64, paidAmount *big.Int) error {
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Status != OrderActive {
		return ErrInactiveOrder
	}
	if e.custodian == nil {
		return errNilCustodian
	}
	if e.settlement == nil {
		return errNilSettlement
	}
	// The vault paying itself moves nothing but would still credit the ledger.
	if caller == e.settlement.Address() {
		return ErrInvalidCaller
	}
	paid := cloneBigInt(paidAmount)
	if paid.Sign() < 0 {
		return ErrInvalidValue
	}
	required, err := e.requiredAmount(ctx, order)
	if err != nil {
		return err
	}
	if paid.Cmp(required) < 0 {
		return fmt.Errorf("%w: paid %s, required %s", ErrInvalidValue, paid, required)
	}

	order.Status = OrderInactive
	order.Buyer = caller
	order.PaidAmount = paid
	order.ClosedAt = uint64(e.now().Unix())
	if err := e.storeOrder(order); err != nil {
		return err
	}
	if err := e.Ledger().Credit(paid); err != nil {
		return err
	}

	if err := e.settlement.Collect(ctx, caller, paid); err != nil {
		return fmt.Errorf("marketplace: collect payment: %w", err)
	}
	if err := e.custodian.ReleaseCustody(ctx, order.Asset, order.TokenID, caller); err != nil {
		return fmt.Errorf("marketplace: release custody: %w", err)
	}
	e.emit(NewOrderSoldEvent(order, required))
	return nil
}

// WithdrawAllFunds transfers the whole ledger balance to the owner.
func (e *Engine) WithdrawAllFunds(ctx context.Context, caller common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	amount, err := e.Ledger().WithdrawAll(ctx, caller)
	if err != nil {
		return nil, err
	}
	e.emit(NewFundsWithdrawnEvent(e.access.Owner(), amount))
	return amount, nil
}
