package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stablemarket/core/events"
	"stablemarket/core/state"
	"stablemarket/native/bank"
	nativecommon "stablemarket/native/common"
	"stablemarket/native/marketplace"
	"stablemarket/native/nft"
	"stablemarket/observability"
	"stablemarket/observability/otel"
	"stablemarket/storage"
)

// ModuleName identifies the marketplace for pause flags and logs.
const ModuleName = "marketplace"

var (
	// ErrDevnetDisabled is returned by faucet and minting helpers outside devnet mode.
	ErrDevnetDisabled = errors.New("market: devnet helpers disabled")
)

// Config describes a deployed marketplace.
type Config struct {
	// Owner is the deployer identity allowed to withdraw funds.
	Owner common.Address
	// Account is the marketplace's own address. It holds custodied assets and
	// collected funds.
	Account            common.Address
	Pair               string
	SettlementDecimals uint8
	MaxPriceAge        time.Duration
	Devnet             bool
	Paused             bool
}

// Service serialises marketplace operations. Each call runs against a fresh
// state overlay which is committed only when the operation succeeds, so a
// failure at any step leaves no trace. Events are published after commit.
type Service struct {
	mu      sync.Mutex
	root    *state.Manager
	cfg     Config
	oracle  marketplace.PriceOracle
	emitter events.Emitter
	pauses  *nativecommon.Pauses
	logger  *slog.Logger
	metrics *observability.MarketMetrics
	tracer  trace.Tracer
	nowFn   func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithEmitter publishes committed events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(s *Service) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNowFunc overrides the clock. Intended for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.MarketMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New deploys a marketplace over db.
func New(db storage.Database, oracle marketplace.PriceOracle, cfg Config, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("market: database required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("market: price oracle required")
	}
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("market: owner required")
	}
	if cfg.Account == (common.Address{}) {
		return nil, fmt.Errorf("market: marketplace account required")
	}
	if cfg.Account == cfg.Owner {
		return nil, fmt.Errorf("market: marketplace account must differ from owner")
	}
	if cfg.Pair == "" {
		cfg.Pair = "ETH/USD"
	}
	if cfg.SettlementDecimals == 0 {
		cfg.SettlementDecimals = marketplace.DefaultSettlementDecimals
	}
	s := &Service{
		root:    state.NewManager(db),
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		pauses:  nativecommon.NewPauses(map[string]bool{ModuleName: cfg.Paused}),
		logger:  slog.Default(),
		tracer:  otel.Tracer("stablemarket/core/market"),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.oracle = &observedOracle{inner: oracle, metrics: s.metrics, now: s.now}
	s.logger = s.logger.With("component", "market")
	return s, nil
}

// Owner returns the deployer identity.
func (s *Service) Owner() common.Address { return s.cfg.Owner }

// Account returns the marketplace custody account.
func (s *Service) Account() common.Address { return s.cfg.Account }

// Pair returns the oracle pair used for pricing.
func (s *Service) Pair() string { return s.cfg.Pair }

func (s *Service) now() time.Time { return s.nowFn() }

// Paused reports whether state-changing operations are halted.
func (s *Service) Paused() bool { return s.pauses.IsPaused(ModuleName) }

// SetPaused halts or resumes state-changing operations. Only the owner may
// toggle the flag. Reads and quotes keep working while paused.
func (s *Service) SetPaused(caller common.Address, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.cfg.Owner {
		return marketplace.ErrInvalidCaller
	}
	s.pauses.Set(ModuleName, paused)
	s.logger.Warn("pause flag changed", "paused", paused, "caller", caller.Hex())
	return nil
}

type txn struct {
	state    *state.Manager
	engine   *marketplace.Engine
	registry *nft.Registry
	ledger   *bank.Ledger
}

func (s *Service) newTxn(tx *state.Manager, sink events.Emitter) *txn {
	ledger := bank.NewLedger(tx)
	registry := nft.NewRegistry(tx)
	engine := marketplace.NewEngine(s.cfg.Owner)
	engine.SetState(tx)
	engine.SetCustodian(nft.NewCustodian(registry, s.cfg.Account))
	engine.SetSettlement(bank.NewVault(ledger, s.cfg.Account))
	engine.SetOracle(s.oracle, s.cfg.Pair)
	engine.SetSettlementDecimals(s.cfg.SettlementDecimals)
	engine.SetMaxPriceAge(s.cfg.MaxPriceAge)
	engine.SetNowFunc(s.nowFn)
	engine.SetEmitter(sink)
	return &txn{state: tx, engine: engine, registry: registry, ledger: ledger}
}

// execute runs fn inside a state overlay. Mutating operations are rejected
// while the module is paused.
func (s *Service) execute(ctx context.Context, op string, mutating bool, fn func(context.Context, *txn) error) error {
	ctx, span := s.tracer.Start(ctx, "market."+op)
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.executeLocked(ctx, op, mutating, fn)
	s.metrics.ObserveOperation(op, outcome(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("operation failed", "op", op, "error", err)
	}
	return err
}

func (s *Service) executeLocked(ctx context.Context, op string, mutating bool, fn func(context.Context, *txn) error) error {
	if mutating {
		if err := nativecommon.Guard(s.pauses, ModuleName); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := s.root.Begin()
	buf := &events.Buffer{}
	if err := fn(ctx, s.newTxn(tx, buf)); err != nil {
		tx.Discard()
		return err
	}
	if !mutating {
		tx.Discard()
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("market: commit %s: %w", op, err)
	}
	if s.metrics != nil {
		if balance, err := s.root.MarketLedgerBalance(); err == nil {
			s.metrics.SetLedgerBalance(balance)
		}
	}
	buf.Flush(s.emitter)
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, marketplace.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, marketplace.ErrInvalidCaller):
		return "invalid_caller"
	case errors.Is(err, marketplace.ErrInactiveOrder):
		return "inactive_order"
	case errors.Is(err, marketplace.ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, marketplace.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, marketplace.ErrStalePrice), errors.Is(err, marketplace.ErrInvalidQuote):
		return "oracle"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	default:
		return "error"
	}
}

// CreateSellOrder lists tokenID of asset for usdPrice (18 decimals). The
// caller must have approved the marketplace account beforehand.
func (s *Service) CreateSellOrder(ctx context.Context, caller, asset common.Address, tokenID, usdPrice *big.Int) (uint64, error) {
	var id uint64
	err := s.execute(ctx, "create_sell_order", true, func(ctx context.Context, t *txn) error {
		var err error
		id, err = t.engine.CreateSellOrder(ctx, caller, asset, tokenID, usdPrice)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("sell order created", "orderId", id, "seller", caller.Hex(), "asset", asset.Hex(), "tokenId", tokenID.String())
	return id, nil
}

// CancelSellOrder withdraws an active listing.
func (s *Service) CancelSellOrder(ctx context.Context, caller common.Address, id uint64) error {
	err := s.execute(ctx, "cancel_sell_order", true, func(ctx context.Context, t *txn) error {
		return t.engine.CancelSellOrder(ctx, caller, id)
	})
	if err == nil {
		s.logger.Info("sell order cancelled", "orderId", id, "seller", caller.Hex())
	}
	return err
}

// CreateBuyOrder buys an active listing paying paidAmount.
func (s *Service) CreateBuyOrder(ctx context.Context, caller common.Address, id uint64, paidAmount *big.Int) error {
	err := s.execute(ctx, "create_buy_order", true, func(ctx context.Context, t *txn) error {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int64("market.order_id", int64(id)),
			attribute.String("market.paid_amount", paidAmount.String()),
		)
		return t.engine.CreateBuyOrder(ctx, caller, id, paidAmount)
	})
	if err != nil {
		return err
	}
	s.metrics.RecordSale(paidAmount)
	s.logger.Info("sell order bought", "orderId", id, "buyer", caller.Hex(), "amount", paidAmount.String())
	return nil
}

// WithdrawAllFunds transfers every held fund to the owner.
func (s *Service) WithdrawAllFunds(ctx context.Context, caller common.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.execute(ctx, "withdraw_all_funds", true, func(ctx context.Context, t *txn) error {
		var err error
		amount, err = t.engine.WithdrawAllFunds(ctx, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("funds withdrawn", "owner", caller.Hex(), "amount", amount.String())
	return amount, nil
}

// ExpectedAmount quotes the settlement amount currently required to buy id.
func (s *Service) ExpectedAmount(ctx context.Context, id uint64) (*big.Int, error) {
	var amount *big.Int
	err := s.execute(ctx, "expected_amount", false, func(ctx context.Context, t *txn) error {
		var err error
		amount, err = t.engine.ExpectedAmount(ctx, id)
		return err
	})
	return amount, err
}

// ApproveAsset lets operator move the caller's asset unit. Sellers approve
// the marketplace account before listing.
func (s *Service) ApproveAsset(ctx context.Context, caller, asset common.Address, tokenID *big.Int, operator common.Address) error {
	return s.execute(ctx, "approve_asset", true, func(_ context.Context, t *txn) error {
		return t.registry.Approve(caller, asset, tokenID, operator)
	})
}

// MintAsset creates a new asset unit. Devnet only.
func (s *Service) MintAsset(ctx context.Context, asset common.Address, tokenID *big.Int, to common.Address) error {
	if !s.cfg.Devnet {
		return ErrDevnetDisabled
	}
	return s.execute(ctx, "mint_asset", true, func(_ context.Context, t *txn) error {
		return t.registry.Mint(asset, tokenID, to)
	})
}

// Faucet credits settlement currency to addr. Devnet only.
func (s *Service) Faucet(ctx context.Context, addr common.Address, amount *big.Int) error {
	if !s.cfg.Devnet {
		return ErrDevnetDisabled
	}
	return s.execute(ctx, "faucet", true, func(_ context.Context, t *txn) error {
		return t.ledger.Credit(addr, amount)
	})
}
