package market

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stablemarket/core/events"
	"stablemarket/core/units"
	"stablemarket/native/bank"
	nativecommon "stablemarket/native/common"
	"stablemarket/native/marketplace"
	"stablemarket/native/oracle"
	"stablemarket/storage"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	account = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	seller  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	buyer   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	buyer2  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	nftAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

type fixture struct {
	svc    *Service
	manual *oracle.ManualOracle
	events *events.Buffer
	now    time.Time
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		manual: oracle.NewManualOracle(),
		events: &events.Buffer{},
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	// 1 ETH = 20 USD, i.e. 0.05 ETH per USD.
	f.manual.Set("ETH", "USD", big.NewRat(20, 1), f.now)
	cfg := Config{
		Owner:       owner,
		Account:     account,
		Pair:        "ETH/USD",
		MaxPriceAge: time.Minute,
		Devnet:      true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(storage.NewMemDB(), oracle.NewFeed(f.manual), cfg,
		WithEmitter(f.events),
		WithNowFunc(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func ether(t *testing.T, v string) *big.Int {
	t.Helper()
	out, err := units.ParseEther(v)
	require.NoError(t, err)
	return out
}

func (f *fixture) list(t *testing.T, tokenID int64, usd string) uint64 {
	t.Helper()
	ctx := context.Background()
	price, err := units.ParseUSD(usd)
	require.NoError(t, err)
	require.NoError(t, f.svc.MintAsset(ctx, nftAddr, big.NewInt(tokenID), seller))
	require.NoError(t, f.svc.ApproveAsset(ctx, seller, nftAddr, big.NewInt(tokenID), account))
	id, err := f.svc.CreateSellOrder(ctx, seller, nftAddr, big.NewInt(tokenID), price)
	require.NoError(t, err)
	return id
}

func eventTypes(buf *events.Buffer) []string {
	out := []string{}
	for _, evt := range buf.Events() {
		out = append(out, evt.EventType())
	}
	return out
}

func TestBuyWithTenPercentBuffer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.list(t, 1, "100")
	require.NoError(t, f.svc.Faucet(ctx, buyer, ether(t, "10")))

	quote, err := f.svc.ExpectedAmount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ether(t, "5"), quote)

	paid := units.ApplyBuffer(quote, 1_000)
	require.Equal(t, ether(t, "5.5"), paid)
	require.NoError(t, f.svc.CreateBuyOrder(ctx, buyer, id, paid))

	holder, err := f.svc.AssetOwner(nftAddr, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, buyer, holder)

	ledger, err := f.svc.LedgerBalance()
	require.NoError(t, err)
	require.Equal(t, paid, ledger)

	balance, err := f.svc.Balance(buyer)
	require.NoError(t, err)
	require.Equal(t, ether(t, "4.5"), balance)

	order, err := f.svc.Order(id)
	require.NoError(t, err)
	require.Equal(t, marketplace.OrderInactive, order.Status)
	require.Equal(t, buyer, order.Buyer)

	require.Equal(t, []string{
		marketplace.EventTypeOrderCreated,
		marketplace.EventTypeOrderSold,
	}, eventTypes(f.events))
}

func TestCancelThenBuy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.list(t, 1, "100")
	require.NoError(t, f.svc.Faucet(ctx, buyer, ether(t, "10")))

	require.ErrorIs(t, f.svc.CancelSellOrder(ctx, buyer, id), marketplace.ErrInvalidCaller)
	require.NoError(t, f.svc.CancelSellOrder(ctx, seller, id))
	holder, err := f.svc.AssetOwner(nftAddr, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, seller, holder)

	require.ErrorIs(t, f.svc.CreateBuyOrder(ctx, buyer, id, ether(t, "5.5")), marketplace.ErrInactiveOrder)
	balance, err := f.svc.Balance(buyer)
	require.NoError(t, err)
	require.Equal(t, ether(t, "10"), balance)
}

func TestDoubleBuy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.list(t, 1, "100")
	require.NoError(t, f.svc.Faucet(ctx, buyer, ether(t, "10")))
	require.NoError(t, f.svc.Faucet(ctx, buyer2, ether(t, "10")))

	require.NoError(t, f.svc.CreateBuyOrder(ctx, buyer, id, ether(t, "5.5")))
	require.ErrorIs(t, f.svc.CreateBuyOrder(ctx, buyer2, id, ether(t, "5.5")), marketplace.ErrInactiveOrder)

	balance, err := f.svc.Balance(buyer2)
	require.NoError(t, err)
	require.Equal(t, ether(t, "10"), balance)
	ledger, err := f.svc.LedgerBalance()
	require.NoError(t, err)
	require.Equal(t, ether(t, "5.5"), ledger)
}

func TestFailedBuyRollsBackEverything(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.list(t, 1, "100")
	require.NoError(t, f.svc.Faucet(ctx, buyer, ether(t, "1")))
	f.events.Reset()

	err := f.svc.CreateBuyOrder(ctx, buyer, id, ether(t, "6"))
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)

	order, err := f.svc.Order(id)
	require.NoError(t, err)
	require.Equal(t, marketplace.OrderActive, order.Status)
	ledger, err := f.svc.LedgerBalance()
	require.NoError(t, err)
	require.Zero(t, ledger.Sign())
	holder, err := f.svc.AssetOwner(nftAddr, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, account, holder)
	require.Empty(t, f.events.Events(), "no events may escape a failed operation")
}

func TestCreateWithoutApprovalFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.MintAsset(ctx, nftAddr, big.NewInt(9), seller))
	price, _ := units.ParseUSD("10")
	_, err := f.svc.CreateSellOrder(ctx, seller, nftAddr, big.NewInt(9), price)
	require.Error(t, err)

	_, err = f.svc.CreateSellOrder(ctx, seller, nftAddr, big.NewInt(9), big.NewInt(0))
	require.ErrorIs(t, err, marketplace.ErrInvalidPrice)

	orders, err := f.svc.Orders(OrderFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestWithdrawAllFunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.list(t, 1, "100")
	require.NoError(t, f.svc.Faucet(ctx, buyer, ether(t, "10")))
	require.NoError(t, f.svc.CreateBuyOrder(ctx, buyer, id, ether(t, "5.5")))

	_, err := f.svc.WithdrawAllFunds(ctx, seller)
	require.ErrorIs(t, err, marketplace.ErrInvalidCaller)

	amount, err := f.svc.WithdrawAllFunds(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, ether(t, "5.5"), amount)

	balance, err := f.svc.Balance(owner)
	require.NoError(t, err)
	require.Equal(t, ether(t, "5.5"), balance)
	vault, err := f.svc.Balance(account)
	require.NoError(t, err)
	require.Zero(t, vault.Sign())

	amount, err = f.svc.WithdrawAllFunds(ctx, owner)
	require.NoError(t, err)
	require.Zero(t, amount.Sign())
}

func TestVaultCannotBuyItsOwnListing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.list(t, 1, "100")
	require.NoError(t, f.svc.Faucet(ctx, account, ether(t, "1000")))

	err := f.svc.CreateBuyOrder(ctx, account, id, ether(t, "1000"))
	require.ErrorIs(t, err, marketplace.ErrInvalidCaller)

	ledger, err := f.svc.LedgerBalance()
	require.NoError(t, err)
	require.Zero(t, ledger.Sign())
	held, err := f.svc.Balance(account)
	require.NoError(t, err)
	require.Equal(t, ether(t, "1000"), held)

	require.NoError(t, f.svc.Faucet(ctx, buyer, ether(t, "10")))
	require.NoError(t, f.svc.CreateBuyOrder(ctx, buyer, id, ether(t, "5")))
	amount, err := f.svc.WithdrawAllFunds(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, ether(t, "5"), amount)
}

func TestStalePriceRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.list(t, 1, "100")
	require.NoError(t, f.svc.Faucet(ctx, buyer, ether(t, "10")))

	f.now = f.now.Add(2 * time.Minute)
	require.ErrorIs(t, f.svc.CreateBuyOrder(ctx, buyer, id, ether(t, "6")), marketplace.ErrStalePrice)
	_, err := f.svc.ExpectedAmount(ctx, id)
	require.ErrorIs(t, err, marketplace.ErrStalePrice)
}

func TestOrdersFilter(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.list(t, 1, "10")
	f.list(t, 2, "20")
	require.NoError(t, f.svc.CancelSellOrder(ctx, seller, first))

	all, err := f.svc.Orders(OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := f.svc.Orders(OrderFilter{Status: marketplace.OrderActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, uint64(1), active[0].ID)

	bySeller, err := f.svc.Orders(OrderFilter{Seller: seller, Limit: 1})
	require.NoError(t, err)
	require.Len(t, bySeller, 1)

	none, err := f.svc.Orders(OrderFilter{Seller: buyer})
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = f.svc.Order(99)
	require.ErrorIs(t, err, marketplace.ErrOrderNotFound)
}

func TestPausedAndDevnetGuards(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Paused = true })
	err := f.svc.Faucet(context.Background(), buyer, ether(t, "1"))
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))
	require.True(t, f.svc.Paused())

	require.ErrorIs(t, f.svc.SetPaused(seller, false), marketplace.ErrInvalidCaller)
	require.NoError(t, f.svc.SetPaused(owner, false))
	require.False(t, f.svc.Paused())
	require.NoError(t, f.svc.Faucet(context.Background(), buyer, ether(t, "1")))

	prod := newFixture(t, func(cfg *Config) { cfg.Devnet = false })
	require.ErrorIs(t, prod.svc.MintAsset(context.Background(), nftAddr, big.NewInt(1), seller), ErrDevnetDisabled)
	require.ErrorIs(t, prod.svc.Faucet(context.Background(), buyer, big.NewInt(1)), ErrDevnetDisabled)
}

func TestNewValidatesConfig(t *testing.T) {
	feed := oracle.NewFeed(oracle.NewManualOracle())
	_, err := New(storage.NewMemDB(), feed, Config{Account: account})
	require.Error(t, err)
	_, err = New(storage.NewMemDB(), feed, Config{Owner: owner, Account: owner})
	require.Error(t, err)
	_, err = New(nil, feed, Config{Owner: owner, Account: account})
	require.Error(t, err)
}
