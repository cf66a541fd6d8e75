package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stablemarket/native/marketplace"
	"stablemarket/storage"
)

func testOrder(id uint64, seller common.Address) *marketplace.SellOrder {
	return &marketplace.SellOrder{
		ID:        id,
		Asset:     common.HexToAddress("0xa1"),
		TokenID:   big.NewInt(int64(id) + 10),
		Seller:    seller,
		USDPrice:  big.NewInt(1_000),
		Status:    marketplace.OrderActive,
		CreatedAt: 1_700_000_000,
	}
}

func TestKVRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	require.NoError(t, m.KVPut([]byte("answer"), uint64(42)))
	var out uint64
	ok, err := m.KVGet([]byte("answer"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), out)

	ok, err = m.KVGet([]byte("missing"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.KVDelete([]byte("answer")))
	ok, err = m.KVGet([]byte("answer"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = m.KVGet(nil, &out)
	require.Error(t, err)
}

func TestKVAppendDeduplicates(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	key := []byte("list")
	require.NoError(t, m.KVAppend(key, []byte{1}))
	require.NoError(t, m.KVAppend(key, []byte{2}))
	require.NoError(t, m.KVAppend(key, []byte{1}))

	var list [][]byte
	require.NoError(t, m.KVGetList(key, &list))
	require.Equal(t, [][]byte{{1}, {2}}, list)

	var empty [][]byte
	require.NoError(t, m.KVGetList([]byte("none"), &empty))
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	db := storage.NewMemDB()
	root := NewManager(db)
	require.NoError(t, root.KVPut([]byte("a"), uint64(1)))

	tx := root.Begin()
	require.True(t, tx.IsOverlay())
	require.NoError(t, tx.KVPut([]byte("a"), uint64(2)))
	require.NoError(t, tx.KVPut([]byte("b"), uint64(3)))

	var v uint64
	_, err := root.KVGet([]byte("a"), &v)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v, "root must not observe uncommitted writes")

	_, err = tx.KVGet([]byte("a"), &v)
	require.NoError(t, err)
	require.Equal(t, uint64(2), v)

	tx.Discard()
	ok, err := root.KVGet([]byte("b"), nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.ErrorIs(t, tx.KVPut([]byte("c"), uint64(1)), ErrClosedOverlay)

	tx = root.Begin()
	require.NoError(t, tx.KVPut([]byte("b"), uint64(3)))
	require.NoError(t, tx.KVDelete([]byte("a")))
	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), ErrClosedOverlay)

	ok, err = root.KVGet([]byte("a"), nil)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = root.KVGet([]byte("b"), &v)
	require.NoError(t, err)
	require.Equal(t, uint64(3), v)

	require.Error(t, root.Commit())
}

func TestNestedOverlay(t *testing.T) {
	root := NewManager(storage.NewMemDB())
	outer := root.Begin()
	inner := outer.Begin()
	require.NoError(t, inner.KVPut([]byte("k"), uint64(7)))
	require.NoError(t, inner.Commit())

	ok, err := root.KVGet([]byte("k"), nil)
	require.NoError(t, err)
	require.False(t, ok, "inner commit must only reach the outer overlay")

	var v uint64
	_, err = outer.KVGet([]byte("k"), &v)
	require.NoError(t, err)
	require.Equal(t, uint64(7), v)

	require.NoError(t, outer.Commit())
	_, err = root.KVGet([]byte("k"), &v)
	require.NoError(t, err)
	require.Equal(t, uint64(7), v)
}

func TestOrderStorage(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	seller := common.HexToAddress("0x03")

	for i := uint64(0); i < 3; i++ {
		id, err := m.OrderNextID()
		require.NoError(t, err)
		require.Equal(t, i, id)
		require.NoError(t, m.OrderPut(testOrder(id, seller)))
	}
	count, err := m.OrderCount()
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)

	order, ok, err := m.OrderGet(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, seller, order.Seller)
	require.Equal(t, marketplace.OrderActive, order.Status)
	require.Equal(t, 0, order.PaidAmount.Sign())

	order.Status = marketplace.OrderInactive
	order.Buyer = common.HexToAddress("0x04")
	order.PaidAmount = big.NewInt(55)
	require.NoError(t, m.OrderPut(order))

	reloaded, _, err := m.OrderGet(1)
	require.NoError(t, err)
	require.True(t, reloaded.Sold())
	require.Equal(t, int64(55), reloaded.PaidAmount.Int64())

	ids, err := m.OrdersBySeller(seller)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, ids)

	_, ok, err = m.OrderGet(99)
	require.NoError(t, err)
	require.False(t, ok)

	bad := testOrder(5, seller)
	bad.USDPrice = big.NewInt(0)
	require.ErrorIs(t, m.OrderPut(bad), marketplace.ErrInvalidPrice)
}

func TestLedgerAndBalances(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	balance, err := m.MarketLedgerBalance()
	require.NoError(t, err)
	require.Equal(t, 0, balance.Sign())

	require.NoError(t, m.MarketLedgerPut(big.NewInt(900)))
	balance, err = m.MarketLedgerBalance()
	require.NoError(t, err)
	require.Equal(t, int64(900), balance.Int64())
	require.Error(t, m.MarketLedgerPut(big.NewInt(-1)))

	addr := common.HexToAddress("0x09")
	require.NoError(t, m.SetAccountBalance(addr, big.NewInt(12)))
	got, err := m.AccountBalance(addr)
	require.NoError(t, err)
	require.Equal(t, int64(12), got.Int64())
	require.NoError(t, m.SetAccountBalance(addr, big.NewInt(0)))
	got, err = m.AccountBalance(addr)
	require.NoError(t, err)
	require.Equal(t, 0, got.Sign())
	require.Error(t, m.SetAccountBalance(common.Address{}, big.NewInt(1)))
}

func TestAssetOwnershipAndApproval(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	asset := common.HexToAddress("0xa1")
	holder := common.HexToAddress("0x03")
	operator := common.HexToAddress("0x02")

	_, ok, err := m.AssetOwner(asset, big.NewInt(1))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.SetAssetOwner(asset, big.NewInt(1), holder))
	owner, ok, err := m.AssetOwner(asset, big.NewInt(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, holder, owner)

	require.NoError(t, m.SetAssetApproval(asset, big.NewInt(1), operator))
	approved, err := m.AssetApproval(asset, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, operator, approved)

	require.NoError(t, m.SetAssetApproval(asset, big.NewInt(1), common.Address{}))
	approved, err = m.AssetApproval(asset, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, common.Address{}, approved)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	m := NewManager(db)
	tx := m.Begin()
	require.NoError(t, tx.MarketLedgerPut(big.NewInt(77)))
	require.NoError(t, tx.Commit())
	require.NoError(t, db.Close())

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	balance, err := NewManager(db).MarketLedgerBalance()
	require.NoError(t, err)
	require.Equal(t, int64(77), balance.Int64())
}
