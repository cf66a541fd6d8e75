package state

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	marketOrderPrefix       = []byte("market/order/")
	marketOrderNextIDKey    = []byte("market/order/next")
	marketSellerIndexPrefix = []byte("market/seller/")
	marketLedgerKey         = []byte("market/ledger")
	accountBalancePrefix    = []byte("bank/balance/")
	assetOwnerPrefix        = []byte("nft/owner/")
	assetApprovalPrefix     = []byte("nft/approval/")
)

func joinKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, p...)
	}
	return buf
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// MarketOrderKey returns the key of the order record with the supplied id.
func MarketOrderKey(id uint64) []byte {
	return joinKey(marketOrderPrefix, encodeUint64(id))
}

// MarketSellerIndexKey returns the key of the seller's order id list.
func MarketSellerIndexKey(seller common.Address) []byte {
	return joinKey(marketSellerIndexPrefix, seller.Bytes())
}

// AccountBalanceKey returns the settlement balance key for addr.
func AccountBalanceKey(addr common.Address) []byte {
	return joinKey(accountBalancePrefix, addr.Bytes())
}

// AssetOwnerKey returns the ownership key of an asset unit.
func AssetOwnerKey(asset common.Address, tokenID *big.Int) []byte {
	return joinKey(assetOwnerPrefix, asset.Bytes(), tokenIDBytes(tokenID))
}

// AssetApprovalKey returns the approval key of an asset unit.
func AssetApprovalKey(asset common.Address, tokenID *big.Int) []byte {
	return joinKey(assetApprovalPrefix, asset.Bytes(), tokenIDBytes(tokenID))
}

func tokenIDBytes(id *big.Int) []byte {
	if id == nil {
		return []byte{0}
	}
	return common.LeftPadBytes(id.Bytes(), 32)
}
