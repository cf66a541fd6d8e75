package marketplace

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetCustodian moves listed assets between their owners and the
// marketplace. Implementations hold no marketplace state.
type AssetCustodian interface {
	// TakeCustody moves the asset from its owner into marketplace custody. It
	// fails when the asset is not transferable from that identity, for example
	// when the marketplace was not approved beforehand.
	TakeCustody(ctx context.Context, asset common.Address, tokenID *big.Int, from common.Address) error
	// ReleaseCustody hands a custodied asset to the recipient.
	ReleaseCustody(ctx context.Context, asset common.Address, tokenID *big.Int, to common.Address) error
}

// Settlement moves settlement currency in and out of the marketplace vault.
type Settlement interface {
	// Address is the vault account that holds collected funds.
	Address() common.Address
	// Collect transfers a buyer's payment into the vault.
	Collect(ctx context.Context, from common.Address, amount *big.Int) error
	// Payout transfers vault funds to the recipient.
	Payout(ctx context.Context, to common.Address, amount *big.Int) error
}
